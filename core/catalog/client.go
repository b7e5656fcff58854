// Package catalog talks to the external distribution API: signed-URL uploads,
// track registration and release/artist management.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labelpanel/core/apperr"
	"labelpanel/logger"
)

// Config holds the connection settings of the distribution API.
type Config struct {
	BaseURL string
	APIKey  string
	Referer string
	Timeout time.Duration

	// Token is a static API token; when empty the client logs in with
	// Username/Password and caches the token until it expires.
	Token    string
	Username string
	Password string
}

// Client 分发平台 API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	referer    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient builds a client. A nil tokens picks a TokenSource from cfg.
func NewClient(cfg Config, tokens TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		referer:    cfg.Referer,
		httpClient: &http.Client{Timeout: timeout},
	}
	switch {
	case tokens != nil:
		c.tokens = tokens
	case cfg.Token != "":
		c.tokens = StaticToken(cfg.Token)
	default:
		c.tokens = NewCachedTokenSource(c.passwordLogin(cfg.Username, cfg.Password))
	}
	return c
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	req.Header.Set("Accept", "application/json")
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	headers map[string]string
	// anonymous skips the Authorization header (login)
	anonymous bool
}

// do sends an API request and decodes a 2xx JSON answer into out.
// Anything else becomes an ExternalApiError carrying the upstream body.
func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return apperr.Internal(fmt.Errorf("encode %s %s body: %w", r.method, r.path, err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return apperr.Internal(fmt.Errorf("build %s %s: %w", r.method, r.path, err))
	}
	c.setCommonHeaders(req)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if !r.anonymous {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "JWT "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("catalog request failed",
			logger.String("method", r.method),
			logger.String("path", r.path),
			logger.ErrorField(err))
		return apperr.ExternalAPI(0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.ExternalAPI(resp.StatusCode, "", fmt.Errorf("read %s %s response: %w", r.method, r.path, err))
	}

	logger.Debug("catalog request",
		logger.String("method", r.method),
		logger.String("path", r.path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized && !r.anonymous {
			// next call logs in again
			c.tokens.Invalidate()
		}
		logger.Warn("catalog returned an error",
			logger.String("method", r.method),
			logger.String("path", r.path),
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(respBody), 512)))
		return apperr.ExternalAPI(resp.StatusCode, string(respBody),
			fmt.Errorf("%s %s: unexpected status %d", r.method, r.path, resp.StatusCode))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.ExternalAPI(resp.StatusCode, string(respBody),
			fmt.Errorf("decode %s %s response: %w", r.method, r.path, err))
	}
	return nil
}

func externalMissingID(entity, name string) error {
	return apperr.ExternalAPI(http.StatusOK, "", fmt.Errorf("%s %q created without id", entity, name))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
