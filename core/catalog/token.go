package catalog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"labelpanel/core/apperr"
	"labelpanel/logger"
)

// TokenSource supplies the token sent as "Authorization: JWT <token>".
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops a cached token the API rejected.
	Invalidate()
}

// StaticToken is a configured, never refreshed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

func (StaticToken) Invalidate() {}

// LoginFunc obtains a fresh token.
type LoginFunc func(ctx context.Context) (string, error)

const (
	defaultTokenSkew = time.Minute
	// used when the token carries no exp claim
	defaultTokenTTL = time.Hour
)

// CachedTokenSource logs in lazily and reuses the token until shortly before
// its exp claim. Concurrent callers share a single login.
type CachedTokenSource struct {
	login LoginFunc
	skew  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewCachedTokenSource(login LoginFunc) *CachedTokenSource {
	return &CachedTokenSource{login: login, skew: defaultTokenSkew, now: time.Now}
}

func (s *CachedTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.skew).Before(s.expires) {
		return s.token, nil
	}

	token, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = tokenExpiry(token, s.now())

	logger.Info("catalog token refreshed", logger.Any("expires", s.expires))
	return token, nil
}

func (s *CachedTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expires = time.Time{}
	s.mu.Unlock()
}

// tokenExpiry reads exp without verifying the signature: the key belongs to
// the catalog, we only need to know when to log in again.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return now.Add(defaultTokenTTL)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return now.Add(defaultTokenTTL)
	}
	return exp.Time
}

type loginResponse struct {
	Token  string `json:"token"`
	Access string `json:"access"`
}

func (c *Client) passwordLogin(username, password string) LoginFunc {
	return func(ctx context.Context) (string, error) {
		if username == "" {
			return "", apperr.ExternalAPI(http.StatusUnauthorized, "",
				errors.New("no catalog credentials configured"))
		}
		var resp loginResponse
		err := c.do(ctx, request{
			method:    http.MethodPost,
			path:      "/api-token-auth/",
			body:      map[string]string{"username": username, "password": password},
			anonymous: true,
		}, &resp)
		if err != nil {
			return "", err
		}
		token := resp.Token
		if token == "" {
			token = resp.Access
		}
		if token == "" {
			return "", apperr.ExternalAPI(http.StatusOK, "", errors.New("login response without token"))
		}
		return token, nil
	}
}
