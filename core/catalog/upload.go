package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/logger"
)

// Upload types understood by /obtain-signed-url-for-upload/.
const (
	UploadTypeTrack           = "track"
	UploadTypeReleaseArtwork  = "release_artwork"
	UploadTypeUserDeclaration = "release_user_declaration"
)

// Slot is a pre-signed POST target.
type Slot struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

type slotResponse struct {
	SignedURL Slot `json:"signed_url"`
}

// RequestUploadSlot asks the catalog for a signed upload target.
func (c *Client) RequestUploadSlot(ctx context.Context, fileName, mimeType, uploadType string) (*Slot, error) {
	q := url.Values{}
	q.Set("filename", fileName)
	q.Set("filetype", mimeType)
	q.Set("upload_type", uploadType)

	var resp slotResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/obtain-signed-url-for-upload/", query: q}, &resp); err != nil {
		return nil, err
	}
	if resp.SignedURL.URL == "" {
		return nil, apperr.ExternalAPI(http.StatusOK, "", fmt.Errorf("signed url missing for %s", fileName))
	}
	return &resp.SignedURL, nil
}

// UploadBinary posts the slot fields plus the file to the signed URL and
// returns the normalised resource path of the stored object. size may be -1
// when unknown.
func (c *Client) UploadBinary(ctx context.Context, slot *Slot, fileName string, r io.Reader, size int64) (string, error) {
	var head bytes.Buffer
	mw := multipart.NewWriter(&head)

	keys := make([]string, 0, len(slot.Fields))
	for k := range slot.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, slot.Fields[k]); err != nil {
			return "", apperr.Internal(fmt.Errorf("write field %s: %w", k, err))
		}
	}
	// the object store expects the file as the last part
	if _, err := mw.CreateFormFile("file", fileName); err != nil {
		return "", apperr.Internal(fmt.Errorf("create file part: %w", err))
	}
	prefixLen := head.Len()
	if err := mw.Close(); err != nil {
		return "", apperr.Internal(fmt.Errorf("close multipart: %w", err))
	}
	prefix := head.Bytes()[:prefixLen]
	suffix := head.Bytes()[prefixLen:]

	body := io.MultiReader(bytes.NewReader(prefix), r, bytes.NewReader(suffix))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slot.URL, body)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("build upload request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if size >= 0 {
		req.ContentLength = int64(len(prefix)) + size + int64(len(suffix))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("binary upload failed", logger.String("file", fileName), logger.ErrorField(err))
		return "", apperr.ExternalAPI(0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		logger.Warn("object store rejected upload",
			logger.String("file", fileName),
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(respBody), 512)))
		return "", apperr.ExternalAPI(resp.StatusCode, string(respBody),
			fmt.Errorf("upload %s: unexpected status %d", fileName, resp.StatusCode))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return NormalizeResourcePath(objectURL(slot, fileName)), nil
}

// objectURL is where the object store keeps the upload: the slot URL joined
// with its key field.
func objectURL(slot *Slot, fileName string) string {
	key := strings.ReplaceAll(slot.Fields["key"], "${filename}", fileName)
	if key == "" {
		return slot.URL
	}
	return strings.TrimRight(slot.URL, "/") + "/" + strings.TrimLeft(key, "/")
}

// NormalizeResourcePath strips scheme, host and query from a stored object URL
// together with a leading "/" and "media/" prefix.
func NormalizeResourcePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		path = raw[:i]
	}
	path = strings.TrimLeft(path, "/")
	path = strings.TrimPrefix(path, "media/")
	return path
}
