package upload

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
	multipleSpaces  = regexp.MustCompile(`\s+`)
)

const maxNameLength = 100

// SanitizeFileName turns a client supplied name into something safe to embed
// in a temp file path: whitespace runs become "_", anything outside
// [A-Za-z0-9_.-] is dropped, and the result is capped in length.
func SanitizeFileName(name string) string {
	base := strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == "/" {
		base = ""
	}

	base = multipleSpaces.ReplaceAllString(base, "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")
	base = strings.TrimLeft(base, ".")

	if len(base) > maxNameLength {
		// keep the extension when trimming
		ext := filepath.Ext(base)
		if len(ext) >= maxNameLength {
			ext = ""
		}
		base = base[:maxNameLength-len(ext)] + ext
	}
	if base == "" {
		base = "fallback_filename"
	}
	return base
}

// Key identifies one chunked transfer.
type Key struct {
	// Disambiguator is the session id, joined with the upload id when the
	// client sends one (staged mode), or the upload id or user id (inline
	// mode). It keeps concurrent uploads of equally named files apart.
	Disambiguator string
	FileName      string
}

// Name is the temp file base name: upload_<disambiguator>_<sanitized>.tmp
func (k Key) Name() string {
	d := nonAlphaNumeric.ReplaceAllString(multipleSpaces.ReplaceAllString(strings.TrimSpace(k.Disambiguator), "_"), "")
	if d == "" {
		d = "anon"
	}
	return "upload_" + d + "_" + SanitizeFileName(k.FileName) + ".tmp"
}
