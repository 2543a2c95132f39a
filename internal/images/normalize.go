// Package images canonicalizes the image values Omie returns: URLs, data URIs or bare base64.
package images

import (
	"regexp"
	"strings"
)

const (
	jpegDataPrefix = "data:image/jpeg;base64,"

	// Shorter values are too likely to be codes or file names.
	minBase64Len = 100
)

var base64Body = regexp.MustCompile(`^[A-Za-z0-9+/\r\n]+={0,2}$`)

// Normalize returns nil for a missing or blank value, and otherwise the value in a form
// a browser can render. It never fails and Normalize(Normalize(v)) == Normalize(v).
func Normalize(raw *string) *string {
	if raw == nil {
		return nil
	}
	s, ok := NormalizeString(*raw)
	if !ok {
		return nil
	}
	return &s
}

// NormalizeString is Normalize for plain strings; ok is false for blank input.
func NormalizeString(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:image/") {
		return raw, true
	}
	if len(raw) >= minBase64Len && base64Body.MatchString(raw) {
		return jpegDataPrefix + raw, true
	}
	return raw, true
}
