// Package codec converts binary payloads to and from their base64
// transport form.
package codec

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// DecodeBase64 decodes s after stripping an optional data URL prefix.
// Everything up to the first comma is treated as the prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	if s == "" {
		return nil, pipeline.InvalidPayload("empty base64 data")
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return b, nil
	}
	return nil, errors.Wrapf(pipeline.ErrInvalidPayload, "base64: %v", err)
}

// EncodeDataURL returns b as a data URL of the given media type
func EncodeDataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// MediaType returns the media type of a data URL, or "" when s has none
func MediaType(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	end := strings.IndexAny(s, ";,")
	if end < 0 {
		return ""
	}
	return s[len("data:"):end]
}
