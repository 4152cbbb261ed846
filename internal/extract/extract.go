// Package extract turns timetable images and PDFs into structured entries
// by delegating to a hosted vision model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"timetablecal/internal/model"
)

var (
	// ErrNotConfigured is returned when no provider credentials are set.
	ErrNotConfigured = errors.New("extract: provider is not configured")
	// ErrEmptyResponse is returned when the provider answers with no text.
	ErrEmptyResponse = errors.New("extract: provider response was empty or malformed")

	ErrNoFile          = errors.New("no selected file")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedMIME = errors.New("unsupported file type")
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes = 4 << 20

// Upload is one file handed to an Extractor.
type Upload struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Extractor turns an uploaded timetable into raw entries.
type Extractor interface {
	Extract(ctx context.Context, up Upload) ([]model.Entry, error)
}

// ProviderError wraps a failure reported by the remote model provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidateUpload checks size and type before anything is sent out.
// maxBytes <= 0 selects DefaultMaxBytes. The MIME type is sniffed from the
// content when the client did not send one.
func ValidateUpload(up *Upload, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if up.Filename == "" && len(up.Data) == 0 {
		return ErrNoFile
	}
	if len(up.Data) == 0 {
		return fmt.Errorf("%w: file is empty", ErrNoFile)
	}
	if int64(len(up.Data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(up.Data), maxBytes)
	}

	mt := strings.ToLower(strings.TrimSpace(up.MIMEType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = strings.SplitN(http.DetectContentType(up.Data), ";", 2)[0]
	}
	if !strings.HasPrefix(mt, "image/") && mt != "application/pdf" {
		return fmt.Errorf("%w: %s", ErrUnsupportedMIME, mt)
	}
	up.MIMEType = mt
	return nil
}

// rawEntry accepts any JSON value per field so that a model answering with
// a number or null does not fail the whole decode.
type rawEntry struct {
	Day      any `json:"day"`
	Time     any `json:"time"`
	Subject  any `json:"subject"`
	Location any `json:"location"`
}

// DecodeEntries parses the model's JSON answer. Markdown code fences are
// stripped first. A JSON value that is not an array decodes to no entries;
// missing fields become empty strings.
func DecodeEntries(text string) ([]model.Entry, error) {
	text = stripFences(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}
	if _, ok := probe.([]any); !ok {
		return []model.Entry{}, nil
	}

	var raw []rawEntry
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}

	out := make([]model.Entry, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.Entry{
			Day:      str(r.Day),
			Time:     str(r.Time),
			Subject:  str(r.Subject),
			Location: str(r.Location),
		})
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
