// Package fetcher defines the shared vocabulary of the acquisition pipeline:
// the per-invocation FetchContext, raw responses and parsed documents, the
// error taxonomy, response classification and the direct first-contact
// connector.
//
// Implement the Strategy interface to add bypass stages with their own
// anti-bot evasion or remote rendering.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stage names used in logs, errors and documents.
const (
	StageDirect = "direct"
)

// Strategy is one escalation stage. Attempt fetches fc.URL() with the
// headers chosen by the direct connector.
type Strategy interface {
	// Name identifies the stage (e.g. "impersonate", "scrapingant").
	Name() string

	// Attempt returns the stage's raw response or an *Error whose Kind
	// belongs to the tool or service family.
	Attempt(ctx context.Context, fc *FetchContext) (*Response, error)
}

// Connector performs first contact with a domain and resolves fc on success.
type Connector interface {
	Connect(ctx context.Context, fc *FetchContext) (*Response, error)
}

// Response is a raw response returned by any stage.
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Server returns the Server header, lower-cased.
func (r *Response) Server() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return strings.ToLower(r.Header.Get("Server"))
}

// ErrBodyTooLarge is returned when a response body exceeds its size limit.
// Truncated bodies are never handed on as complete pages.
var ErrBodyTooLarge = errors.New("response body too large")

// ReadLimited reads r to the end. It fails with ErrBodyTooLarge when r holds
// more than limit bytes. A limit <= 0 means unlimited.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
