package output

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// Summary is the printable outcome of one fetch.
type Summary struct {
	Domain string `json:"domain" yaml:"domain"`
	OK     bool   `json:"ok" yaml:"ok"`

	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Status  int    `json:"status,omitempty" yaml:"status,omitempty"`
	Stage   string `json:"stage,omitempty" yaml:"stage,omitempty"`
	Server  string `json:"server,omitempty" yaml:"server,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Bytes   int    `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Size    string `json:"size,omitempty" yaml:"size,omitempty"`
	Links   int    `json:"links,omitempty" yaml:"links,omitempty"`
	Fetched string `json:"fetched_at,omitempty" yaml:"fetched_at,omitempty"`

	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	Duration string `json:"duration" yaml:"duration"`

	Text string `json:"text,omitempty" yaml:"text,omitempty"`
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

// SummaryOption adds optional content to a Summary.
type SummaryOption func(*Summary, *fetcher.Document)

// WithText includes the readable page text.
func WithText() SummaryOption {
	return func(s *Summary, d *fetcher.Document) {
		s.Text = d.Text
	}
}

// WithBody includes the raw body.
func WithBody() SummaryOption {
	return func(s *Summary, d *fetcher.Document) {
		s.Body = string(d.Body)
	}
}

// Summarize builds the Summary of a fetch of domain that returned doc or err.
func Summarize(domain string, doc *fetcher.Document, err error, elapsed time.Duration, opts ...SummaryOption) Summary {
	s := Summary{
		Domain:   domain,
		Duration: elapsed.Round(time.Millisecond).String(),
	}

	if err != nil {
		s.Error = err.Error()
		if kind, ok := fetcher.KindOf(err); ok {
			s.ErrorKind = kind.String()
		} else if errors.Is(err, context.Canceled) {
			s.ErrorKind = "cancelled"
		} else if errors.Is(err, context.DeadlineExceeded) {
			s.ErrorKind = "timeout"
		}
		return s
	}
	if doc == nil {
		return s
	}

	s.OK = true
	s.URL = doc.URL
	s.Status = doc.StatusCode
	s.Stage = doc.Stage
	s.Title = doc.Title
	s.Bytes = len(doc.Body)
	s.Size = humanize.Bytes(uint64(len(doc.Body)))
	s.Links = len(doc.Links)
	if doc.Header != nil {
		s.Server = doc.Header.Get("Server")
	}
	if !doc.FetchedAt.IsZero() {
		s.Fetched = doc.FetchedAt.UTC().Format(time.RFC3339)
	}
	for _, opt := range opts {
		opt(&s, doc)
	}
	return s
}
