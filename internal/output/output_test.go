package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

func testDoc() *fetcher.Document {
	h := http.Header{}
	h.Set("Server", "nginx")
	return &fetcher.Document{
		URL:        "https://example.com/",
		StatusCode: 200,
		Header:     h,
		Body:       bytes.Repeat([]byte("a"), 2048),
		Title:      "Example <Shop>",
		Text:       "hello world",
		Links:      []string{"https://example.com/a", "https://example.com/b"},
		Stage:      "direct",
		FetchedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func okSummary() Summary {
	return Summarize("example.com", testDoc(), nil, 1234*time.Millisecond)
}

func failedSummary() Summary {
	err := fetcher.NewError(fetcher.KindNotReachable, fetcher.StageDirect, fetcher.NewFetchContext("offline.test", false, fetcher.DefaultTimeouts()), 0, nil)
	return Summarize("offline.test", nil, err, time.Second)
}

// --- Summarize Tests ---

func TestSummarize_Success(t *testing.T) {
	s := okSummary()

	if !s.OK || s.Stage != "direct" || s.Status != 200 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Bytes != 2048 || s.Size != "2.0 kB" {
		t.Errorf("size = %d %q", s.Bytes, s.Size)
	}
	if s.Links != 2 || s.Server != "nginx" || s.Title != "Example <Shop>" {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Fetched != "2026-01-02T03:04:05Z" || s.Duration != "1.234s" {
		t.Errorf("times = %q %q", s.Fetched, s.Duration)
	}
	if s.Text != "" || s.Body != "" {
		t.Error("text and body included without options")
	}
}

func TestSummarize_Options(t *testing.T) {
	s := Summarize("example.com", testDoc(), nil, 0, WithText(), WithBody())
	if s.Text != "hello world" || len(s.Body) != 2048 {
		t.Errorf("text=%q body=%d", s.Text, len(s.Body))
	}
}

func TestSummarize_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"fetch error", failedSummaryErr(fetcher.KindPhishingFlagged), "phishing_flagged"},
		{"wrapped fetch error", fmt.Errorf("batch: %w", failedSummaryErr(fetcher.KindNotScrapable)), "not_scrapable"},
		{"cancelled", context.Canceled, "cancelled"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"plain", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize("example.com", nil, tt.err, 0)
			if s.OK {
				t.Error("failed fetch marked ok")
			}
			if s.ErrorKind != tt.want {
				t.Errorf("ErrorKind = %q, want %q", s.ErrorKind, tt.want)
			}
			if s.Error != tt.err.Error() {
				t.Errorf("Error = %q", s.Error)
			}
		})
	}
}

func failedSummaryErr(kind fetcher.Kind) error {
	return fetcher.NewError(kind, "", nil, 0, nil)
}

// --- NewWriter Factory Tests ---

func TestNewWriter_Formats(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatText, "*output.TextWriter"},
		{"", "*output.TextWriter"},
		{FormatJSON, "*output.JSONWriter"},
		{FormatJSONL, "*output.JSONLWriter"},
		{FormatYAML, "*output.YAMLWriter"},
	}
	for _, tt := range tests {
		w, err := NewWriter(&bytes.Buffer{}, tt.format)
		if err != nil {
			t.Fatalf("NewWriter(%q) error = %v", tt.format, err)
		}
		if got := fmt.Sprintf("%T", w); got != tt.want {
			t.Errorf("NewWriter(%q) = %s, want %s", tt.format, got, tt.want)
		}
	}
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, Format("xml"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected error containing 'unsupported', got %v", err)
	}
}

// --- JSONWriter Tests ---

func TestJSONWriter_SingleSummaryIsObject(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, true, "  ")

	if err := w.Write(okSummary()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got Summary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if got.Domain != "example.com" || !got.OK || got.Links != 2 {
		t.Errorf("unexpected result: %+v", got)
	}
	if !strings.Contains(buf.String(), "Example <Shop>") {
		t.Error("HTML in title was escaped")
	}
	if !strings.Contains(buf.String(), "\n  \"domain\"") {
		t.Errorf("expected indented output, got %s", buf.String())
	}
}

func TestJSONWriter_MultipleSummariesIsArray(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	_ = w.Write(okSummary())
	_ = w.Write(failedSummary())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got []Summary
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if len(got) != 2 || got[1].ErrorKind != "not_reachable" {
		t.Errorf("unexpected result: %+v", got)
	}
	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 1 {
		t.Errorf("expected single line in compact output, got %d lines", len(lines))
	}
}

func TestJSONWriter_CloseTwice(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	_ = w.Write(okSummary())
	_ = w.Close()
	n := buf.Len()
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if buf.Len() != n {
		t.Error("second Close() wrote again")
	}
}

func TestJSONWriter_OmitsEmptyFields(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONWriter(buf, false, "")
	_ = w.Write(failedSummary())
	_ = w.Close()

	for _, key := range []string{`"url"`, `"title"`, `"body"`, `"links"`} {
		if strings.Contains(buf.String(), key) {
			t.Errorf("failed summary contains %s: %s", key, buf.String())
		}
	}
	if !strings.Contains(buf.String(), `"ok":false`) {
		t.Errorf("ok flag missing: %s", buf.String())
	}
}

// --- JSONLWriter Tests ---

func TestJSONLWriter_WritesImmediately(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewJSONLWriter(buf)

	if err := w.Write(okSummary()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("JSONL output was buffered")
	}
	_ = w.Write(failedSummary())
	_ = w.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, line := range lines {
		var s Summary
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			t.Errorf("line %d: %v", i, err)
		}
	}
}

// --- YAMLWriter Tests ---

func TestYAMLWriter_Documents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewYAMLWriter(buf)
	_ = w.Write(okSummary())
	_ = w.Write(failedSummary())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf.Bytes()))
	var docs []Summary
	for {
		var s Summary
		if err := dec.Decode(&s); err != nil {
			break
		}
		docs = append(docs, s)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d:\n%s", len(docs), buf.String())
	}
	if docs[0].Stage != "direct" || docs[1].ErrorKind != "not_reachable" {
		t.Errorf("unexpected documents: %+v", docs)
	}
	if !strings.Contains(buf.String(), "fetched_at: \"2026-01-02T03:04:05Z\"") &&
		!strings.Contains(buf.String(), "fetched_at: 2026-01-02T03:04:05Z") {
		t.Errorf("fetched_at missing:\n%s", buf.String())
	}
}

// --- TextWriter Tests ---

func TestTextWriter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)
	_ = w.Write(okSummary())
	_ = w.Write(failedSummary())
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "DOMAIN") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "direct") || !strings.Contains(lines[1], "2.0 kB") {
		t.Errorf("ok row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "not_reachable") {
		t.Errorf("failed row = %q", lines[2])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("äöüäöüäöü", 6); got != "äöü..." {
		t.Errorf("truncate() = %q", got)
	}
}
