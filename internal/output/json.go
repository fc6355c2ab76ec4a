package output

import (
	"bufio"
	"encoding/json"
	"io"
)

// JSONWriter prints all summaries on Close: one object for a single fetch,
// an array otherwise.
type JSONWriter struct {
	w       *bufio.Writer
	pretty  bool
	indent  string
	items   []Summary
	flushed bool
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
	}
}

// Write buffers s.
func (w *JSONWriter) Write(s Summary) error {
	w.items = append(w.items, s)
	return nil
}

// Close writes the buffered summaries. Later calls are no-ops.
func (w *JSONWriter) Close() error {
	if w.flushed {
		return nil
	}
	w.flushed = true

	var v any = w.items
	if len(w.items) == 1 {
		v = w.items[0]
	}

	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if w.pretty {
		enc.SetIndent("", w.indent)
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.w.Flush()
}

// JSONLWriter writes one JSON line per summary as it arrives.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Write writes s as a JSON line and flushes.
func (w *JSONLWriter) Write(s Summary) error {
	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.w.Flush()
}
