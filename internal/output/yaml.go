package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes one YAML document per summary.
type YAMLWriter struct {
	w   *bufio.Writer
	enc *yaml.Encoder
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	bw := bufio.NewWriter(w)
	enc := yaml.NewEncoder(bw)
	enc.SetIndent(2)
	return &YAMLWriter{w: bw, enc: enc}
}

// Write encodes s as a new document.
func (w *YAMLWriter) Write(s Summary) error {
	if err := w.enc.Encode(s); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close ends the stream.
func (w *YAMLWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return err
	}
	return w.w.Flush()
}
