package output

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TextWriter prints an aligned table, one row per summary, on Close.
type TextWriter struct {
	tw     *tabwriter.Writer
	header bool
}

// NewTextWriter creates a table writer.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

// Write adds a row for s.
func (w *TextWriter) Write(s Summary) error {
	if !w.header {
		w.header = true
		if _, err := fmt.Fprintln(w.tw, "DOMAIN\tRESULT\tSTAGE\tSTATUS\tSIZE\tURL\tTITLE"); err != nil {
			return err
		}
	}

	var err error
	if s.OK {
		_, err = fmt.Fprintf(w.tw, "%s\tok\t%s\t%d\t%s\t%s\t%s\n",
			s.Domain, s.Stage, s.Status, s.Size, s.URL, truncate(s.Title, 60))
	} else {
		result := s.ErrorKind
		if result == "" {
			result = "error"
		}
		_, err = fmt.Fprintf(w.tw, "%s\t%s\t-\t-\t-\t-\t%s\n", s.Domain, result, truncate(s.Error, 80))
	}
	return err
}

// Close flushes the table.
func (w *TextWriter) Close() error {
	return w.tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
