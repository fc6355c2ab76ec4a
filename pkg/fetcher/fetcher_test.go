package fetcher

import (
	"errors"
	"strings"
	"testing"
)

// --- ReadLimited Tests ---

func TestReadLimited(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{"under limit", "abc", 10, false},
		{"at limit", "abcdefghij", 10, false},
		{"one over", "abcdefghijk", 10, true},
		{"unlimited", strings.Repeat("a", 4096), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadLimited(strings.NewReader(tt.body), tt.limit)
			if tt.wantErr {
				if !errors.Is(err, ErrBodyTooLarge) {
					t.Errorf("error = %v, want ErrBodyTooLarge", err)
				}
				if got != nil {
					t.Errorf("partial body returned: %d bytes", len(got))
				}
				return
			}
			if err != nil || string(got) != tt.body {
				t.Errorf("ReadLimited() = %d bytes, %v", len(got), err)
			}
		})
	}
}
