package fetcher

import (
	"errors"
	"testing"

	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// --- FetchContext Tests ---

func TestFetchContext_Resolve_Once(t *testing.T) {
	fc := NewFetchContext("example.com", false, DefaultTimeouts())
	if fc.Resolved() {
		t.Fatal("new context should not be resolved")
	}

	if err := fc.Resolve("https://example.com", headers.Set{"User-Agent": "a"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	err := fc.Resolve("http://example.com", headers.Set{"User-Agent": "b"})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve() error = %v, want ErrAlreadyResolved", err)
	}

	if fc.URL() != "https://example.com" {
		t.Errorf("URL() = %q, want first resolved URL", fc.URL())
	}
	if fc.Headers()["User-Agent"] != "a" {
		t.Errorf("Headers() should keep the first set, got %v", fc.Headers())
	}
}

func TestFetchContext_Headers_ReturnsCopy(t *testing.T) {
	fc := NewFetchContext("example.com", false, DefaultTimeouts())
	set := headers.Set{"User-Agent": "a"}
	_ = fc.Resolve("https://example.com", set)

	set["User-Agent"] = "mutated"
	h := fc.Headers()
	h["User-Agent"] = "also mutated"

	if fc.Headers()["User-Agent"] != "a" {
		t.Errorf("context headers changed through a copy: %v", fc.Headers())
	}
}

func TestFetchContext_EncodedURL(t *testing.T) {
	fc := NewFetchContext("example.com", false, DefaultTimeouts())
	_ = fc.Resolve("https://example.com/a b?x=1&y=~_.-", nil)

	want := "https%3A%2F%2Fexample.com%2Fa%20b%3Fx%3D1%26y%3D~_.-"
	if fc.EncodedURL() != want {
		t.Errorf("EncodedURL() = %q, want %q", fc.EncodedURL(), want)
	}
}

func TestDefaultTimeouts_ServiceLargest(t *testing.T) {
	to := DefaultTimeouts()
	if to.Service <= to.Tool || to.Service <= to.Connect {
		t.Errorf("service timeout should be the largest: %+v", to)
	}
}
