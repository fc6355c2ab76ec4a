package fetcher

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// ErrAlreadyResolved is returned when a FetchContext is resolved twice.
var ErrAlreadyResolved = errors.New("fetch context already resolved")

// Timeouts are the per-stage budgets of one fetch.
type Timeouts struct {
	Connect time.Duration `mapstructure:"connect" validate:"gt=0"`
	Tool    time.Duration `mapstructure:"tool" validate:"gt=0"`
	Service time.Duration `mapstructure:"service" validate:"gt=0"`
}

// DefaultTimeouts returns the connect/tool/service budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Tool:    30 * time.Second,
		Service: 60 * time.Second,
	}
}

// FetchContext is the state of one fetch invocation. The inputs are fixed
// at construction; the resolved URL and headers are written exactly once by
// the direct connector and read by every later stage.
//
// A FetchContext belongs to a single call and must not be shared.
type FetchContext struct {
	Domain          string
	ForceRemoteOnly bool
	Timeouts        Timeouts

	resolved bool
	url      string
	encoded  string
	headers  headers.Set
}

// NewFetchContext creates the context for one fetch of domain.
func NewFetchContext(domain string, forceRemoteOnly bool, timeouts Timeouts) *FetchContext {
	return &FetchContext{
		Domain:          domain,
		ForceRemoteOnly: forceRemoteOnly,
		Timeouts:        timeouts,
	}
}

// Resolve records the working URL and the header set that reached it.
func (fc *FetchContext) Resolve(rawURL string, set headers.Set) error {
	if fc.resolved {
		return ErrAlreadyResolved
	}
	fc.resolved = true
	fc.url = rawURL
	fc.encoded = EncodeURL(rawURL)
	fc.headers = set.Clone()
	return nil
}

// Resolved reports whether the direct connector has succeeded.
func (fc *FetchContext) Resolved() bool { return fc.resolved }

// URL returns the resolved URL, or "" before resolution.
func (fc *FetchContext) URL() string { return fc.url }

// EncodedURL returns the resolved URL percent-encoded with no safe
// characters, suitable as a query parameter value.
func (fc *FetchContext) EncodedURL() string { return fc.encoded }

// Headers returns a copy of the chosen header set.
func (fc *FetchContext) Headers() headers.Set { return fc.headers.Clone() }

// EncodeURL percent-encodes every byte of s outside the unreserved set.
func EncodeURL(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
