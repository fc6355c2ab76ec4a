package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/idna"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// DefaultMaxBodySize caps the direct response body.
const DefaultMaxBodySize = 10 * 1024 * 1024

// DirectConnector makes first contact with a domain using colly, trying
// https before http.
type DirectConnector struct {
	Headers     *headers.Generator
	MaxBodySize int            // 0 means unlimited
	RootCAs     *x509.CertPool // nil uses the system roots
}

// NewDirectConnector creates a connector drawing header sets from gen.
func NewDirectConnector(gen *headers.Generator) *DirectConnector {
	return &DirectConnector{Headers: gen, MaxBodySize: DefaultMaxBodySize}
}

// Connect tries https://domain then http://domain. The first 200 response
// resolves fc and is returned. A 200 whose body exceeds MaxBodySize still
// resolves fc but yields a KindParse error wrapping ErrBodyTooLarge. When
// neither scheme works the error is KindNotReachable.
func (d *DirectConnector) Connect(ctx context.Context, fc *FetchContext) (*Response, error) {
	log := logger.FromContext(ctx).With("stage", StageDirect)

	host, err := NormalizeDomain(fc.Domain)
	if err != nil {
		return nil, NewError(KindNotReachable, StageDirect, fc, 0, err)
	}

	var lastErr error
	lastStatus := 0
	for _, scheme := range []string{"https", "http"} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target := scheme + "://" + host
		set, err := d.Headers.Pick(target)
		if err != nil {
			return nil, NewError(KindNotReachable, StageDirect, fc, 0, err)
		}

		resp, err := d.get(ctx, target, set, scheme == "https", fc.Timeouts.Connect)
		if errors.Is(err, ErrBodyTooLarge) && resp.StatusCode == http.StatusOK {
			if err := fc.Resolve(target, set); err != nil {
				return nil, err
			}
			log.Debug("direct body too large", "url", target, "limit", d.MaxBodySize)
			return nil, NewError(KindParse, StageDirect, fc, resp.StatusCode, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("direct connect failed", "url", target, "error", err)
			lastErr, lastStatus = err, 0
			continue
		}
		if resp.StatusCode != http.StatusOK {
			log.Debug("direct connect bad status", "url", target, "status", resp.StatusCode)
			lastErr, lastStatus = nil, resp.StatusCode
			continue
		}

		if err := fc.Resolve(target, set); err != nil {
			return nil, err
		}
		log.Debug("direct connect succeeded",
			"url", target,
			"final_url", resp.URL,
			"server", resp.Header.Get("Server"),
			"body_size", len(resp.Body))
		return resp, nil
	}

	return nil, NewError(KindNotReachable, StageDirect, fc, lastStatus, lastErr)
}

// get issues one GET through a fresh collector. The transport is closed on
// return. An oversized body is returned with ErrBodyTooLarge.
func (d *DirectConnector) get(ctx context.Context, target string, set headers.Set, secure bool, timeout time.Duration) (*Response, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{RootCAs: d.RootCAs, InsecureSkipVerify: !secure}, //nolint:gosec // http branch only
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
	}
	defer transport.CloseIdleConnections()

	// One byte past the limit tells a full body from a truncated one.
	maxBody := d.MaxBodySize
	if maxBody > 0 {
		maxBody++
	}

	c := colly.NewCollector(
		colly.UserAgent(set["User-Agent"]),
		colly.StdlibContext(ctx),
		colly.MaxBodySize(maxBody),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(transport)
	c.SetRequestTimeout(timeout)
	c.ParseHTTPErrorResponse = true

	// Accept-Encoding is left to the transport so bodies arrive decoded.
	c.OnRequest(func(r *colly.Request) {
		set.Apply(*r.Headers, "Accept-Encoding")
	})

	var result *Response
	c.OnResponse(func(r *colly.Response) {
		result = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
		if r.Headers != nil {
			result.Header = r.Headers.Clone()
		}
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", target, err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, errors.New("no response")
	}
	if d.MaxBodySize > 0 && len(result.Body) > d.MaxBodySize {
		return result, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, d.MaxBodySize)
	}
	return result, nil
}

// NormalizeDomain strips any scheme, path and trailing dot from domain and
// returns the ASCII (punycode) host, keeping an explicit port.
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSpace(domain)
	lower := strings.ToLower(d)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			d = d[len(prefix):]
			break
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}

	host, port := d, ""
	if h, p, err := net.SplitHostPort(d); err == nil {
		host, port = h, p
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("empty domain %q", domain)
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if port != "" {
		return net.JoinHostPort(ascii, port), nil
	}
	return ascii, nil
}
