// Package bypass holds the local escalation stages: a browser-impersonating
// HTTP client, a web archive reader and a FlareSolverr client.
package bypass

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// Stage names.
const (
	StageImpersonate  = "impersonate"
	StageArchive      = "archive"
	StageFlareSolverr = "flaresolverr"
)

const (
	defaultMaxRedirects = 10
	defaultMaxBodySize  = 10 * 1024 * 1024
)

// Impersonator re-requests the resolved URL with a TLS ClientHello and
// HTTP/2 settings matching the browser named by the chosen User-Agent.
type Impersonator struct {
	ProxyURL     string         // optional http(s):// or socks5:// egress proxy
	RootCAs      *x509.CertPool // nil uses the system roots
	MaxRedirects int
	MaxBodySize  int64
}

// NewImpersonator creates an Impersonator, optionally egressing via proxyURL.
func NewImpersonator(proxyURL string) *Impersonator {
	return &Impersonator{
		ProxyURL:     proxyURL,
		MaxRedirects: defaultMaxRedirects,
		MaxBodySize:  defaultMaxBodySize,
	}
}

// Name implements fetcher.Strategy.
func (im *Impersonator) Name() string { return StageImpersonate }

// Attempt implements fetcher.Strategy. Anything but a final 200 is a
// KindBypassClient error.
func (im *Impersonator) Attempt(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Response, error) {
	if fc.Timeouts.Tool > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fc.Timeouts.Tool)
		defer cancel()
	}

	set := fc.Headers()
	resp, err := im.Do(ctx, fc.URL(), set)
	if err != nil {
		return nil, fetcher.NewError(fetcher.KindBypassClient, StageImpersonate, fc, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetcher.NewError(fetcher.KindBypassClient, StageImpersonate, fc, resp.StatusCode, nil)
	}
	return resp, nil
}

// Do performs a GET of rawURL with set, following redirects.
func (im *Impersonator) Do(ctx context.Context, rawURL string, set headers.Set) (*fetcher.Response, error) {
	log := logger.FromContext(ctx).With("stage", StageImpersonate)

	maxRedirects := im.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}

	current := rawURL
	visited := make(map[string]bool)
	for redirects := 0; ; redirects++ {
		if visited[current] {
			return nil, fmt.Errorf("redirect loop at %s", current)
		}
		visited[current] = true

		u, err := url.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}

		resp, err := im.once(ctx, u, set)
		if err != nil {
			return nil, err
		}
		log.Debug("impersonated request", "url", current, "status", resp.StatusCode, "proto", resp.Proto)

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			body, err := decompress(resp.Header.Get("Content-Encoding"), resp.Body, im.maxBody())
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("decode body: %w", err)
			}
			resp.Header.Del("Content-Encoding")
			return &fetcher.Response{
				URL:        current,
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       body,
			}, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if redirects >= maxRedirects {
			return nil, fmt.Errorf("too many redirects (max %d)", maxRedirects)
		}
		loc, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		current = u.ResolveReference(loc).String()
	}
}

// once makes a single request without following redirects. The returned
// body is fully buffered and the connection already closed.
func (im *Impersonator) once(ctx context.Context, u *url.URL, set headers.Set) (*http.Response, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(host, port)

	conn, err := dial(ctx, im.ProxyURL, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	switch u.Scheme {
	case "http":
		return doHTTP1(conn, u, set, im.maxBody())
	case "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		RootCAs:    im.RootCAs,
	}, helloFor(set))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake failed: %w", err)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		return doHTTP2(ctx, tlsConn, u, set, im.maxBody())
	}
	return doHTTP1(tlsConn, u, set, im.maxBody())
}

func (im *Impersonator) maxBody() int64 {
	if im.MaxBodySize <= 0 {
		return defaultMaxBodySize
	}
	return im.MaxBodySize
}

// helloFor picks the ClientHello of the browser family claimed by set.
func helloFor(set headers.Set) utls.ClientHelloID {
	fp, err := headers.Parse(set)
	if err != nil {
		return utls.HelloChrome_Auto
	}
	switch fp.Family {
	case headers.FamilyFirefox:
		return utls.HelloFirefox_Auto
	case headers.FamilySafari:
		return utls.HelloSafari_Auto
	default:
		return utls.HelloChrome_Auto
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// dial opens a TCP connection to addr, through proxyURL when set.
func dial(ctx context.Context, proxyURL, addr string) (net.Conn, error) {
	if proxyURL != "" {
		return dialViaProxy(ctx, proxyURL, addr)
	}
	d := &net.Dialer{Timeout: 15 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}
