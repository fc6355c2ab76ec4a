package bypass

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	fhttp "github.com/Danny-Dasilva/fhttp"
	fhttp2 "github.com/Danny-Dasilva/fhttp/http2"
	"github.com/andybalholm/brotli"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// chromeOrder is the header order Chrome uses on HTTP/2 navigations.
var chromeOrder = []string{
	"cache-control", "sec-ch-ua", "sec-ch-ua-mobile", "sec-ch-ua-platform",
	"upgrade-insecure-requests", "user-agent", "accept", "sec-fetch-site",
	"sec-fetch-mode", "sec-fetch-user", "sec-fetch-dest", "referer",
	"accept-encoding", "accept-language", "cookie", "priority",
}

// doHTTP1 writes one HTTP/1.1 request on conn and buffers the response.
func doHTTP1(conn net.Conn, u *url.URL, set headers.Set, maxBody int64) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	set.Apply(req.Header)
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	req.Close = true

	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	body, err := fetcher.ReadLimited(resp.Body, maxBody)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// doHTTP2 performs one request over an already negotiated h2 connection
// using fhttp's Chrome SETTINGS and header ordering.
func doHTTP2(ctx context.Context, conn net.Conn, u *url.URL, set headers.Set, maxBody int64) (*http.Response, error) {
	tr := &fhttp2.Transport{
		Navigator: fhttp2.Chrome,
	}
	cc, err := tr.NewClientConn(conn)
	if err != nil {
		return nil, fmt.Errorf("h2 client conn failed: %w", err)
	}

	req := &fhttp.Request{
		Method: http.MethodGet,
		URL:    u,
		Host:   u.Host,
		Header: make(fhttp.Header),
	}

	written := make(map[string]bool, len(set))
	order := make([]string, 0, len(set)+1)
	for _, key := range chromeOrder {
		for k, v := range set {
			if strings.ToLower(k) == key {
				req.Header.Set(k, v)
				order = append(order, key)
				written[key] = true
				break
			}
		}
	}
	for k, v := range set {
		if !written[strings.ToLower(k)] {
			req.Header.Set(k, v)
			order = append(order, strings.ToLower(k))
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	req.Header[fhttp.HeaderOrderKey] = order
	req.Header[fhttp.PHeaderOrderKey] = []string{":method", ":authority", ":scheme", ":path"}
	req = req.WithContext(ctx)

	resp, err := cc.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("h2 request failed: %w", err)
	}
	body, err := fetcher.ReadLimited(resp.Body, maxBody)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(resp.Header))
	for k, vs := range resp.Header {
		header[k] = vs
	}
	return &http.Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}, nil
}

// decompress decodes body according to a Content-Encoding value.
func decompress(encoding string, body io.Reader, maxBody int64) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		gr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return fetcher.ReadLimited(gr, maxBody)
	case "deflate":
		dr := flate.NewReader(body)
		defer dr.Close()
		return fetcher.ReadLimited(dr, maxBody)
	case "br":
		return fetcher.ReadLimited(brotli.NewReader(body), maxBody)
	case "", "identity":
		return fetcher.ReadLimited(body, maxBody)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
