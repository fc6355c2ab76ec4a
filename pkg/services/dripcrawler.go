package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// DripCrawlerConfig configures DripCrawler, reached through RapidAPI.
type DripCrawlerConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Host    string `mapstructure:"host" validate:"required,hostname"`
	APIKey  string `mapstructure:"api_key"`
}

// DefaultDripCrawlerConfig returns the RapidAPI endpoint.
func DefaultDripCrawlerConfig() DripCrawlerConfig {
	return DripCrawlerConfig{
		BaseURL: "https://dripcrawler.p.rapidapi.com",
		Host:    "dripcrawler.p.rapidapi.com",
	}
}

type dripCrawlerRequest struct {
	URL                 string `json:"url"`
	JavascriptRendering string `json:"javascript_rendering"`
}

// DripCrawler renders the page and returns it wrapped in JSON.
type DripCrawler struct {
	cfg DripCrawlerConfig
}

// NewDripCrawler creates the DripCrawler service.
func NewDripCrawler(cfg DripCrawlerConfig) *DripCrawler {
	return &DripCrawler{cfg: cfg}
}

// Name implements fetcher.Strategy.
func (s *DripCrawler) Name() string { return NameDripCrawler }

// Attempt implements fetcher.Strategy. The extracted_html field of the
// JSON reply becomes the body of a plain 200 text/html response.
func (s *DripCrawler) Attempt(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Response, error) {
	if s.cfg.APIKey == "" {
		return nil, fetcher.NewError(fetcher.KindDripCrawler, NameDripCrawler, fc, 0, fetcher.ErrMissingCredential)
	}

	payload, err := json.Marshal(dripCrawlerRequest{URL: fc.URL(), JavascriptRendering: "True"})
	if err != nil {
		return nil, fetcher.NewError(fetcher.KindDripCrawler, NameDripCrawler, fc, 0, err)
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/"

	_, body, err := call(ctx, fc, fetcher.KindDripCrawler, NameDripCrawler, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("content-type", "application/json")
		req.Header.Set("X-RapidAPI-Key", s.cfg.APIKey)
		req.Header.Set("X-RapidAPI-Host", s.cfg.Host)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fetcher.NewError(fetcher.KindDripCrawler, NameDripCrawler, fc, http.StatusOK, errors.New("invalid json reply"))
	}
	html := gjson.GetBytes(body, "extracted_html")
	if !html.Exists() || html.Type != gjson.String {
		return nil, fetcher.NewError(fetcher.KindDripCrawler, NameDripCrawler, fc, http.StatusOK, errors.New("reply has no extracted_html"))
	}

	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	return &fetcher.Response{
		URL:        fc.URL(),
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       []byte(html.String()),
	}, nil
}
