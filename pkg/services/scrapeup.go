package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// ScrapeUpConfig configures ScrapeUp.
type ScrapeUpConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
}

// DefaultScrapeUpConfig returns the public endpoint.
func DefaultScrapeUpConfig() ScrapeUpConfig {
	return ScrapeUpConfig{BaseURL: "http://api.scrapeup.com"}
}

// ScrapeUp renders the page with JavaScript enabled.
type ScrapeUp struct {
	cfg ScrapeUpConfig
}

// NewScrapeUp creates the ScrapeUp service.
func NewScrapeUp(cfg ScrapeUpConfig) *ScrapeUp {
	return &ScrapeUp{cfg: cfg}
}

// Name implements fetcher.Strategy.
func (s *ScrapeUp) Name() string { return NameScrapeUp }

// Attempt implements fetcher.Strategy.
func (s *ScrapeUp) Attempt(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Response, error) {
	if s.cfg.APIKey == "" {
		return nil, fetcher.NewError(fetcher.KindScrapeUp, NameScrapeUp, fc, 0, fetcher.ErrMissingCredential)
	}

	endpoint := fmt.Sprintf("%s?api_key=%s&url=%s&render=true",
		s.cfg.BaseURL,
		fetcher.EncodeURL(s.cfg.APIKey),
		fc.EncodedURL())

	resp, body, err := call(ctx, fc, fetcher.KindScrapeUp, NameScrapeUp, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	return &fetcher.Response{
		URL:        fc.URL(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
