// Package services implements the remote bypass services: third-party
// rendering APIs that fetch a page on our behalf.
//
// Every service implements fetcher.Strategy. Failures are *fetcher.Error
// values of the service family, so the orchestrator always moves on to the
// next service.
package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// Service names.
const (
	NameScrapingAnt = "scrapingant"
	NameScrapeUp    = "scrapeup"
	NameDripCrawler = "dripcrawler"
)

const maxBodySize = 10 * 1024 * 1024

// Config holds the endpoint and credential of every service.
type Config struct {
	ScrapingAnt ScrapingAntConfig `mapstructure:"scrapingant"`
	ScrapeUp    ScrapeUpConfig    `mapstructure:"scrapeup"`
	DripCrawler DripCrawlerConfig `mapstructure:"dripcrawler"`
}

// DefaultConfig returns the public endpoints without credentials.
func DefaultConfig() Config {
	return Config{
		ScrapingAnt: DefaultScrapingAntConfig(),
		ScrapeUp:    DefaultScrapeUpConfig(),
		DripCrawler: DefaultDripCrawlerConfig(),
	}
}

// All returns the three services in their canonical order. Callers shuffle.
func All(cfg Config) []fetcher.Strategy {
	return []fetcher.Strategy{
		NewScrapingAnt(cfg.ScrapingAnt),
		NewScrapeUp(cfg.ScrapeUp),
		NewDripCrawler(cfg.DripCrawler),
	}
}

// call runs req within the service timeout of fc and returns the response
// body on 200. Connections are closed before returning.
func call(ctx context.Context, fc *fetcher.FetchContext, kind fetcher.Kind, name string, build func(ctx context.Context) (*http.Request, error)) (*http.Response, []byte, error) {
	if fc.Timeouts.Service > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fc.Timeouts.Service)
		defer cancel()
	}

	req, err := build(ctx)
	if err != nil {
		return nil, nil, fetcher.NewError(kind, name, fc, 0, fmt.Errorf("build request: %w", err))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	client := &http.Client{Transport: transport}
	defer client.CloseIdleConnections()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fetcher.NewError(kind, name, fc, 0, err)
	}
	defer resp.Body.Close()

	body, err := fetcher.ReadLimited(resp.Body, maxBodySize)
	if err != nil {
		return nil, nil, fetcher.NewError(kind, name, fc, resp.StatusCode, err)
	}

	logger.FromContext(ctx).Debug("service responded",
		"stage", name,
		"status", resp.StatusCode,
		"body_size", len(body),
		"duration", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fetcher.NewError(kind, name, fc, resp.StatusCode, nil)
	}
	return resp, body, nil
}
