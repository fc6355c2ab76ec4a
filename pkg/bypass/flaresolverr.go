package bypass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// ErrFlareSolverrUnavailable indicates FlareSolverr service is not reachable.
var ErrFlareSolverrUnavailable = errors.New("FlareSolverr service unavailable")

// FlareSolverrConfig configures the optional FlareSolverr fallback stage.
type FlareSolverrConfig struct {
	URL        string        `mapstructure:"url" validate:"omitempty,url"`
	MaxTimeout time.Duration `mapstructure:"max_timeout" validate:"gte=0"`
}

// FlareSolverr is a client for the FlareSolverr API.
// FlareSolverr is a proxy server that solves Cloudflare challenges.
type FlareSolverr struct {
	baseURL    string
	maxTimeout int // milliseconds
}

// FlareSolverRequest is the request body for FlareSolverr API.
type FlareSolverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

// FlareSolverResponse is the response from FlareSolverr API.
type FlareSolverResponse struct {
	Status   string               `json:"status"`
	Message  string               `json:"message"`
	Solution *FlareSolverSolution `json:"solution,omitempty"`
	StartTS  float64              `json:"startTimestamp"`
	EndTS    float64              `json:"endTimestamp"`
	Version  string               `json:"version"`
}

// FlareSolverSolution contains the solution data from FlareSolverr.
type FlareSolverSolution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	UserAgent string            `json:"userAgent"`
}

// NewFlareSolverr creates a new FlareSolverr client.
func NewFlareSolverr(cfg FlareSolverrConfig) *FlareSolverr {
	maxTimeout := cfg.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = 60 * time.Second
	}
	return &FlareSolverr{
		baseURL:    cfg.URL,
		maxTimeout: int(maxTimeout / time.Millisecond),
	}
}

// Name implements fetcher.Strategy.
func (f *FlareSolverr) Name() string { return StageFlareSolverr }

// Attempt implements fetcher.Strategy. The solver renders fc.URL() in its
// own browser, so only the service timeout applies.
func (f *FlareSolverr) Attempt(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Response, error) {
	if fc.Timeouts.Service > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fc.Timeouts.Service)
		defer cancel()
	}

	sol, err := f.Solve(ctx, fc.URL())
	if err != nil {
		return nil, fetcher.NewError(fetcher.KindFlareSolverr, StageFlareSolverr, fc, 0, err)
	}
	if sol.Status != http.StatusOK {
		return nil, fetcher.NewError(fetcher.KindFlareSolverr, StageFlareSolverr, fc, sol.Status, nil)
	}

	header := make(http.Header, len(sol.Headers))
	for k, v := range sol.Headers {
		header.Set(k, v)
	}
	finalURL := sol.URL
	if finalURL == "" {
		finalURL = fc.URL()
	}
	return &fetcher.Response{
		URL:        finalURL,
		StatusCode: sol.Status,
		Header:     header,
		Body:       []byte(sol.Response),
	}, nil
}

// Solve sends a URL to FlareSolverr and returns the solution.
func (f *FlareSolverr) Solve(ctx context.Context, targetURL string) (*FlareSolverSolution, error) {
	log := logger.FromContext(ctx).With("stage", StageFlareSolverr)

	reqBody := FlareSolverRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: f.maxTimeout,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal FlareSolverr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create FlareSolverr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		log.Warn("FlareSolverr request failed", "url", targetURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFlareSolverrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := fetcher.ReadLimited(resp.Body, defaultMaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("failed to read FlareSolverr response: %w", err)
	}

	// FlareSolverr returns 500 with a JSON body on errors.
	var fsResp FlareSolverResponse
	if err := json.Unmarshal(body, &fsResp); err != nil {
		log.Warn("FlareSolverr returned invalid response", "status_code", resp.StatusCode, "body_size", len(body))
		return nil, fmt.Errorf("failed to parse FlareSolverr response: %w", err)
	}

	if fsResp.Status != "ok" {
		log.Debug("FlareSolverr returned error status",
			"url", targetURL,
			"status", fsResp.Status,
			"message", fsResp.Message)
		return nil, classifySolverError(ctx, targetURL, fsResp.Message)
	}

	if fsResp.Solution == nil {
		log.Warn("FlareSolverr returned no solution", "url", targetURL)
		return nil, fmt.Errorf("%w: no solution returned", fetcher.ErrAntiBot)
	}

	duration := (fsResp.EndTS - fsResp.StartTS) / 1000
	log.Debug("FlareSolverr solved",
		"url", targetURL,
		"status_code", fsResp.Solution.Status,
		"response_size", len(fsResp.Solution.Response),
		"duration_s", fmt.Sprintf("%.2f", duration))

	return fsResp.Solution, nil
}

// classifySolverError maps a FlareSolverr error message to a challenge cause.
func classifySolverError(ctx context.Context, url, message string) error {
	log := logger.FromContext(ctx).With("stage", StageFlareSolverr, "url", url, "message", message)
	msgLower := strings.ToLower(message)

	containsAny := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msgLower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("timeout", "timed out"):
		log.Warn("FlareSolverr timed out")
		return fmt.Errorf("%w: %s", fetcher.ErrChallengeTimeout, message)
	case containsAny("could not be solved", "unable to solve", "failed to solve"):
		log.Warn("FlareSolverr could not solve challenge")
		return fmt.Errorf("%w: %s", fetcher.ErrCaptchaChallenge, message)
	case containsAny("captcha", "turnstile", "hcaptcha", "recaptcha"):
		log.Warn("FlareSolverr detected unsolvable CAPTCHA")
		return fmt.Errorf("%w: %s", fetcher.ErrCaptchaChallenge, message)
	case containsAny("cloudflare", "cf-", "challenge"):
		log.Warn("FlareSolverr Cloudflare challenge failed")
		return fmt.Errorf("%w: %s", fetcher.ErrCaptchaChallenge, message)
	case containsAny("blocked", "denied", "forbidden", "access", "403"):
		log.Warn("FlareSolverr blocked by anti-bot")
		return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)
	case containsAny("browser", "crashed", "unable to process"):
		log.Warn("FlareSolverr browser error")
		return fmt.Errorf("FlareSolverr internal error: %s", message)
	}

	log.Warn("FlareSolverr failed with unknown error")
	return fmt.Errorf("%w: %s", fetcher.ErrAntiBot, message)
}
