package bypass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
)

// ArchiveConfig configures the web archive stage.
type ArchiveConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	MaxTries    int           `mapstructure:"max_tries" validate:"gte=1"`
	MinInterval time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	// MaxAge is how old a snapshot returned by the save API may be before it
	// counts as a cached (stale) save.
	MaxAge time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

// DefaultArchiveConfig returns the Wayback Machine defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		BaseURL:     "https://web.archive.org",
		MaxTries:    3,
		MinInterval: 2 * time.Second,
		MaxAge:      5 * time.Minute,
	}
}

// ErrNoSnapshot is returned when the archive holds no capture of a URL.
var ErrNoSnapshot = errors.New("no archived snapshot")

// Toolbar markers injected by the Wayback Machine around the archived page.
var (
	toolbarMarkers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + regexp.QuoteMeta("<!-- END WAYBACK TOOLBAR INSERT -->")),
		regexp.MustCompile(`(?i)` + regexp.QuoteMeta("<!-- End Wayback Rewrite JS Include -->")),
		regexp.MustCompile(`(?i)<!--[^>]*end[^>]*wayback[^>]*-->`),
	}
	footerMarker = regexp.MustCompile(`(?i)FILE ARCHIVED ON`)

	snapshotPath = regexp.MustCompile(`/web/(\d{14})[a-z_]*/(.+)$`)
)

// Archive fetches the newest snapshot of a URL from a Wayback-compatible
// archive: it asks for a fresh capture first and falls back to the newest
// existing one.
type Archive struct {
	cfg     ArchiveConfig
	gen     *headers.Generator
	limiter *rate.Limiter
	maxBody int64
	now     func() time.Time
}

// NewArchive creates an archive stage. The User-Agent of every archive
// request comes from gen.
func NewArchive(cfg ArchiveConfig, gen *headers.Generator) *Archive {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = DefaultArchiveConfig().MaxTries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultArchiveConfig().MaxAge
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Archive{
		cfg:     cfg,
		gen:     gen,
		limiter: rate.NewLimiter(limit, 1),
		maxBody: defaultMaxBodySize,
		now:     time.Now,
	}
}

// Name implements fetcher.Strategy.
func (a *Archive) Name() string { return StageArchive }

// Attempt implements fetcher.Strategy.
func (a *Archive) Attempt(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Response, error) {
	if fc.Timeouts.Tool > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fc.Timeouts.Tool)
		defer cancel()
	}
	resp, err := a.Fetch(ctx, fc.URL())
	if err != nil {
		var fe *fetcher.Error
		if errors.As(err, &fe) {
			fe.Domain = fc.Domain
			return nil, fe
		}
		return nil, fetcher.NewError(fetcher.KindArchive, StageArchive, fc, 0, err)
	}
	return resp, nil
}

// Fetch returns the cleaned body of the newest snapshot of rawURL.
func (a *Archive) Fetch(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	log := logger.FromContext(ctx).With("stage", StageArchive)

	ua, err := a.userAgent(rawURL)
	if err != nil {
		return nil, err
	}

	snapshot, err := a.Snapshot(ctx, rawURL, ua)
	if err != nil {
		return nil, err
	}
	log.Debug("archive snapshot selected", "url", rawURL, "snapshot", snapshot)

	resp, body, err := a.get(ctx, snapshot, ua)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &fetcher.Error{Kind: fetcher.KindArchive, Stage: StageArchive, Status: resp.StatusCode}
	}

	return &fetcher.Response{
		URL:        snapshot,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       []byte(StripToolbar(string(body))),
	}, nil
}

// Snapshot returns the archive URL of a fresh capture of rawURL, or of the
// newest existing capture when a fresh one cannot be made.
func (a *Archive) Snapshot(ctx context.Context, rawURL, userAgent string) (string, error) {
	log := logger.FromContext(ctx).With("stage", StageArchive)

	saved, err := a.save(ctx, rawURL, userAgent)
	if err == nil {
		return saved, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	log.Debug("archive save failed, using newest capture", "url", rawURL, "error", err)

	return a.newest(ctx, rawURL, userAgent)
}

// save asks the archive for a fresh capture. A capture older than MaxAge
// means the archive served a cached save, which counts as failure.
func (a *Archive) save(ctx context.Context, rawURL, userAgent string) (string, error) {
	saveURL := strings.TrimRight(a.cfg.BaseURL, "/") + "/save/" + rawURL

	var lastErr error
	for try := 1; try <= a.cfg.MaxTries; try++ {
		resp, _, err := a.get(ctx, saveURL, userAgent)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("save returned status %d", resp.StatusCode)
			continue
		}

		snapshot := snapshotURL(resp)
		if snapshot == "" {
			lastErr = errors.New("save response names no snapshot")
			continue
		}
		taken, err := snapshotTime(snapshot)
		if err != nil {
			lastErr = err
			continue
		}
		if a.now().Sub(taken) > a.cfg.MaxAge {
			return "", fmt.Errorf("cached save from %s", taken.Format(time.RFC3339))
		}
		return snapshot, nil
	}
	return "", fmt.Errorf("save failed after %d tries: %w", a.cfg.MaxTries, lastErr)
}

// newest looks up the most recent 200 capture through the CDX API.
func (a *Archive) newest(ctx context.Context, rawURL, userAgent string) (string, error) {
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("output", "json")
	q.Set("fl", "timestamp,original")
	q.Set("filter", "statuscode:200")
	q.Set("limit", "-1")
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	cdxURL := base + "/cdx/search/cdx?" + q.Encode()

	var lastErr error
	for try := 1; try <= a.cfg.MaxTries; try++ {
		resp, body, err := a.get(ctx, cdxURL, userAgent)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &fetcher.Error{Kind: fetcher.KindArchive, Stage: StageArchive, Status: resp.StatusCode}
			continue
		}

		// Rows are [["timestamp","original"], [ts, url], ...].
		var rows [][]string
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &rows); err != nil {
				return "", fmt.Errorf("parse cdx response: %w", err)
			}
		}
		if len(rows) < 2 {
			return "", &fetcher.Error{Kind: fetcher.KindArchive, Stage: StageArchive, Err: ErrNoSnapshot}
		}
		last := rows[len(rows)-1]
		if len(last) < 2 {
			return "", fmt.Errorf("malformed cdx row %v", last)
		}
		return fmt.Sprintf("%s/web/%s/%s", base, last[0], last[1]), nil
	}
	return "", fmt.Errorf("cdx lookup failed after %d tries: %w", a.cfg.MaxTries, lastErr)
}

// get issues one archive request on its own transport, closed on return.
func (a *Archive) get(ctx context.Context, rawURL, userAgent string) (*http.Response, []byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := fetcher.ReadLimited(resp.Body, a.maxBody)
	if err != nil {
		return nil, nil, fmt.Errorf("read archive response: %w", err)
	}
	return resp, body, nil
}

func (a *Archive) userAgent(rawURL string) (string, error) {
	set, err := a.gen.Pick(rawURL)
	if err != nil {
		return "", err
	}
	return set["User-Agent"], nil
}

// snapshotURL finds the capture URL in a save response: the final URL
// after redirects, else Content-Location.
func snapshotURL(resp *http.Response) string {
	if resp.Request != nil && snapshotPath.MatchString(resp.Request.URL.Path) {
		return resp.Request.URL.String()
	}
	if loc := resp.Header.Get("Content-Location"); snapshotPath.MatchString(loc) {
		if resp.Request != nil {
			if u, err := resp.Request.URL.Parse(loc); err == nil {
				return u.String()
			}
		}
		return loc
	}
	return ""
}

func snapshotTime(snapshot string) (time.Time, error) {
	m := snapshotPath.FindStringSubmatch(snapshot)
	if m == nil {
		return time.Time{}, fmt.Errorf("no timestamp in %q", snapshot)
	}
	return time.Parse("20060102150405", m[1])
}

// StripToolbar returns the archived page between the toolbar end marker and
// the archive footer. Bodies without the markers are returned unchanged.
func StripToolbar(body string) string {
	footers := footerMarker.FindAllStringIndex(body, -1)
	if len(footers) == 0 {
		return body
	}
	footer := footers[len(footers)-1][0]

	start := -1
	for _, marker := range toolbarMarkers {
		if locs := marker.FindAllStringIndex(body[:footer], -1); len(locs) > 0 {
			start = locs[len(locs)-1][1]
			break
		}
	}
	if start < 0 {
		return body
	}

	page := strings.TrimSpace(body[start:footer])
	// The footer sits inside a comment; drop the dangling opener.
	return strings.TrimSpace(strings.TrimSuffix(page, "<!--"))
}
