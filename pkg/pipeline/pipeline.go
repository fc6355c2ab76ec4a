// Package pipeline is the entry point of content acquisition. A Pipeline
// turns a domain into a parsed document by escalating through the direct
// connector, the local bypass tool and the remote services, stopping at the
// first usable response or the first terminal failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/bypass"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
	"github.com/Lennolium/1Guard-server/pkg/headers"
	"github.com/Lennolium/1Guard-server/pkg/services"
)

// Pipeline fetches documents. It holds no per-fetch state and is safe for
// concurrent use.
type Pipeline struct {
	cfg        Config
	src        Source
	gen        *headers.Generator
	classifier fetcher.Classifier

	connector fetcher.Connector
	local     fetcher.Strategy
	services  []fetcher.Strategy
	fallbacks []fetcher.Strategy

	localSet     bool
	servicesSet  bool
	fallbacksSet bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSource sets the random source used for header selection and service
// order.
func WithSource(src Source) Option {
	return func(p *Pipeline) {
		p.src = src
	}
}

// WithClassifier replaces the phishing and challenge detectors.
func WithClassifier(c fetcher.Classifier) Option {
	return func(p *Pipeline) {
		p.classifier = c
	}
}

// WithConnector replaces the direct connector.
func WithConnector(c fetcher.Connector) Option {
	return func(p *Pipeline) {
		p.connector = c
	}
}

// WithLocalTool replaces the local bypass tool. A nil tool disables the
// stage.
func WithLocalTool(s fetcher.Strategy) Option {
	return func(p *Pipeline) {
		p.local = s
		p.localSet = true
	}
}

// WithServices replaces the remote services. They are shuffled per fetch.
func WithServices(s ...fetcher.Strategy) Option {
	return func(p *Pipeline) {
		p.services = s
		p.servicesSet = true
	}
}

// WithFallbacks replaces the stages tried, in order, after the remote
// services.
func WithFallbacks(s ...fetcher.Strategy) Option {
	return func(p *Pipeline) {
		p.fallbacks = s
		p.fallbacksSet = true
	}
}

// New validates cfg and builds a Pipeline. Stages not supplied as options
// are built from cfg.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit, err := cfg.BodyLimit()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, classifier: fetcher.DefaultClassifier()}
	for _, opt := range opts {
		opt(p)
	}

	if p.src == nil {
		p.src = NewSecureSource()
	}
	p.gen = headers.NewGenerator(p.src)

	if p.connector == nil {
		direct := fetcher.NewDirectConnector(p.gen)
		direct.MaxBodySize = int(limit)
		p.connector = direct
	}
	if !p.localSet {
		im := bypass.NewImpersonator(cfg.ProxyURL)
		im.MaxBodySize = limit
		p.local = im
	}
	if !p.servicesSet {
		p.services = services.All(cfg.Services)
	}
	if !p.fallbacksSet {
		if cfg.Archive.Enabled {
			p.fallbacks = append(p.fallbacks, bypass.NewArchive(cfg.Archive, p.gen))
		}
		if cfg.FlareSolverr.URL != "" {
			p.fallbacks = append(p.fallbacks, bypass.NewFlareSolverr(cfg.FlareSolverr))
		}
	}

	return p, nil
}

// Headers returns the generator the pipeline draws header sets from.
func (p *Pipeline) Headers() *headers.Generator { return p.gen }

// Fetch acquires a document for domain.
//
// The error is an *fetcher.Error of the website family (NotReachable,
// PhishingFlagged or NotScrapable), or the context's error when ctx ends
// first. Recoverable stage failures are logged and never returned.
func (p *Pipeline) Fetch(ctx context.Context, domain string, forceRemoteOnly bool) (*fetcher.Document, error) {
	fc := fetcher.NewFetchContext(domain, forceRemoteOnly || p.cfg.ForceRemoteOnly, p.cfg.Timeouts)

	log := logger.ForFetch(uuid.NewString(), domain)
	ctx = logger.NewContext(ctx, log)
	start := time.Now()

	doc, err := p.fetch(ctx, fc)
	if err != nil {
		log.Debug("fetch failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return nil, err
	}
	log.Info("fetch succeeded",
		"stage", doc.Stage,
		"url", doc.URL,
		"status", doc.StatusCode,
		"size", humanize.Bytes(uint64(len(doc.Body))),
		"duration", time.Since(start).Round(time.Millisecond))
	return doc, nil
}

func (p *Pipeline) fetch(ctx context.Context, fc *fetcher.FetchContext) (*fetcher.Document, error) {
	log := logger.FromContext(ctx)

	if doc, done, err := p.direct(ctx, fc); done {
		return doc, err
	}

	if fc.ForceRemoteOnly {
		log.Debug("local tool skipped", "reason", "force_remote_only")
	} else if p.local != nil {
		if doc, done, err := p.attempt(ctx, fc, p.local); done {
			return doc, err
		}
	}

	order := p.shuffled()
	if p.cfg.RaceServices {
		if doc, done, err := p.race(ctx, fc, order); done {
			return doc, err
		}
	} else {
		for _, s := range order {
			if doc, done, err := p.attempt(ctx, fc, s); done {
				return doc, err
			}
		}
	}

	for _, s := range p.fallbacks {
		if doc, done, err := p.attempt(ctx, fc, s); done {
			return doc, err
		}
	}

	return nil, fetcher.NewError(fetcher.KindNotScrapable, "", fc, 0, nil)
}

// direct runs the direct connector. done is false when the domain was
// reached but its response is unusable and the bypass stages should run.
func (p *Pipeline) direct(ctx context.Context, fc *fetcher.FetchContext) (doc *fetcher.Document, done bool, err error) {
	resp, err := p.connector.Connect(ctx, fc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, true, ctxErr
		}
		var fe *fetcher.Error
		switch {
		case errors.As(err, &fe) && fe.Recoverable() && fc.Resolved():
			p.logRecovered(ctx, err)
			return nil, false, nil
		case errors.As(err, &fe) && !fe.Recoverable():
			return nil, true, err
		default:
			return nil, true, fetcher.NewError(fetcher.KindNotReachable, fetcher.StageDirect, fc, 0, err)
		}
	}

	if p.classifier.IsPhishingFlagged(resp) {
		return nil, true, p.flagged(ctx, fc, fetcher.StageDirect, resp)
	}

	if p.classifier.IsChallengeProtected(resp) {
		logger.FromContext(ctx).Info("challenge detected",
			"url", resp.URL,
			"server", resp.Server(),
			"challenge", fetcher.ChallengeType(resp))
		return nil, false, nil
	}

	doc, err = fetcher.ParseDocument(resp, fetcher.StageDirect)
	if err != nil {
		p.logRecovered(ctx, fetcher.NewError(fetcher.KindParse, fetcher.StageDirect, fc, resp.StatusCode, err))
		return nil, false, nil
	}
	return doc, true, nil
}

// attempt runs one bypass stage. done is false when the stage failed
// recoverably and the next stage should run.
func (p *Pipeline) attempt(ctx context.Context, fc *fetcher.FetchContext, s fetcher.Strategy) (doc *fetcher.Document, done bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}

	log := logger.FromContext(ctx).With("stage", s.Name())
	log.Debug("attempting stage", "url", fc.URL())
	start := time.Now()

	resp, err := s.Attempt(ctx, fc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, true, ctxErr
		}
		var fe *fetcher.Error
		if errors.As(err, &fe) && !fe.Recoverable() {
			return nil, true, err
		}
		p.logRecovered(ctx, err)
		return nil, false, nil
	}

	if p.classifier.IsPhishingFlagged(resp) {
		return nil, true, p.flagged(ctx, fc, s.Name(), resp)
	}

	doc, err = fetcher.ParseDocument(resp, s.Name())
	if err != nil {
		p.logRecovered(ctx, fetcher.NewError(fetcher.KindParse, s.Name(), fc, resp.StatusCode, err))
		return nil, false, nil
	}

	log.Debug("stage succeeded",
		"status", resp.StatusCode,
		"body_size", humanize.Bytes(uint64(len(resp.Body))),
		"duration", time.Since(start).Round(time.Millisecond))
	return doc, true, nil
}

// shuffled returns a uniformly shuffled copy of the remote services.
func (p *Pipeline) shuffled() []fetcher.Strategy {
	order := make([]fetcher.Strategy, len(p.services))
	copy(order, p.services)
	p.src.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

func (p *Pipeline) flagged(ctx context.Context, fc *fetcher.FetchContext, stage string, resp *fetcher.Response) error {
	logger.FromContext(ctx).Warn("phishing interstitial detected",
		"stage", stage,
		"url", resp.URL,
		"status", resp.StatusCode)
	return fetcher.NewError(fetcher.KindPhishingFlagged, stage, fc, resp.StatusCode, nil)
}

// logRecovered logs a recoverable stage failure.
func (p *Pipeline) logRecovered(ctx context.Context, err error) {
	attrs := []any{"error", err}
	var fe *fetcher.Error
	if errors.As(err, &fe) {
		attrs = append(attrs, "stage", fe.Stage, "kind", fe.Kind.String())
		if fe.Status != 0 {
			attrs = append(attrs, "status", fe.Status)
		}
	}
	logger.FromContext(ctx).Warn("stage failed", attrs...)
}

// String describes the escalation order, for logs.
func (p *Pipeline) String() string {
	names := make([]string, 0, len(p.services)+len(p.fallbacks)+2)
	names = append(names, fetcher.StageDirect)
	if p.local != nil {
		names = append(names, p.local.Name())
	}
	svc := make([]string, 0, len(p.services))
	for _, s := range p.services {
		svc = append(svc, s.Name())
	}
	names = append(names, fmt.Sprintf("shuffle%v", svc))
	for _, s := range p.fallbacks {
		names = append(names, s.Name())
	}
	return fmt.Sprintf("pipeline%v", names)
}
