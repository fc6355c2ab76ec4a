package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/fetcher"
)

// errDecided stops the group once one service has produced an outcome.
var errDecided = errors.New("race decided")

// race runs the services concurrently. The first attempt that ends the
// fetch, a parsed document or a phishing verdict, wins and cancels the
// rest. Recoverable failures do not decide the race.
func (p *Pipeline) race(ctx context.Context, fc *fetcher.FetchContext, order []fetcher.Strategy) (*fetcher.Document, bool, error) {
	if len(order) == 0 {
		return nil, false, nil
	}
	logger.FromContext(ctx).Debug("racing services", "count", len(order))

	var (
		mu      sync.Mutex
		decided bool
		winDoc  *fetcher.Document
		winErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range order {
		g.Go(func() error {
			doc, done, err := p.attempt(gctx, fc, s)
			if !done {
				return nil
			}
			// A cancelled loser reports the group's context error.
			if err != nil && gctx.Err() != nil && errors.Is(err, gctx.Err()) {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if decided {
				return nil
			}
			decided, winDoc, winErr = true, doc, err
			return errDecided
		})
	}
	_ = g.Wait()

	if decided {
		return winDoc, true, winErr
	}
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	return nil, false, nil
}
