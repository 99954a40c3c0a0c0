// Package composite walks every bucket of a composite aggregation by
// repeating the search with the continuation key of the previous page.
package composite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pteich/elastic-query-samples/elastic"
)

// Searcher is the part of elastic.Client a walk needs.
type Searcher interface {
	Search(ctx context.Context, index string, body []byte) (*elastic.SearchResponse, error)
}

// PageFunc receives every non-empty page in order. Returning an error stops the walk.
type PageFunc func(ctx context.Context, page Page) error

// Observer is notified about the progress of a walk. All hooks are optional.
type Observer struct {
	RoundStarted  func(name string, round int)
	RoundFinished func(name string, round int, buckets int, d time.Duration)
	WalkFailed    func(name string, err error)
}

// Stats summarizes a finished or aborted walk.
type Stats struct {
	// Rounds counts search requests including the final empty one.
	Rounds  int
	Pages   int
	Buckets int
	// Last is the continuation key of the last delivered page. A walk that
	// failed can be resumed from it.
	Last Key
}

type Option func(*Walker)

func WithObserver(o Observer) Option {
	return func(w *Walker) {
		w.observer = o
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Walker) {
		w.logger = logger
	}
}

// WithRoundTimeout bounds every single search request.
func WithRoundTimeout(d time.Duration) Option {
	return func(w *Walker) {
		w.roundTimeout = d
	}
}

// WithMaxRounds stops the walk with an error after n requests. Zero means no limit.
func WithMaxRounds(n int) Option {
	return func(w *Walker) {
		w.maxRounds = n
	}
}

type Walker struct {
	searcher     Searcher
	tmpl         PageRequest
	observer     Observer
	logger       zerolog.Logger
	roundTimeout time.Duration
	maxRounds    int
}

// NewWalker validates the template and keeps a private copy of it, later
// changes to tmpl do not affect the walker.
func NewWalker(searcher Searcher, tmpl PageRequest, opts ...Option) (*Walker, error) {
	if searcher == nil {
		return nil, fmt.Errorf("%w: searcher is nil", ErrInvalidRequest)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	w := &Walker{
		searcher: searcher,
		tmpl:     tmpl.clone(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Request returns a copy of the template.
func (w *Walker) Request() PageRequest {
	return w.tmpl.clone()
}

func (w *Walker) Name() string {
	return w.tmpl.Name
}

// Walk delivers all pages starting at the template's After key, or at the
// beginning if the template has none.
func (w *Walker) Walk(ctx context.Context, fn PageFunc) (Stats, error) {
	return w.walk(ctx, w.tmpl.After, fn)
}

// Resume continues a walk after the given key, usually Stats.Last of an
// earlier run.
func (w *Walker) Resume(ctx context.Context, after Key, fn PageFunc) (Stats, error) {
	if !after.IsZero() {
		if err := after.matches(w.tmpl.Sources); err != nil {
			return Stats{}, err
		}
	}
	return w.walk(ctx, after, fn)
}

// Collect walks the whole aggregation and returns all buckets in page order.
func (w *Walker) Collect(ctx context.Context) ([]Bucket, Stats, error) {
	var buckets []Bucket
	stats, err := w.Walk(ctx, func(_ context.Context, page Page) error {
		buckets = append(buckets, page.Buckets...)
		return nil
	})
	return buckets, stats, err
}

// Fetch issues a single round after the given key. The returned page may be
// empty and its After key is the input for the next call.
func (w *Walker) Fetch(ctx context.Context, after Key) (Page, error) {
	if !after.IsZero() {
		if err := after.matches(w.tmpl.Sources); err != nil {
			return Page{}, err
		}
	}
	page, _, err := w.round(ctx, after, 1, 1)
	if err != nil {
		return Page{}, fmt.Errorf("composite %s: %w", w.tmpl.Name, err)
	}
	return page, nil
}

func (w *Walker) walk(ctx context.Context, after Key, fn PageFunc) (Stats, error) {
	stats := Stats{Last: after.clone()}
	name := w.tmpl.Name
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return stats, w.fail(fmt.Errorf("composite %s: stopped before round %d: %w", name, stats.Rounds+1, err))
		}
		if w.maxRounds > 0 && stats.Rounds >= w.maxRounds {
			return stats, w.fail(fmt.Errorf("composite %s: exceeded %d rounds", name, w.maxRounds))
		}

		stats.Rounds++
		round := stats.Rounds

		page, d, err := w.round(ctx, after, round, stats.Pages+1)
		if err != nil {
			return stats, w.fail(fmt.Errorf("composite %s: round %d: %w", name, round, err))
		}
		if w.observer.RoundFinished != nil {
			w.observer.RoundFinished(name, round, page.Len(), d)
		}

		w.logger.Debug().
			Str("aggregation", name).
			Int("round", round).
			Int("buckets", page.Len()).
			Str("after", page.After.String()).
			Dur("duration", d).
			Msg("composite round finished")

		if page.Len() == 0 {
			break
		}

		stats.Pages++
		stats.Buckets += page.Len()

		if fn != nil {
			if err := fn(ctx, page); err != nil {
				return stats, w.fail(fmt.Errorf("composite %s: page %d: %w", name, page.Number, err))
			}
		}

		if page.After.IsZero() {
			// engines before 6.3 do not return after_key, the page is the last one
			break
		}
		if page.After.Equal(after) {
			return stats, w.fail(fmt.Errorf("composite %s: round %d: continuation key %s did not advance", name, round, page.After))
		}
		after = page.After
		stats.Last = after.clone()
	}

	w.logger.Info().
		Str("index", w.tmpl.Index).
		Str("aggregation", name).
		Int("rounds", stats.Rounds).
		Int("pages", stats.Pages).
		Int("buckets", stats.Buckets).
		Dur("duration", time.Since(start)).
		Msg("composite walk complete")

	return stats, nil
}

func (w *Walker) round(ctx context.Context, after Key, round, number int) (Page, time.Duration, error) {
	body, err := w.tmpl.Body(after)
	if err != nil {
		return Page{}, 0, err
	}

	if w.observer.RoundStarted != nil {
		w.observer.RoundStarted(w.tmpl.Name, round)
	}

	roundCtx := ctx
	if w.roundTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, w.roundTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := w.searcher.Search(roundCtx, w.tmpl.Index, body)
	d := time.Since(start)
	if err != nil {
		return Page{}, d, err
	}

	page, err := decodePage(res, w.tmpl, number)
	return page, d, err
}

func (w *Walker) fail(err error) error {
	w.logger.Error().Err(err).Str("aggregation", w.tmpl.Name).Msg("composite walk failed")
	if w.observer.WalkFailed != nil {
		w.observer.WalkFailed(w.tmpl.Name, err)
	}
	return err
}

// WalkAll runs independent walks concurrently and stops all of them on the
// first error. fn is called from several goroutines and must be safe for that.
func WalkAll(ctx context.Context, walkers []*Walker, fn func(ctx context.Context, w *Walker, page Page) error) ([]Stats, error) {
	stats := make([]Stats, len(walkers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range walkers {
		g.Go(func() error {
			s, err := w.Walk(gctx, func(ctx context.Context, page Page) error {
				if fn == nil {
					return nil
				}
				return fn(ctx, w, page)
			})
			stats[i] = s
			return err
		})
	}

	err := g.Wait()
	return stats, err
}
