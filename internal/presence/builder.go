package presence

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// Builder rebuilds the matrix by scanning the store, one bounded goroutine
// per entity, merged by a single collector so the matrix itself needs no
// lock.
type Builder struct {
	store   *store.Store
	cal     *calendar.Service
	workers int
	log     zerolog.Logger
}

// NewBuilder creates a Builder. workers bounds the concurrent store scans
// (default 8).
func NewBuilder(st *store.Store, cal *calendar.Service, workers int, log zerolog.Logger) *Builder {
	if workers <= 0 {
		workers = 8
	}
	return &Builder{
		store:   st,
		cal:     cal,
		workers: workers,
		log:     log.With().Str("component", "presence_builder").Logger(),
	}
}

type entityScan struct {
	entity string
	dates  []string
}

// Build scans the store for every entity over the range's trading days.
// A failed per-entity scan is logged and leaves that entity fully missing:
// the engine then re-fetches it, which is safe because writes are
// idempotent. Data is never silently assumed present.
func (b *Builder) Build(ctx context.Context, entities []string, r domain.DateRange) (*Matrix, error) {
	tradingDays, err := b.cal.TradingDays(ctx, r)
	if err != nil {
		return nil, err
	}

	m := NewMatrix(tradingDays, entities)

	results := make(chan entityScan, b.workers)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range results {
			for _, d := range res.dates {
				m.Set(d, res.entity, true)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			dates, err := b.store.PresentDates(gctx, entity, r)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.log.Warn().
					Err(err).
					Str("entity", entity).
					Msg("Presence scan failed, treating entity as fully missing")
				return nil
			}
			select {
			case results <- entityScan{entity: entity, dates: dates}:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}

	err = g.Wait()
	close(results)
	<-collectorDone
	if err != nil {
		return nil, err
	}

	b.log.Info().
		Int("dates", len(tradingDays)).
		Int("entities", len(entities)).
		Msg("Presence matrix built")

	return m, nil
}
