// Package sync drives an incremental synchronization run: discover the
// universe, diff local presence against the trading calendar, fetch the
// difference through the rate-limited provider gate, and recompute adjusted
// prices for entities whose adjustment factors changed.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/adjust"
	"github.com/aristath/marketsync/internal/dispatch"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/presence"
	"github.com/aristath/marketsync/internal/store"
)

// Provider is the slice of the gated provider contract the engine consumes.
// Satisfied by *provider.Client.
type Provider interface {
	Daily(ctx context.Context, tsCode, start, end string) ([]domain.Bar, error)
	DailyByDate(ctx context.Context, date string) ([]domain.Bar, error)
	AdjFactors(ctx context.Context, tsCode, start, end string) ([]domain.AdjustmentEvent, error)
	StockBasics(ctx context.Context) ([]string, error)
}

// EngineConfig holds engine parameters.
type EngineConfig struct {
	// Range bounds the sync. An empty End means today.
	Range domain.DateRange
	// Workers is the fetch pool size (default 4).
	Workers int
	// SnapshotPath is where the presence matrix snapshot lives.
	SnapshotPath string
	// CachePath is where the run record lives.
	CachePath string
	// WriteBatchSize is rows per store transaction (0 = store default).
	WriteBatchSize int
}

// Engine runs the sync state machine. One run at a time per Engine; callers
// wanting periodic runs wrap it in the scheduler's daily job.
type Engine struct {
	cfg      EngineConfig
	provider Provider
	store    *store.Store
	builder  *presence.Builder
	planner  *dispatch.Planner
	calc     *adjust.Calculator
	cache    *Cache
	log      zerolog.Logger

	cancelled atomic.Bool
}

// NewEngine wires an engine from its collaborators.
func NewEngine(
	cfg EngineConfig,
	p Provider,
	st *store.Store,
	builder *presence.Builder,
	planner *dispatch.Planner,
	calc *adjust.Calculator,
	log zerolog.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{
		cfg:      cfg,
		provider: p,
		store:    st,
		builder:  builder,
		planner:  planner,
		calc:     calc,
		cache:    NewCache(cfg.CachePath),
		log:      log.With().Str("component", "sync_engine").Logger(),
	}
}

// Cancel requests a cooperative stop. Workers finish their in-flight call
// and then drain the remaining queue without fetching. Safe to call from any
// goroutine, including a signal handler.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

type taskResult struct {
	task    dispatch.Task
	bars    []domain.Bar
	err     error
	skipped bool
}

// Run executes one full sync pass and returns its report. Individual task
// failures are tolerated and reported; only stage-level failures (universe
// discovery, matrix build) abort the run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.cancelled.Store(false)
	rep := newReport()

	r := e.cfg.Range
	if r.End == "" {
		r.End = domain.Today()
	}

	universe, err := e.provider.StockBasics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover entity universe: %w", err)
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("provider returned an empty entity universe")
	}

	today := domain.Today()
	if rec, ok := e.cache.Load(); ok && rec.Covers(today, universe) {
		e.log.Info().Str("date", today).Msg("Already synced today, skipping run")
		rep.FinishedAt = time.Now()
		return rep, nil
	}

	fp := presence.Fingerprint{AsOfDate: r.End, UniverseSize: len(universe)}
	m, found, err := presence.Load(e.cfg.SnapshotPath, fp)
	if err != nil {
		return nil, err
	}
	if !found {
		e.log.Info().Msg("No usable matrix snapshot, rebuilding from store")
		m, err = e.builder.Build(ctx, universe, r)
		if err != nil {
			return nil, fmt.Errorf("failed to build presence matrix: %w", err)
		}
	}

	tasks := e.planner.Plan(m)
	e.log.Info().
		Str("run_id", rep.RunID.String()).
		Int("tasks", len(tasks)).
		Int("entities", len(universe)).
		Str("start", r.Start).
		Str("end", r.End).
		Msg("Sync run planned")

	touched := e.runPool(ctx, tasks, m, rep)
	rep.Entities = len(touched)

	if !e.cancelled.Load() {
		e.adjustStage(ctx, touched, r)
	}

	if err := m.Save(e.cfg.SnapshotPath, fp); err != nil {
		e.log.Warn().Err(err).Msg("Failed to save matrix snapshot")
	}

	rep.Cancelled = e.cancelled.Load()
	if !rep.Cancelled {
		rec := Record{LastRunDate: today, CoveredEntities: append([]string{}, universe...)}
		if err := e.cache.Save(rec); err != nil {
			e.log.Warn().Err(err).Msg("Failed to save sync cache")
		}
	}

	rep.FinishedAt = time.Now()
	e.log.Info().
		Str("run_id", rep.RunID.String()).
		Int("attempted", rep.Attempted).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Bool("cancelled", rep.Cancelled).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("Sync run finished")

	return rep, nil
}

// runPool fans the plan out to workers and aggregates results on the calling
// goroutine. Only this goroutine touches the matrix or the report, so
// neither needs a lock. Returns the set of entities that received rows.
func (e *Engine) runPool(ctx context.Context, tasks []dispatch.Task, m *presence.Matrix, rep *Report) map[string]struct{} {
	touched := make(map[string]struct{})
	if len(tasks) == 0 {
		return touched
	}

	queue := make(chan dispatch.Task)
	results := make(chan taskResult)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				// Checked before each dequeue so a cancelled run drains the
				// queue instead of abandoning it mid-channel.
				if e.cancelled.Load() {
					results <- taskResult{task: task, skipped: true}
					continue
				}
				bars, err := e.fetch(ctx, task)
				results <- taskResult{task: task, bars: bars, err: err}
			}
		}()
	}

	go func() {
		for _, t := range tasks {
			queue <- t
		}
		close(queue)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.skipped {
			continue
		}
		rep.Attempted++

		if res.err == nil {
			res.err = e.store.WriteBars(ctx, res.bars, store.WriteOptions{
				Strategy:     store.Upsert,
				PreserveNull: store.AdjustedColumns,
				BatchSize:    e.cfg.WriteBatchSize,
			})
		}
		if res.err != nil {
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{
				Kind:   res.task.Kind,
				Date:   res.task.Date,
				Entity: res.task.Entity,
				Reason: res.err.Error(),
			})
			e.log.Error().
				Err(res.err).
				Str("date", res.task.Date).
				Str("entity", res.task.Entity).
				Msg("Sync task failed")
			continue
		}

		rep.Succeeded++
		for _, b := range res.bars {
			m.Set(b.TradeDate, b.TsCode, true)
			touched[b.TsCode] = struct{}{}
		}
	}

	return touched
}

func (e *Engine) fetch(ctx context.Context, task dispatch.Task) ([]domain.Bar, error) {
	switch task.Kind {
	case dispatch.BulkByDate:
		return e.provider.DailyByDate(ctx, task.Date)
	case dispatch.Backfill:
		return e.provider.Daily(ctx, task.Entity, task.Start, task.End)
	default:
		return nil, fmt.Errorf("unknown task kind %d", task.Kind)
	}
}

// adjustStage pulls adjustment events for the entities this run touched,
// stores them, and recomputes adjusted prices for every entity whose factor
// changed inside the range. Failures here are logged, never fatal: raw bars
// are already committed and the next run recomputes again.
func (e *Engine) adjustStage(ctx context.Context, touched map[string]struct{}, r domain.DateRange) {
	for code := range touched {
		if e.cancelled.Load() {
			return
		}
		events, err := e.provider.AdjFactors(ctx, code, r.Start, r.End)
		if err != nil {
			e.log.Warn().Err(err).Str("entity", code).Msg("Adjustment fetch failed")
			continue
		}
		if err := e.store.WriteAdjustments(ctx, events, store.WriteOptions{Strategy: store.Upsert}); err != nil {
			e.log.Error().Err(err).Str("entity", code).Msg("Adjustment write failed")
		}
	}

	codes, err := e.store.EntitiesWithAdjustments(ctx, r)
	if err != nil {
		e.log.Error().Err(err).Msg("Adjustment recompute scan failed")
		return
	}
	if len(codes) == 0 {
		return
	}

	// Recompute over the whole stored history: a new factor rescales every
	// older bar of the entity, not just the bars inside this run's range.
	history := domain.DateRange{Start: "19000101", End: "99991231"}
	warnings := e.calc.RecomputeEntities(ctx, codes, history)

	e.log.Info().
		Int("entities", len(codes)).
		Int("warnings", len(warnings)).
		Msg("Adjusted prices recomputed")
}
