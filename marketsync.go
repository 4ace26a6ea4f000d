// Package marketsync wires the incremental market-data sync core: a presence
// matrix over trading days and entities, a threshold-based fetch planner, a
// rate-limited provider gate, an idempotent SQLite store and a forward
// adjustment calculator. Embedding processes construct an App and either
// call Run directly or hand the daily job to the scheduler.
package marketsync

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/adjust"
	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/config"
	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/dispatch"
	"github.com/aristath/marketsync/internal/presence"
	"github.com/aristath/marketsync/internal/provider"
	"github.com/aristath/marketsync/internal/provider/tushare"
	"github.com/aristath/marketsync/internal/scheduler"
	"github.com/aristath/marketsync/internal/store"
	syncengine "github.com/aristath/marketsync/internal/sync"
	"github.com/aristath/marketsync/pkg/logger"
)

// App is the assembled sync system.
type App struct {
	Engine   *syncengine.Engine
	Store    *store.Store
	Calendar *calendar.Service

	db  *database.DB
	log zerolog.Logger
}

// New assembles an App from configuration. The provider gate is built once
// here and shared by every component; constructing a second App against the
// same credential splits the provider's rate budget.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	st, err := store.New(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	api, err := tushare.NewClient(cfg.ProviderURL, cfg.ProviderToken, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	gate := provider.NewClient(api, provider.ClientConfig{
		MaxInflight:    cfg.MaxInflightCalls,
		CallsPerWindow: cfg.CallsPerWindow,
		WindowDuration: cfg.WindowDuration,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
		CallTimeout:    cfg.CallTimeout,
	}, log)

	cal := calendar.NewService(gate, st, cfg.Exchanges, log)
	builder := presence.NewBuilder(st, cal, cfg.ScanWorkers, log)
	planner := dispatch.NewPlanner(dispatch.Config{Threshold: cfg.BulkThreshold})
	calc := adjust.NewCalculator(st, log)

	engine := syncengine.NewEngine(syncengine.EngineConfig{
		Range:          cfg.SyncRange(),
		Workers:        cfg.SyncWorkers,
		SnapshotPath:   filepath.Join(cfg.CacheDir, "presence_matrix.msgpack"),
		CachePath:      filepath.Join(cfg.CacheDir, "sync_cache.json"),
		WriteBatchSize: cfg.WriteBatchSize,
	}, gate, st, builder, planner, calc, log)

	return &App{
		Engine:   engine,
		Store:    st,
		Calendar: cal,
		db:       db,
		log:      log.With().Str("component", "app").Logger(),
	}, nil
}

// NewFromEnv loads configuration from the environment, builds a logger at
// the configured level and assembles an App.
func NewFromEnv() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel})
	logger.SetGlobalLogger(log)

	return New(cfg, log)
}

// Run executes one sync pass.
func (a *App) Run(ctx context.Context) (*syncengine.Report, error) {
	return a.Engine.Run(ctx)
}

// Cancel requests a cooperative stop of the running sync pass.
func (a *App) Cancel() {
	a.Engine.Cancel()
}

// Schedule registers the daily sync on sched with the given cron expression.
func (a *App) Schedule(sched *scheduler.Scheduler, cronExpr string, timeout time.Duration) error {
	return sched.AddJob(cronExpr, scheduler.NewDailySyncJob(a.Engine, timeout, a.log))
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}
