package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	syncengine "github.com/aristath/marketsync/internal/sync"
)

// Runner is the slice of the sync engine the job drives.
type Runner interface {
	Run(ctx context.Context) (*syncengine.Report, error)
}

// DailySyncJob runs one sync engine pass per firing. Overlapping firings
// skip instead of queue: a daily run that outlasts its schedule slot must
// not stack a second run behind the same rate budget.
type DailySyncJob struct {
	engine  Runner
	timeout time.Duration
	log     zerolog.Logger

	running atomic.Bool
}

// NewDailySyncJob creates the job. timeout bounds one run (0 = no bound).
func NewDailySyncJob(engine Runner, timeout time.Duration, log zerolog.Logger) *DailySyncJob {
	return &DailySyncJob{
		engine:  engine,
		timeout: timeout,
		log:     log.With().Str("job", "daily_sync").Logger(),
	}
}

// Name returns the job identifier for scheduler logs.
func (j *DailySyncJob) Name() string {
	return "daily_sync"
}

// Run executes one engine pass unless one is already in flight.
func (j *DailySyncJob) Run() error {
	if !j.running.CompareAndSwap(false, true) {
		j.log.Warn().Msg("Previous sync still running, skipping this firing")
		return nil
	}
	defer j.running.Store(false)

	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	rep, err := j.engine.Run(ctx)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", rep.RunID.String()).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Msg("Daily sync completed")

	return nil
}
