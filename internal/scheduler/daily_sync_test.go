package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncengine "github.com/aristath/marketsync/internal/sync"
)

// blockingRunner holds every Run until released and counts entries.
type blockingRunner struct {
	entered atomic.Int64
	release chan struct{}
}

func (r *blockingRunner) Run(context.Context) (*syncengine.Report, error) {
	r.entered.Add(1)
	if r.release != nil {
		<-r.release
	}
	return &syncengine.Report{}, nil
}

func TestDailySyncSkipsOverlappingRuns(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	job := NewDailySyncJob(runner, 0, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, job.Run())
	}()

	// Wait for the first firing to be inside the engine.
	require.Eventually(t, func() bool { return runner.entered.Load() == 1 },
		time.Second, time.Millisecond)

	// A second firing while the first is in flight is a no-op.
	require.NoError(t, job.Run())
	assert.Equal(t, int64(1), runner.entered.Load())

	close(runner.release)
	wg.Wait()

	// After the first run finished the job fires again.
	require.NoError(t, job.Run())
	assert.Equal(t, int64(2), runner.entered.Load())
}

func TestDailySyncName(t *testing.T) {
	job := NewDailySyncJob(&blockingRunner{}, 0, zerolog.Nop())
	assert.Equal(t, "daily_sync", job.Name())
}
