package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/aristath/marketsync/internal/dispatch"
)

// Failure records one task that exhausted its retries. The run continues
// past failures; they surface here instead of aborting the pool.
type Failure struct {
	Kind   dispatch.TaskKind `json:"kind"`
	Date   string            `json:"date,omitempty"`
	Entity string            `json:"entity,omitempty"`
	Reason string            `json:"reason"`
}

// Report summarizes one engine run.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
	Entities   int       `json:"entities"`
	Cancelled  bool      `json:"cancelled"`
}

func newReport() *Report {
	return &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
}
