// Package dispatch turns presence gaps into a minimal ordered set of fetch
// tasks. The plan is a greedy heuristic: one bulk call covers a whole date
// regardless of entity count, so dates missing many entities are fetched in
// bulk and the remainder per entity. A backfill range may re-fetch interior
// dates that are already present, which is acceptable because store writes
// are idempotent.
package dispatch

import (
	"sort"

	"github.com/aristath/marketsync/internal/presence"
)

// TaskKind discriminates the two fetch shapes.
type TaskKind int

const (
	// BulkByDate fetches every entity for a single date.
	BulkByDate TaskKind = iota
	// Backfill fetches one entity over a date range.
	Backfill
)

// Task is one unit of provider work.
type Task struct {
	Kind   TaskKind
	Date   string // BulkByDate only
	Entity string // Backfill only
	Start  string // Backfill only: min missing date
	End    string // Backfill only: max missing date
}

// Config holds planner parameters.
type Config struct {
	// Threshold is the missing-entity count at which a date is fetched in
	// bulk. Tuned operationally, no derivation behind the default.
	Threshold int
}

// DefaultThreshold is used when Config.Threshold is zero.
const DefaultThreshold = 1000

// Planner builds fetch plans from a presence matrix.
type Planner struct {
	threshold int
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config) *Planner {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Planner{threshold: threshold}
}

// Plan emits bulk tasks first (missing count descending, ties broken by date
// ascending so ordering is deterministic), then one backfill task per entity
// still missing dates, covering that entity's [min, max] missing span.
// Entities covered by a bulk task are not re-planned for that date.
func (p *Planner) Plan(m *presence.Matrix) []Task {
	type dateCount struct {
		date    string
		missing int
	}

	var counts []dateCount
	for _, d := range m.Dates() {
		if n := m.MissingCount(d); n > 0 {
			counts = append(counts, dateCount{date: d, missing: n})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].missing != counts[j].missing {
			return counts[i].missing > counts[j].missing
		}
		return counts[i].date < counts[j].date
	})

	var tasks []Task
	bulkDates := make(map[string]bool)
	for _, dc := range counts {
		if dc.missing >= p.threshold {
			tasks = append(tasks, Task{Kind: BulkByDate, Date: dc.date})
			bulkDates[dc.date] = true
		}
	}

	// Per-entity covering ranges over whatever the bulk passes left behind.
	for _, entity := range m.Entities() {
		var minDate, maxDate string
		for _, d := range m.MissingDates(entity) {
			if bulkDates[d] {
				continue
			}
			if minDate == "" {
				minDate = d
			}
			maxDate = d
		}
		if minDate != "" {
			tasks = append(tasks, Task{
				Kind:   Backfill,
				Entity: entity,
				Start:  minDate,
				End:    maxDate,
			})
		}
	}

	return tasks
}
