package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketsync/internal/presence"
)

func fullMatrix(dates, entities []string) *presence.Matrix {
	m := presence.NewMatrix(dates, entities)
	for _, d := range dates {
		for _, e := range entities {
			m.Set(d, e, true)
		}
	}
	return m
}

func TestPlanEmptyWhenNothingMissing(t *testing.T) {
	m := fullMatrix([]string{"20240102", "20240103"}, []string{"A", "B"})
	p := NewPlanner(Config{Threshold: 2})

	assert.Empty(t, p.Plan(m))
}

func TestPlanBulkAtThreshold(t *testing.T) {
	dates := []string{"20240102", "20240103"}
	entities := []string{"A", "B", "C"}

	t.Run("missing equals threshold emits one bulk task", func(t *testing.T) {
		m := fullMatrix(dates, entities)
		m.Set("20240102", "A", false)
		m.Set("20240102", "B", false)
		m.Set("20240102", "C", false)

		p := NewPlanner(Config{Threshold: 3})
		plan := p.Plan(m)

		require.Len(t, plan, 1)
		assert.Equal(t, Task{Kind: BulkByDate, Date: "20240102"}, plan[0])
	})

	t.Run("one below threshold plans backfills only", func(t *testing.T) {
		m := fullMatrix(dates, entities)
		m.Set("20240102", "A", false)
		m.Set("20240102", "B", false)
		m.Set("20240102", "C", false)

		p := NewPlanner(Config{Threshold: 4})
		plan := p.Plan(m)

		require.Len(t, plan, 3)
		for _, task := range plan {
			assert.Equal(t, Backfill, task.Kind)
		}
	})
}

func TestPlanOrdering(t *testing.T) {
	dates := []string{"20240102", "20240103", "20240104", "20240105"}
	entities := []string{"A", "B", "C"}

	m := presence.NewMatrix(dates, entities)
	// 20240102: 3 missing, 20240103: 3 missing, 20240104: 2 missing,
	// 20240105: 1 missing (only C).
	m.Set("20240104", "C", true)
	m.Set("20240105", "A", true)
	m.Set("20240105", "B", true)

	p := NewPlanner(Config{Threshold: 3})
	plan := p.Plan(m)

	require.Len(t, plan, 5)
	assert.Equal(t, Task{Kind: BulkByDate, Date: "20240102"}, plan[0], "ties broken by date ascending")
	assert.Equal(t, Task{Kind: BulkByDate, Date: "20240103"}, plan[1])

	// Backfills follow in entity axis order, spanning only non-bulk dates.
	assert.Equal(t, Task{Kind: Backfill, Entity: "A", Start: "20240104", End: "20240104"}, plan[2])
	assert.Equal(t, Task{Kind: Backfill, Entity: "B", Start: "20240104", End: "20240104"}, plan[3])
	assert.Equal(t, Task{Kind: Backfill, Entity: "C", Start: "20240105", End: "20240105"}, plan[4])
}

func TestPlanBackfillCoversSpan(t *testing.T) {
	dates := []string{"20240102", "20240103", "20240104", "20240105"}
	m := fullMatrix(dates, []string{"A"})
	m.Set("20240102", "A", false)
	m.Set("20240105", "A", false)

	p := NewPlanner(Config{})
	plan := p.Plan(m)

	// One covering range per entity even with interior dates present; the
	// store write being idempotent makes the re-fetch harmless.
	require.Len(t, plan, 1)
	assert.Equal(t, Task{Kind: Backfill, Entity: "A", Start: "20240102", End: "20240105"}, plan[0])
}

func TestPlannerDefaultThreshold(t *testing.T) {
	p := NewPlanner(Config{})
	assert.Equal(t, DefaultThreshold, p.threshold)
}
