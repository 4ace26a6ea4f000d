package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketsync/internal/adjust"
	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/dispatch"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/presence"
	"github.com/aristath/marketsync/internal/store"
)

var testDays = []string{"20240102", "20240103", "20240104", "20240105"}

// fakeProvider serves a fixed market: every entity has one bar per trading
// day and adjustment events on the first and last days.
type fakeProvider struct {
	mu           sync.Mutex
	universe     []string
	failEntities map[string]bool
	dailyCalls   int
	bulkCalls    int
	basicsCalls  int
	onDaily      func() // invoked at the start of every Daily call
}

func (f *fakeProvider) barFor(tsCode, date string) domain.Bar {
	return domain.Bar{TsCode: tsCode, TradeDate: date, Open: 9, High: 11, Low: 8, Close: 10, Vol: 100, Amount: 1000}
}

func (f *fakeProvider) Daily(_ context.Context, tsCode, start, end string) ([]domain.Bar, error) {
	f.mu.Lock()
	f.dailyCalls++
	hook := f.onDaily
	fail := f.failEntities[tsCode]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return nil, errors.New("simulated provider outage")
	}

	var bars []domain.Bar
	for _, d := range testDays {
		if d >= start && d <= end {
			bars = append(bars, f.barFor(tsCode, d))
		}
	}
	return bars, nil
}

func (f *fakeProvider) DailyByDate(_ context.Context, date string) ([]domain.Bar, error) {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()

	var bars []domain.Bar
	for _, code := range f.universe {
		bars = append(bars, f.barFor(code, date))
	}
	return bars, nil
}

func (f *fakeProvider) AdjFactors(_ context.Context, tsCode, start, end string) ([]domain.AdjustmentEvent, error) {
	all := []domain.AdjustmentEvent{
		{TsCode: tsCode, TradeDate: testDays[0], AdjFactor: 1.0},
		{TsCode: tsCode, TradeDate: testDays[len(testDays)-1], AdjFactor: 2.0},
	}
	var events []domain.AdjustmentEvent
	for _, e := range all {
		if e.TradeDate >= start && e.TradeDate <= end {
			events = append(events, e)
		}
	}
	return events, nil
}

func (f *fakeProvider) StockBasics(context.Context) ([]string, error) {
	f.mu.Lock()
	f.basicsCalls++
	f.mu.Unlock()
	return append([]string{}, f.universe...), nil
}

// calendarStub answers every exchange with the fixed trading days.
type calendarStub struct{}

func (calendarStub) Calendar(_ context.Context, exchange, start, end string) ([]domain.TradingDay, error) {
	var days []domain.TradingDay
	for _, d := range testDays {
		if d >= start && d <= end {
			days = append(days, domain.TradingDay{Exchange: exchange, CalDate: d, IsOpen: true})
		}
	}
	return days, nil
}

func newTestEngine(t *testing.T, p *fakeProvider, threshold int) (*Engine, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db, zerolog.Nop())
	require.NoError(t, err)

	cal := calendar.NewService(calendarStub{}, st, []string{"SSE"}, zerolog.Nop())
	builder := presence.NewBuilder(st, cal, 2, zerolog.Nop())
	planner := dispatch.NewPlanner(dispatch.Config{Threshold: threshold})
	calc := adjust.NewCalculator(st, zerolog.Nop())

	engine := NewEngine(EngineConfig{
		Range:        domain.DateRange{Start: testDays[0], End: testDays[len(testDays)-1]},
		Workers:      2,
		SnapshotPath: filepath.Join(dir, "presence_matrix.msgpack"),
		CachePath:    filepath.Join(dir, "sync_cache.json"),
	}, p, st, builder, planner, calc, zerolog.Nop())

	return engine, st
}

func TestRunBackfillsFromEmpty(t *testing.T) {
	p := &fakeProvider{universe: []string{"000001.SZ", "600000.SH"}}
	engine, st := newTestEngine(t, p, 100)
	ctx := context.Background()

	rep, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Attempted, "one backfill per entity")
	assert.Equal(t, 2, rep.Succeeded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 2, rep.Entities)
	assert.False(t, rep.Cancelled)

	r := domain.DateRange{Start: testDays[0], End: testDays[len(testDays)-1]}
	for _, code := range p.universe {
		bars, err := st.ReadBars(ctx, code, r)
		require.NoError(t, err)
		require.Len(t, bars, len(testDays))
		for _, b := range bars {
			require.NotNil(t, b.CloseQfq, "adjustment stage filled adjusted prices")
		}
		// Latest event is on the last day with the latest factor, ratio 1.
		assert.Equal(t, 10.0, *bars[len(bars)-1].CloseQfq)
	}
}

func TestRunUsesBulkAboveThreshold(t *testing.T) {
	p := &fakeProvider{universe: []string{"A.SZ", "B.SZ", "C.SZ"}}
	engine, st := newTestEngine(t, p, 2)
	ctx := context.Background()

	rep, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, len(testDays), rep.Attempted, "every date qualifies for a bulk fetch")
	assert.Equal(t, len(testDays), p.bulkCalls)
	assert.Zero(t, p.dailyCalls, "no per-entity backfills remain after the bulk pass")

	bars, err := st.ReadBars(ctx, "C.SZ", domain.DateRange{Start: testDays[0], End: testDays[len(testDays)-1]})
	require.NoError(t, err)
	assert.Len(t, bars, len(testDays))
}

func TestRunSecondPassShortCircuits(t *testing.T) {
	p := &fakeProvider{universe: []string{"000001.SZ", "600000.SH"}}
	engine, _ := newTestEngine(t, p, 100)
	ctx := context.Background()

	_, err := engine.Run(ctx)
	require.NoError(t, err)
	fetchesAfterFirst := p.dailyCalls

	rep, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, rep.Attempted, "same-day rerun over the same universe does no work")
	assert.Equal(t, fetchesAfterFirst, p.dailyCalls)
	assert.Equal(t, 2, p.basicsCalls, "universe discovery still runs to validate the cache")
}

func TestRunToleratesPartialFailure(t *testing.T) {
	p := &fakeProvider{
		universe:     []string{"000001.SZ", "600000.SH"},
		failEntities: map[string]bool{"600000.SH": true},
	}
	engine, st := newTestEngine(t, p, 100)
	ctx := context.Background()

	rep, err := engine.Run(ctx)
	require.NoError(t, err, "task failures are reported, not returned")

	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "600000.SH", rep.Failures[0].Entity)
	assert.Contains(t, rep.Failures[0].Reason, "simulated provider outage")

	bars, err := st.ReadBars(ctx, "000001.SZ", domain.DateRange{Start: testDays[0], End: testDays[len(testDays)-1]})
	require.NoError(t, err)
	assert.Len(t, bars, len(testDays), "healthy entities complete despite the failure")
}

func TestRunCancellation(t *testing.T) {
	p := &fakeProvider{universe: []string{"A.SZ", "B.SZ", "C.SZ", "D.SZ"}}
	engine, _ := newTestEngine(t, p, 100)
	ctx := context.Background()

	// Cancel as soon as the first fetch starts: in-flight tasks finish,
	// queued ones are drained without fetching.
	p.onDaily = func() { engine.Cancel() }

	rep, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Cancelled)
	assert.Less(t, rep.Attempted, 4, "queued tasks were skipped after cancellation")

	_, found := NewCache(engine.cfg.CachePath).Load()
	assert.False(t, found, "cancelled run must not mark the day as covered")
}

func TestCacheRecordCovers(t *testing.T) {
	rec := Record{
		LastRunDate:        "20240105",
		CoveredEntityCount: 2,
		CoveredEntities:    []string{"A", "B"},
	}

	assert.True(t, rec.Covers("20240105", []string{"B", "A"}), "order must not matter")
	assert.False(t, rec.Covers("20240106", []string{"A", "B"}), "different day")
	assert.False(t, rec.Covers("20240105", []string{"A", "C"}), "different universe")
	assert.False(t, rec.Covers("20240105", []string{"A", "B", "C"}), "grown universe")
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "sync_cache.json"))

	_, found := c.Load()
	assert.False(t, found)

	require.NoError(t, c.Save(Record{LastRunDate: "20240105", CoveredEntities: []string{"B", "A"}}))

	rec, found := c.Load()
	require.True(t, found)
	assert.Equal(t, "20240105", rec.LastRunDate)
	assert.Equal(t, []string{"A", "B"}, rec.CoveredEntities, "entities persisted sorted")
	assert.Equal(t, 2, rec.CoveredEntityCount)
}
