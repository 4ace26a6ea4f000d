package presence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/database"
	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// calendarStub serves a fixed set of open dates for every exchange.
type calendarStub struct {
	open []string
}

func (c *calendarStub) Calendar(_ context.Context, exchange, start, end string) ([]domain.TradingDay, error) {
	var days []domain.TradingDay
	for _, d := range c.open {
		if d >= start && d <= end {
			days = append(days, domain.TradingDay{Exchange: exchange, CalDate: d, IsOpen: true})
		}
	}
	return days, nil
}

func newTestDeps(t *testing.T, open []string) (*store.Store, *calendar.Service) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db, zerolog.Nop())
	require.NoError(t, err)

	cal := calendar.NewService(&calendarStub{open: open}, st, []string{"SSE"}, zerolog.Nop())
	return st, cal
}

func seedBars(t *testing.T, st *store.Store, tsCode string, dates ...string) {
	t.Helper()
	var bars []domain.Bar
	for _, d := range dates {
		bars = append(bars, domain.Bar{TsCode: tsCode, TradeDate: d, Close: 10})
	}
	require.NoError(t, st.WriteBars(context.Background(), bars, store.WriteOptions{Strategy: store.Upsert}))
}

func TestBuildAndDetectGaps(t *testing.T) {
	open := []string{"20240101", "20240102", "20240103", "20240108", "20240109", "20240110"}
	st, cal := newTestDeps(t, open)
	ctx := context.Background()
	r := domain.DateRange{Start: "20240101", End: "20240110"}

	seedBars(t, st, "000001.SZ", "20240101", "20240102", "20240108", "20240109")

	b := NewBuilder(st, cal, 4, zerolog.Nop())
	m, err := b.Build(ctx, []string{"000001.SZ", "600000.SH"}, r)
	require.NoError(t, err)

	assert.Equal(t, open, m.Dates(), "date axis is the trading-day list")
	assert.True(t, m.Present("20240101", "000001.SZ"))
	assert.False(t, m.Present("20240103", "000001.SZ"))

	d := NewDetector(cal)
	missing, err := d.Missing(ctx, m, "000001.SZ", r)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240103", "20240110"}, missing)

	missing, err = d.Missing(ctx, m, "600000.SH", r)
	require.NoError(t, err)
	assert.Equal(t, open, missing, "entity with no rows misses every trading day")
}

func TestBuildSkipsNonTradingDays(t *testing.T) {
	st, cal := newTestDeps(t, []string{"20240102", "20240103"})
	ctx := context.Background()

	// A row on a non-trading day must not appear on the matrix axes.
	seedBars(t, st, "000001.SZ", "20240102", "20240106")

	b := NewBuilder(st, cal, 2, zerolog.Nop())
	m, err := b.Build(ctx, []string{"000001.SZ"}, domain.DateRange{Start: "20240101", End: "20240110"})
	require.NoError(t, err)

	assert.Equal(t, []string{"20240102", "20240103"}, m.Dates())
	assert.True(t, m.Present("20240102", "000001.SZ"))
	assert.False(t, m.Present("20240106", "000001.SZ"))
}
