// Package adjust derives forward-adjusted (QFQ) prices from raw bars and
// sparse adjustment events:
//
//	adjusted(T) = raw(T) * latestFactor / factorAsOf(T)
//
// where factorAsOf is the step function formed by the entity's events and
// latestFactor is the factor of the most recent event on record. The bar on
// the latest event's date therefore adjusts with ratio exactly 1.
package adjust

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// QualityWarning records a bar whose adjusted prices could not be computed.
// Warnings are reported, never fatal; the affected fields stay null.
type QualityWarning struct {
	TsCode    string
	TradeDate string
	Reason    string
}

func (w QualityWarning) String() string {
	return fmt.Sprintf("%s/%s: %s", w.TsCode, w.TradeDate, w.Reason)
}

// Calculator computes adjusted prices and writes them back to the store.
type Calculator struct {
	store *store.Store
	log   zerolog.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(st *store.Store, log zerolog.Logger) *Calculator {
	return &Calculator{
		store: st,
		log:   log.With().Str("component", "adjust").Logger(),
	}
}

// Adjust fills the adjusted fields of bars from events. Input must be a
// single entity's timeline: callers group multi-entity data by entity before
// calling. Both slices are sorted here; the as-of lookup is a two-pointer
// merge over the sorted timelines, O(n+m) total.
//
// Bars predating the first event, and events with non-positive or NaN
// factors, leave the bar's adjusted fields nil and produce a warning.
func Adjust(bars []domain.Bar, events []domain.AdjustmentEvent) ([]domain.Bar, []QualityWarning) {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.Slice(out, func(i, j int) bool { return out[i].TradeDate < out[j].TradeDate })

	if len(events) == 0 {
		warnings := make([]QualityWarning, 0, len(out))
		for i := range out {
			clearAdjusted(&out[i])
			warnings = append(warnings, QualityWarning{
				TsCode:    out[i].TsCode,
				TradeDate: out[i].TradeDate,
				Reason:    "no adjustment events on record",
			})
		}
		return out, warnings
	}

	sorted := make([]domain.AdjustmentEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TradeDate < sorted[j].TradeDate })

	// Always the most recent factor on record, independent of bar dates.
	latest := sorted[len(sorted)-1].AdjFactor

	var warnings []QualityWarning
	ei := -1 // index of the latest event with date <= current bar date
	for i := range out {
		for ei+1 < len(sorted) && sorted[ei+1].TradeDate <= out[i].TradeDate {
			ei++
		}

		if ei < 0 {
			clearAdjusted(&out[i])
			warnings = append(warnings, QualityWarning{
				TsCode:    out[i].TsCode,
				TradeDate: out[i].TradeDate,
				Reason:    "bar predates earliest adjustment event",
			})
			continue
		}

		asOf := sorted[ei].AdjFactor
		if asOf <= 0 || math.IsNaN(asOf) || latest <= 0 || math.IsNaN(latest) {
			clearAdjusted(&out[i])
			warnings = append(warnings, QualityWarning{
				TsCode:    out[i].TsCode,
				TradeDate: out[i].TradeDate,
				Reason:    fmt.Sprintf("invalid adjustment factor %v", asOf),
			})
			continue
		}

		ratio := latest / asOf
		out[i].OpenQfq = f(out[i].Open * ratio)
		out[i].HighQfq = f(out[i].High * ratio)
		out[i].LowQfq = f(out[i].Low * ratio)
		out[i].CloseQfq = f(out[i].Close * ratio)
	}

	return out, warnings
}

// Recompute reads one entity's committed bars and full adjustment history,
// computes adjusted prices, and writes them back. The writeback is an upsert
// carrying the raw columns unchanged, so stored OHLCV is never disturbed.
func (c *Calculator) Recompute(ctx context.Context, tsCode string, r domain.DateRange) ([]QualityWarning, error) {
	bars, err := c.store.ReadBars(ctx, tsCode, r)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	events, err := c.store.ReadAdjustments(ctx, tsCode)
	if err != nil {
		return nil, err
	}

	adjusted, warnings := Adjust(bars, events)
	for _, w := range warnings {
		c.log.Warn().
			Str("entity", w.TsCode).
			Str("date", w.TradeDate).
			Str("reason", w.Reason).
			Msg("Adjusted prices left null")
	}

	if err := c.store.WriteBars(ctx, adjusted, store.WriteOptions{Strategy: store.Upsert}); err != nil {
		return warnings, err
	}

	c.log.Debug().
		Str("entity", tsCode).
		Int("bars", len(adjusted)).
		Int("warnings", len(warnings)).
		Msg("Adjusted prices recomputed")

	return warnings, nil
}

// RecomputeEntities runs Recompute for each entity, collecting warnings.
// A failed entity is logged and skipped; one bad entity must not block the
// rest.
func (c *Calculator) RecomputeEntities(ctx context.Context, tsCodes []string, r domain.DateRange) []QualityWarning {
	var all []QualityWarning
	for _, code := range tsCodes {
		warnings, err := c.Recompute(ctx, code, r)
		if err != nil {
			c.log.Error().Err(err).Str("entity", code).Msg("Adjustment recompute failed")
			continue
		}
		all = append(all, warnings...)
	}
	return all
}

func clearAdjusted(b *domain.Bar) {
	b.OpenQfq = nil
	b.HighQfq = nil
	b.LowQfq = nil
	b.CloseQfq = nil
}

func f(v float64) *float64 {
	return &v
}
