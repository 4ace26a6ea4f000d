// Package provider defines the external market-data contract and the
// rate-limited gate every caller goes through. The provider enforces one
// rate budget per credential, so a single Client instance must be shared by
// all dispatchers and workers in the process.
package provider

import (
	"context"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

// API is the consumed provider contract. Implementations take and return
// canonical YYYYMMDD dates; callers normalize before crossing this boundary.
type API interface {
	// Daily returns raw daily bars for one entity in [start, end].
	Daily(ctx context.Context, tsCode, start, end string) ([]domain.Bar, error)

	// DailyByDate returns raw daily bars for every entity on one date.
	DailyByDate(ctx context.Context, date string) ([]domain.Bar, error)

	// AdjFactors returns adjustment events for one entity in [start, end].
	AdjFactors(ctx context.Context, tsCode, start, end string) ([]domain.AdjustmentEvent, error)

	// Calendar returns the trading calendar of one exchange in [start, end].
	Calendar(ctx context.Context, exchange, start, end string) ([]domain.TradingDay, error)

	// StockBasics returns the listed entity universe.
	StockBasics(ctx context.Context) ([]string, error)
}

// Error wraps the last failure of an exhausted retry loop.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
