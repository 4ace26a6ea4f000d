package presence

import (
	"context"

	"github.com/aristath/marketsync/internal/calendar"
	"github.com/aristath/marketsync/internal/domain"
)

// Detector computes the set difference between required trading days and the
// dates an entity already has.
type Detector struct {
	cal *calendar.Service
}

// NewDetector creates a gap detector over the given calendar.
func NewDetector(cal *calendar.Service) *Detector {
	return &Detector{cal: cal}
}

// Missing returns TradingDays(r) minus the entity's present dates, sorted
// ascending. Dates the matrix does not track count as missing.
func (d *Detector) Missing(ctx context.Context, m *Matrix, entity string, r domain.DateRange) ([]string, error) {
	tradingDays, err := d.cal.TradingDays(ctx, r)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, day := range tradingDays {
		if !m.Present(day, entity) {
			missing = append(missing, day)
		}
	}
	return missing, nil
}
