package store

import (
	"context"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

var (
	adjKeyCols = []string{"ts_code", "trade_date"}
	adjValCols = []string{"adj_factor"}
)

// WriteAdjustments persists adjustment events in batches, same transaction
// semantics as WriteBars.
func (s *Store) WriteAdjustments(ctx context.Context, events []domain.AdjustmentEvent, opts WriteOptions) error {
	if len(events) == 0 {
		return nil
	}

	query := buildInsert("adj_factor", adjKeyCols, adjValCols, opts)
	size := opts.batchSize()

	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		if err := s.writeAdjBatch(ctx, query, events[start:end]); err != nil {
			return &Error{Op: fmt.Sprintf("write adjustments batch %d..%d", start, end), Err: err}
		}
	}

	s.log.Debug().Int("rows", len(events)).Msg("Adjustment events written")
	return nil
}

func (s *Store) writeAdjBatch(ctx context.Context, query string, batch []domain.AdjustmentEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.TsCode, e.TradeDate, e.AdjFactor); err != nil {
			return fmt.Errorf("failed to write adjustment %s/%s: %w", e.TsCode, e.TradeDate, err)
		}
	}

	return tx.Commit()
}

// ReadAdjustments returns the full adjustment history for one entity, date
// ascending. Never date-filtered: the forward-adjustment calculator needs the
// whole step function, not a window of it.
func (s *Store) ReadAdjustments(ctx context.Context, tsCode string) ([]domain.AdjustmentEvent, error) {
	query := `
		SELECT ts_code, trade_date, adj_factor
		FROM adj_factor
		WHERE ts_code = ?
		ORDER BY trade_date ASC
	`
	rows, err := s.db.Conn().QueryContext(ctx, query, tsCode)
	if err != nil {
		return nil, &Error{Op: "read adjustments", Err: err}
	}
	defer rows.Close()

	var events []domain.AdjustmentEvent
	for rows.Next() {
		var e domain.AdjustmentEvent
		if err := rows.Scan(&e.TsCode, &e.TradeDate, &e.AdjFactor); err != nil {
			return nil, &Error{Op: "scan adjustment", Err: err}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "iterate adjustments", Err: err}
	}
	return events, nil
}

// EntitiesWithAdjustments returns the distinct entities that have at least
// one adjustment event inside the range. Drives the incremental recompute:
// only entities whose factor changed need their adjusted prices redone.
func (s *Store) EntitiesWithAdjustments(ctx context.Context, r domain.DateRange) ([]string, error) {
	query := `
		SELECT DISTINCT ts_code FROM adj_factor
		WHERE trade_date >= ? AND trade_date <= ?
		ORDER BY ts_code ASC
	`
	rows, err := s.db.Conn().QueryContext(ctx, query, r.Start, r.End)
	if err != nil {
		return nil, &Error{Op: "entities with adjustments", Err: err}
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, &Error{Op: "entities with adjustments scan", Err: err}
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "entities with adjustments", Err: err}
	}
	return codes, nil
}
