package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aristath/marketsync/internal/domain"
)

var (
	barKeyCols = []string{"ts_code", "trade_date"}
	barValCols = []string{
		"open", "high", "low", "close", "vol", "amount",
		"open_qfq", "high_qfq", "low_qfq", "close_qfq",
	}

	// AdjustedColumns are the derived price columns. Raw-bar sync writes list
	// them as preserve-null so a refresh never erases computed prices.
	AdjustedColumns = []string{"open_qfq", "high_qfq", "low_qfq", "close_qfq"}
)

// WriteBars persists bars in batches. Each batch is one transaction: a batch
// failure aborts this call but leaves earlier batches committed.
func (s *Store) WriteBars(ctx context.Context, bars []domain.Bar, opts WriteOptions) error {
	if len(bars) == 0 {
		return nil
	}

	query := buildInsert("daily_kline", barKeyCols, barValCols, opts)
	size := opts.batchSize()

	for start := 0; start < len(bars); start += size {
		end := start + size
		if end > len(bars) {
			end = len(bars)
		}
		if err := s.writeBarBatch(ctx, query, bars[start:end]); err != nil {
			return &Error{Op: fmt.Sprintf("write bars batch %d..%d", start, end), Err: err}
		}
	}

	s.log.Debug().Int("rows", len(bars)).Msg("Bars written")
	return nil
}

func (s *Store) writeBarBatch(ctx context.Context, query string, batch []domain.Bar) error {
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

	for _, b := range batch {
		_, err := stmt.ExecContext(ctx,
			b.TsCode, b.TradeDate,
			b.Open, b.High, b.Low, b.Close, b.Vol, b.Amount,
			nullFloat(b.OpenQfq), nullFloat(b.HighQfq), nullFloat(b.LowQfq), nullFloat(b.CloseQfq),
		)
		if err != nil {
			return fmt.Errorf("failed to write bar %s/%s: %w", b.TsCode, b.TradeDate, err)
		}
	}

	return tx.Commit()
}

// ReadBars returns all bars for one entity inside the range, date ascending.
func (s *Store) ReadBars(ctx context.Context, tsCode string, r domain.DateRange) ([]domain.Bar, error) {
	query := `
		SELECT ts_code, trade_date, open, high, low, close, vol, amount,
		       open_qfq, high_qfq, low_qfq, close_qfq
		FROM daily_kline
		WHERE ts_code = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC
	`
	rows, err := s.db.Conn().QueryContext(ctx, query, tsCode, r.Start, r.End)
	if err != nil {
		return nil, &Error{Op: "read bars", Err: err}
	}
	defer rows.Close()

	return scanBars(rows)
}

// ReadBarsMulti returns bars for several entities inside the range, ordered
// by entity then date.
func (s *Store) ReadBarsMulti(ctx context.Context, tsCodes []string, r domain.DateRange) ([]domain.Bar, error) {
	if len(tsCodes) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tsCodes)), ", ")
	query := fmt.Sprintf(`
		SELECT ts_code, trade_date, open, high, low, close, vol, amount,
		       open_qfq, high_qfq, low_qfq, close_qfq
		FROM daily_kline
		WHERE ts_code IN (%s) AND trade_date >= ? AND trade_date <= ?
		ORDER BY ts_code ASC, trade_date ASC
	`, placeholders)

	args := make([]interface{}, 0, len(tsCodes)+2)
	for _, c := range tsCodes {
		args = append(args, c)
	}
	args = append(args, r.Start, r.End)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &Error{Op: "read bars multi", Err: err}
	}
	defer rows.Close()

	return scanBars(rows)
}

// PresentDates returns the dates inside the range for which the entity has a
// stored bar, ascending. Feeds the presence matrix scan.
func (s *Store) PresentDates(ctx context.Context, tsCode string, r domain.DateRange) ([]string, error) {
	query := `
		SELECT trade_date FROM daily_kline
		WHERE ts_code = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC
	`
	rows, err := s.db.Conn().QueryContext(ctx, query, tsCode, r.Start, r.End)
	if err != nil {
		return nil, &Error{Op: "present dates", Err: err}
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, &Error{Op: "present dates scan", Err: err}
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "present dates", Err: err}
	}
	return dates, nil
}

func scanBars(rows *sql.Rows) ([]domain.Bar, error) {
	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var open, high, low, clos, vol, amount sql.NullFloat64
		var oq, hq, lq, cq sql.NullFloat64

		err := rows.Scan(&b.TsCode, &b.TradeDate,
			&open, &high, &low, &clos, &vol, &amount,
			&oq, &hq, &lq, &cq)
		if err != nil {
			return nil, &Error{Op: "scan bar", Err: err}
		}

		b.Open = open.Float64
		b.High = high.Float64
		b.Low = low.Float64
		b.Close = clos.Float64
		b.Vol = vol.Float64
		b.Amount = amount.Float64
		b.OpenQfq = floatPtr(oq)
		b.HighQfq = floatPtr(hq)
		b.LowQfq = floatPtr(lq)
		b.CloseQfq = floatPtr(cq)

		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "iterate bars", Err: err}
	}
	return bars, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
