package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/marketsync/internal/domain"
)

// WriteCalendar upserts trading-day rows for the calendar cache.
func (s *Store) WriteCalendar(ctx context.Context, days []domain.TradingDay) error {
	if len(days) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &Error{Op: "write calendar", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_calendar (exchange, cal_date, is_open)
		VALUES (?, ?, ?)
		ON CONFLICT (exchange, cal_date) DO UPDATE SET is_open = excluded.is_open
	`)
	if err != nil {
		return &Error{Op: "write calendar", Err: err}
	}
	defer stmt.Close()

	for _, d := range days {
		isOpen := 0
		if d.IsOpen {
			isOpen = 1
		}
		if _, err := stmt.ExecContext(ctx, d.Exchange, d.CalDate, isOpen); err != nil {
			return &Error{Op: fmt.Sprintf("write calendar %s/%s", d.Exchange, d.CalDate), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "write calendar", Err: err}
	}
	return nil
}

// ReadCalendar returns cached calendar rows for one exchange in the range.
func (s *Store) ReadCalendar(ctx context.Context, exchange string, r domain.DateRange) ([]domain.TradingDay, error) {
	query := `
		SELECT exchange, cal_date, is_open FROM trade_calendar
		WHERE exchange = ? AND cal_date >= ? AND cal_date <= ?
		ORDER BY cal_date ASC
	`
	rows, err := s.db.Conn().QueryContext(ctx, query, exchange, r.Start, r.End)
	if err != nil {
		return nil, &Error{Op: "read calendar", Err: err}
	}
	defer rows.Close()

	var days []domain.TradingDay
	for rows.Next() {
		var d domain.TradingDay
		var isOpen int
		if err := rows.Scan(&d.Exchange, &d.CalDate, &isOpen); err != nil {
			return nil, &Error{Op: "scan calendar", Err: err}
		}
		d.IsOpen = isOpen == 1
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "iterate calendar", Err: err}
	}
	return days, nil
}

// CalendarSpan returns the cached [min, max] date span for an exchange.
// found is false when nothing is cached yet.
func (s *Store) CalendarSpan(ctx context.Context, exchange string) (span domain.DateRange, found bool, err error) {
	query := `SELECT MIN(cal_date), MAX(cal_date) FROM trade_calendar WHERE exchange = ?`

	var minDate, maxDate sql.NullString
	err = s.db.Conn().QueryRowContext(ctx, query, exchange).Scan(&minDate, &maxDate)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DateRange{}, false, nil
	}
	if err != nil {
		return domain.DateRange{}, false, &Error{Op: "calendar span", Err: err}
	}
	if !minDate.Valid || !maxDate.Valid {
		return domain.DateRange{}, false, nil
	}
	return domain.DateRange{Start: minDate.String, End: maxDate.String}, true, nil
}
