// Package store is the durable source of truth for bars, adjustment events
// and cached trading calendars. All writes are batched and idempotent; the
// presence matrix is a disposable cache that can always be rebuilt from here.
package store

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/database"
)

// Error is a read or write failure against the relational backend. A failed
// batch aborts its own write call only; batches committed before it stay
// committed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WriteStrategy controls conflict behaviour on the primary key.
type WriteStrategy int

const (
	// Append inserts new rows and silently skips conflicting primary keys.
	Append WriteStrategy = iota
	// Replace overwrites all non-key columns on conflict.
	Replace
	// Upsert merges non-key columns on conflict, honouring WriteOptions.PreserveNull.
	Upsert
)

// WriteOptions parameterizes a batched write.
type WriteOptions struct {
	Strategy WriteStrategy
	// PreserveNull lists columns for which an incoming NULL keeps the stored
	// value instead of overwriting it. Only meaningful with Upsert.
	PreserveNull []string
	// BatchSize overrides the default of 1000 rows per transaction.
	BatchSize int
}

const defaultBatchSize = 1000

func (o WriteOptions) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return defaultBatchSize
}

func (o WriteOptions) preserves(col string) bool {
	for _, c := range o.PreserveNull {
		if c == col {
			return true
		}
	}
	return false
}

// Store persists bars, adjustment events and calendar rows in SQLite.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates the store and ensures the schema exists.
func New(db *database.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS daily_kline (
			ts_code    TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			vol        REAL,
			amount     REAL,
			open_qfq   REAL,
			high_qfq   REAL,
			low_qfq    REAL,
			close_qfq  REAL,
			PRIMARY KEY (ts_code, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_kline_date ON daily_kline (trade_date)`,
		`CREATE TABLE IF NOT EXISTS adj_factor (
			ts_code    TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			adj_factor REAL NOT NULL,
			PRIMARY KEY (ts_code, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adj_factor_date ON adj_factor (trade_date)`,
		`CREATE TABLE IF NOT EXISTS trade_calendar (
			exchange TEXT NOT NULL,
			cal_date TEXT NOT NULL,
			is_open  INTEGER NOT NULL,
			PRIMARY KEY (exchange, cal_date)
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return &Error{Op: "init schema", Err: err}
		}
	}
	return nil
}

// buildInsert renders the INSERT statement for one table under a strategy.
// keyCols are the primary key columns; valCols everything else.
func buildInsert(table string, keyCols, valCols []string, opts WriteOptions) string {
	all := append(append([]string{}, keyCols...), valCols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	cols := strings.Join(all, ", ")

	switch opts.Strategy {
	case Append:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	case Replace:
		return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	default:
		sets := make([]string, 0, len(valCols))
		for _, c := range valCols {
			if opts.preserves(c) {
				sets = append(sets, fmt.Sprintf("%s = COALESCE(excluded.%s, %s.%s)", c, c, table, c))
			} else {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
			}
		}
		return fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			table, cols, placeholders, strings.Join(keyCols, ", "), strings.Join(sets, ", "),
		)
	}
}
