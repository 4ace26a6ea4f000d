// Package calendar answers "which dates are trading days" from a store-backed
// cache of per-exchange calendars, fetching from the provider only when a
// requested range exceeds cached coverage.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/marketsync/internal/domain"
	"github.com/aristath/marketsync/internal/store"
)

// Source is the consumed calendar contract, satisfied by the provider gate.
type Source interface {
	Calendar(ctx context.Context, exchange, start, end string) ([]domain.TradingDay, error)
}

// Service caches trading calendars and merges them across exchanges.
type Service struct {
	src       Source
	store     *store.Store
	exchanges []string
	log       zerolog.Logger

	mu sync.Mutex // serializes coverage extension per process
}

// NewService creates a calendar service for the configured exchanges.
func NewService(src Source, st *store.Store, exchanges []string, log zerolog.Logger) *Service {
	return &Service{
		src:       src,
		store:     st,
		exchanges: exchanges,
		log:       log.With().Str("component", "calendar").Logger(),
	}
}

// ensureCoverage extends the cached span of one exchange so it contains r.
// Only the missing head and tail segments are fetched.
func (s *Service) ensureCoverage(ctx context.Context, exchange string, r domain.DateRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	span, found, err := s.store.CalendarSpan(ctx, exchange)
	if err != nil {
		return err
	}

	var gaps []domain.DateRange
	if !found {
		gaps = append(gaps, r)
	} else {
		if r.Start < span.Start {
			gaps = append(gaps, domain.DateRange{Start: r.Start, End: span.Start})
		}
		if r.End > span.End {
			gaps = append(gaps, domain.DateRange{Start: span.End, End: r.End})
		}
	}

	for _, gap := range gaps {
		s.log.Info().
			Str("exchange", exchange).
			Str("start", gap.Start).
			Str("end", gap.End).
			Msg("Extending calendar coverage")

		days, err := s.src.Calendar(ctx, exchange, gap.Start, gap.End)
		if err != nil {
			return fmt.Errorf("failed to fetch calendar for %s: %w", exchange, err)
		}
		if err := s.store.WriteCalendar(ctx, days); err != nil {
			return err
		}
	}

	return nil
}

// TradingDays returns the sorted union of open dates across all configured
// exchanges inside the range. A date counts as a trading day if any exchange
// is open on it.
func (s *Service) TradingDays(ctx context.Context, r domain.DateRange) ([]string, error) {
	open := make(map[string]struct{})

	for _, exchange := range s.exchanges {
		if err := s.ensureCoverage(ctx, exchange, r); err != nil {
			return nil, err
		}
		days, err := s.store.ReadCalendar(ctx, exchange, r)
		if err != nil {
			return nil, err
		}
		for _, d := range days {
			if d.IsOpen {
				open[d.CalDate] = struct{}{}
			}
		}
	}

	dates := make([]string, 0, len(open))
	for d := range open {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// IsTradingDay reports whether one exchange is open on a date.
func (s *Service) IsTradingDay(ctx context.Context, date, exchange string) (bool, error) {
	r := domain.DateRange{Start: date, End: date}
	if err := s.ensureCoverage(ctx, exchange, r); err != nil {
		return false, err
	}
	days, err := s.store.ReadCalendar(ctx, exchange, r)
	if err != nil {
		return false, err
	}
	for _, d := range days {
		if d.CalDate == date {
			return d.IsOpen, nil
		}
	}
	return false, nil
}

// Exchanges returns the configured exchange list.
func (s *Service) Exchanges() []string {
	return s.exchanges
}
