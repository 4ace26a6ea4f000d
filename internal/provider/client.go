package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/marketsync/internal/domain"
)

// ClientConfig holds the gate parameters. Zero values take the documented
// defaults.
type ClientConfig struct {
	MaxInflight    int           // simultaneous calls (default 2)
	CallsPerWindow int           // window budget (default 500)
	WindowDuration time.Duration // window length (default 60s)
	RetryAttempts  int           // attempts per call (default 3)
	RetryDelay     time.Duration // fixed delay between attempts (default 2s)
	CallTimeout    time.Duration // per-attempt timeout (default 30s)
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.MaxInflight <= 0 {
		c.MaxInflight = 2
	}
	if c.CallsPerWindow <= 0 {
		c.CallsPerWindow = 500
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = 60 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Client gates all provider traffic behind a concurrency cap, a fixed rate
// window and a retry loop. Construct exactly one per credential per process
// and inject it everywhere; a second instance would split the shared budget.
type Client struct {
	api API
	cfg ClientConfig
	log zerolog.Logger

	sem *semaphore.Weighted

	mu          sync.Mutex
	windowStart time.Time
	windowCalls int
}

// NewClient wraps api with the rate-limited gate.
func NewClient(api API, cfg ClientConfig, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		api: api,
		cfg: cfg,
		log: log.With().Str("component", "provider_gate").Logger(),
		sem: semaphore.NewWeighted(int64(cfg.MaxInflight)),
	}
}

// waitForBudget blocks until the current rate window has budget left, then
// consumes one call from it.
func (c *Client) waitForBudget(ctx context.Context) error {
	for {
		c.mu.Lock()
		now := time.Now()
		if c.windowStart.IsZero() || now.Sub(c.windowStart) >= c.cfg.WindowDuration {
			c.windowStart = now
			c.windowCalls = 0
		}
		if c.windowCalls < c.cfg.CallsPerWindow {
			c.windowCalls++
			c.mu.Unlock()
			return nil
		}
		wait := c.cfg.WindowDuration - now.Sub(c.windowStart)
		c.mu.Unlock()

		c.log.Debug().Dur("wait", wait).Msg("Rate window exhausted, blocking until reset")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// call runs fn through the semaphore, the rate window and the retry loop.
// Each attempt gets its own timeout so a stuck call fails and is retried
// instead of hanging the pool.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if err := c.waitForBudget(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < c.cfg.RetryAttempts {
			c.log.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", c.cfg.RetryAttempts).
				Msg("Provider call failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}

	return &Error{Op: op, Attempts: c.cfg.RetryAttempts, Err: lastErr}
}

// Daily fetches raw daily bars for one entity through the gate.
func (c *Client) Daily(ctx context.Context, tsCode, start, end string) ([]domain.Bar, error) {
	var out []domain.Bar
	err := c.call(ctx, "daily", func(ctx context.Context) error {
		bars, err := c.api.Daily(ctx, tsCode, start, end)
		if err != nil {
			return err
		}
		out = bars
		return nil
	})
	return out, err
}

// DailyByDate fetches the whole market for one date through the gate.
func (c *Client) DailyByDate(ctx context.Context, date string) ([]domain.Bar, error) {
	var out []domain.Bar
	err := c.call(ctx, "daily_by_date", func(ctx context.Context) error {
		bars, err := c.api.DailyByDate(ctx, date)
		if err != nil {
			return err
		}
		out = bars
		return nil
	})
	return out, err
}

// AdjFactors fetches adjustment events for one entity through the gate.
func (c *Client) AdjFactors(ctx context.Context, tsCode, start, end string) ([]domain.AdjustmentEvent, error) {
	var out []domain.AdjustmentEvent
	err := c.call(ctx, "adj_factors", func(ctx context.Context) error {
		events, err := c.api.AdjFactors(ctx, tsCode, start, end)
		if err != nil {
			return err
		}
		out = events
		return nil
	})
	return out, err
}

// Calendar fetches one exchange's trading calendar through the gate.
func (c *Client) Calendar(ctx context.Context, exchange, start, end string) ([]domain.TradingDay, error) {
	var out []domain.TradingDay
	err := c.call(ctx, "calendar", func(ctx context.Context) error {
		days, err := c.api.Calendar(ctx, exchange, start, end)
		if err != nil {
			return err
		}
		out = days
		return nil
	})
	return out, err
}

// StockBasics fetches the listed entity universe through the gate.
func (c *Client) StockBasics(ctx context.Context) ([]string, error) {
	var out []string
	err := c.call(ctx, "stock_basics", func(ctx context.Context) error {
		codes, err := c.api.StockBasics(ctx)
		if err != nil {
			return err
		}
		out = codes
		return nil
	})
	return out, err
}
