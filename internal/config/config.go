package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/marketsync/internal/domain"
)

// Error is a fatal configuration error. It is returned at construction time,
// before any sync work starts.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// Config holds application configuration
type Config struct {
	ProviderToken string // API token for the market-data provider
	ProviderURL   string // HTTP endpoint of the provider

	DatabasePath string // SQLite database file
	CacheDir     string // directory for the presence matrix and sync cache files

	Exchanges []string // exchanges whose calendars define the trading-day union

	SyncStartDate string // first tracked trading date, YYYYMMDD

	// Provider gate
	MaxInflightCalls  int           // simultaneous provider calls
	CallsPerWindow    int           // rate window budget
	WindowDuration    time.Duration // rate window length
	RetryAttempts     int           // attempts per provider call
	RetryDelay        time.Duration // fixed delay between attempts
	CallTimeout       time.Duration // per-call timeout

	// Sync engine
	SyncWorkers    int // fetch worker pool size
	ScanWorkers    int // presence scan concurrency
	BulkThreshold  int // missing-per-date count that triggers a bulk-by-date fetch
	WriteBatchSize int // rows per store write batch

	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ProviderToken:    getEnv("PROVIDER_TOKEN", ""),
		ProviderURL:      getEnv("PROVIDER_URL", "http://api.waditu.com"),
		DatabasePath:     getEnv("DATABASE_PATH", "./data/market.db"),
		CacheDir:         getEnv("CACHE_DIR", "./cache"),
		Exchanges:        getEnvAsList("EXCHANGES", []string{"SSE", "SZSE"}),
		SyncStartDate:    getEnv("SYNC_START_DATE", "20150101"),
		MaxInflightCalls: getEnvAsInt("MAX_INFLIGHT_CALLS", 2),
		CallsPerWindow:   getEnvAsInt("CALLS_PER_WINDOW", 500),
		WindowDuration:   getEnvAsDuration("WINDOW_DURATION", 60*time.Second),
		RetryAttempts:    getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:       getEnvAsDuration("RETRY_DELAY", 2*time.Second),
		CallTimeout:      getEnvAsDuration("CALL_TIMEOUT", 30*time.Second),
		SyncWorkers:      getEnvAsInt("SYNC_WORKERS", 4),
		ScanWorkers:      getEnvAsInt("SCAN_WORKERS", 8),
		BulkThreshold:    getEnvAsInt("BULK_THRESHOLD", 1000),
		WriteBatchSize:   getEnvAsInt("WRITE_BATCH_SIZE", 1000),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.ProviderToken == "" {
		return &Error{Field: "PROVIDER_TOKEN", Reason: "provider credentials are required"}
	}
	if c.DatabasePath == "" {
		return &Error{Field: "DATABASE_PATH", Reason: "is required"}
	}
	if len(c.Exchanges) == 0 {
		return &Error{Field: "EXCHANGES", Reason: "at least one exchange is required"}
	}
	if c.BulkThreshold < 1 {
		return &Error{Field: "BULK_THRESHOLD", Reason: "must be positive"}
	}
	if c.SyncWorkers < 1 {
		return &Error{Field: "SYNC_WORKERS", Reason: "must be positive"}
	}
	if _, err := domain.NormalizeDate(c.SyncStartDate); err != nil {
		return &Error{Field: "SYNC_START_DATE", Reason: "must be a YYYYMMDD date"}
	}
	return nil
}

// SyncRange returns the tracked date range. End is left empty: the engine
// resolves it to the current date on every run.
func (c *Config) SyncRange() domain.DateRange {
	start, _ := domain.NormalizeDate(c.SyncStartDate)
	return domain.DateRange{Start: start}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
