// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	// Store selects the backend: "postgres" or "sqlite".
	Store string

	// Postgres settings.
	DatabaseURL  string // PgBouncer or direct Postgres URL for queries.
	NotifyURL    string // Direct Postgres URL for LISTEN/NOTIFY.
	TxMaxRetries int    // Retries on serialization failure or deadlock.

	// SQLite settings.
	SQLitePath string

	// Log Sink and Metrics Store.
	SinkBufferSize    int
	SinkFlushInterval time.Duration
	SpillDir          string // Empty disables the spill file.

	// Ledger policy.
	AgentMaxActiveTasks int

	// Admin bootstrap.
	AdminUsername    string
	AdminPlaceholder string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// LoadDotEnv loads variables from .env files without overriding the
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults
// and validates it.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads configuration from environment variables without validating
// it, so callers can apply overrides first. Every malformed variable is
// reported, not just the first.
func Parse() (Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Store:               strings.ToLower(envStr("KIROKU_STORE", StoreSQLite)),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		NotifyURL:           envStr("NOTIFY_URL", ""),
		TxMaxRetries:        intVar("KIROKU_TX_MAX_RETRIES", 3),
		SQLitePath:          envStr("KIROKU_SQLITE_PATH", "kiroku.db"),
		SinkBufferSize:      intVar("KIROKU_SINK_BUFFER_SIZE", 500),
		SinkFlushInterval:   durVar("KIROKU_SINK_FLUSH_INTERVAL", time.Second),
		SpillDir:            envStr("KIROKU_LOG_SPILL_DIR", ""),
		AgentMaxActiveTasks: intVar("KIROKU_AGENT_MAX_ACTIVE_TASKS", 1),
		AdminUsername:       envStr("KIROKU_ADMIN_USERNAME", "admin"),
		AdminPlaceholder:    envStr("KIROKU_ADMIN_PLACEHOLDER", "change-me"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kiroku"),
		OTELInsecure:        boolVar("OTEL_EXPORTER_OTLP_INSECURE", false),
		LogLevel:            envStr("KIROKU_LOG_LEVEL", "info"),
	}
	if cfg.NotifyURL == "" {
		cfg.NotifyURL = cfg.DatabaseURL
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when KIROKU_STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: KIROKU_SQLITE_PATH is required when KIROKU_STORE=sqlite")
		}
	default:
		return fmt.Errorf("config: KIROKU_STORE=%q must be postgres or sqlite", c.Store)
	}
	if c.SinkBufferSize <= 0 {
		return fmt.Errorf("config: KIROKU_SINK_BUFFER_SIZE must be positive")
	}
	if c.SinkFlushInterval <= 0 {
		return fmt.Errorf("config: KIROKU_SINK_FLUSH_INTERVAL must be positive")
	}
	if c.AgentMaxActiveTasks <= 0 {
		return fmt.Errorf("config: KIROKU_AGENT_MAX_ACTIVE_TASKS must be positive")
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("config: KIROKU_TX_MAX_RETRIES must not be negative")
	}
	if c.AdminUsername == "" || c.AdminPlaceholder == "" {
		return fmt.Errorf("config: KIROKU_ADMIN_USERNAME and KIROKU_ADMIN_PLACEHOLDER must not be empty")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
