package kiroku

import (
	"fmt"
	"log/slog"

	"github.com/ashita-ai/kiroku/internal/config"
)

// Option configures New and Migrate.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger      *slog.Logger
	version     string
	store       string
	databaseURL string
	notifyURL   string
	sqlitePath  string
	spillDir    string
	maxActive   int
	hooks       []TransitionHook
	migrate     bool
}

// load reads the environment, applies the overrides and validates the result.
func (o resolvedOptions) load() (*config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("kiroku: load config: %w", err)
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
		if o.notifyURL == "" {
			cfg.NotifyURL = o.databaseURL
		}
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.spillDir != "" {
		cfg.SpillDir = o.spillDir
	}
	if o.maxActive > 0 {
		cfg.AgentMaxActiveTasks = o.maxActive
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kiroku: %w", err)
	}
	return &cfg, nil
}

// WithLogger sets the structured logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPostgres selects the Postgres store. notifyURL may be empty to reuse
// url for LISTEN/NOTIFY; set it when url goes through a pooler.
func WithPostgres(url, notifyURL string) Option {
	return func(o *resolvedOptions) {
		o.store = config.StorePostgres
		o.databaseURL = url
		o.notifyURL = notifyURL
	}
}

// WithSQLite selects the embedded SQLite store at path.
func WithSQLite(path string) Option {
	return func(o *resolvedOptions) {
		o.store = config.StoreSQLite
		o.sqlitePath = path
	}
}

// WithSpillDir enables the spill file for undeliverable log and metric batches.
func WithSpillDir(dir string) Option {
	return func(o *resolvedOptions) { o.spillDir = dir }
}

// WithMaxActiveTasksPerAgent sets how many assigned or running tasks an agent
// may hold (KIROKU_AGENT_MAX_ACTIVE_TASKS).
func WithMaxActiveTasksPerAgent(n int) Option {
	return func(o *resolvedOptions) { o.maxActive = n }
}

// WithTransitionHook registers a hook called after every committed mutation.
// Multiple hooks may be registered.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, h) }
}

// WithoutMigrations makes New skip applying embedded migrations.
func WithoutMigrations() Option {
	return func(o *resolvedOptions) { o.migrate = false }
}
