// Package kiroku is the public API of the workflow orchestration ledger.
//
// A Ledger records Branches, their Agents, Workflows and the Tasks they
// decompose into, enforcing each entity's status machine transactionally on
// Postgres or an embedded SQLite file. It also carries an append-only Log
// Sink and Metrics Store, both buffered and flushed in the background.
//
//	l, err := kiroku.New(ctx,
//	    kiroku.WithLogger(logger),
//	    kiroku.WithTransitionHook(myHook),
//	)
//	if err != nil { ... }
//	defer l.Close(context.Background())
//
//	w, _ := l.CreateWorkflow(ctx, "onboard_customer", "", nil)
//
// Configuration comes from the environment (see internal/config) and can be
// overridden with options.
package kiroku

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/manifest"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/ledger"
	"github.com/ashita-ai/kiroku/internal/service/logs"
	"github.com/ashita-ai/kiroku/internal/service/metrics"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/postgres"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
	"github.com/ashita-ai/kiroku/internal/telemetry"
	"github.com/ashita-ai/kiroku/migrations"
)

// Ledger is an open orchestration ledger. The ledger operations
// (RegisterBranch, AssignTask, Status, ...) are promoted from the embedded
// service. Construct with New and release with Close.
type Ledger struct {
	*ledger.Service

	cfg          config.Config
	store        storage.Store
	logs         *logs.Service
	metrics      *metrics.Service
	stopSinks    context.CancelFunc
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New opens the configured store, applies migrations, seeds the bootstrap
// admin identity and starts the Log Sink and Metrics Store.
func New(ctx context.Context, opts ...Option) (*Ledger, error) {
	o := resolvedOptions{migrate: true}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	cfg, err := o.load()
	if err != nil {
		return nil, err
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("kiroku: %w", err)
	}

	store, err := openStore(ctx, *cfg, o.migrate, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}
	fail := func(err error) (*Ledger, error) {
		store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	if err := seedAdmin(ctx, store, *cfg, logger); err != nil {
		return fail(err)
	}

	sinkCfg := logs.Config{
		BufferSize:    cfg.SinkBufferSize,
		FlushInterval: cfg.SinkFlushInterval,
		SpillDir:      cfg.SpillDir,
	}
	logSink, err := logs.New(store, sinkCfg, logger)
	if err != nil {
		return fail(fmt.Errorf("kiroku: log sink: %w", err))
	}
	metricStore, err := metrics.New(store, metrics.Config{
		BufferSize:    cfg.SinkBufferSize,
		FlushInterval: cfg.SinkFlushInterval,
		SpillDir:      cfg.SpillDir,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("kiroku: metrics store: %w", err))
	}
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	logSink.Start(sinkCtx)
	metricStore.Start(sinkCtx)

	svc := ledger.New(store, ledger.Options{
		MaxActiveTasksPerAgent: cfg.AgentMaxActiveTasks,
		Logs:                   logSink,
		Metrics:                metricStore,
		Hooks:                  o.hooks,
	}, logger)

	logger.Info("kiroku: ledger open", "version", version, "store", store.Backend())
	return &Ledger{
		Service:      svc,
		cfg:          *cfg,
		store:        store,
		logs:         logSink,
		metrics:      metricStore,
		stopSinks:    stopSinks,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Migrate opens the configured store, applies pending migrations and closes it.
func Migrate(ctx context.Context, opts ...Option) error {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := o.load()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, *cfg, true, logger)
	if err != nil {
		return err
	}
	store.Close(ctx)
	return nil
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, postgres.Options{MaxRetries: cfg.TxMaxRetries}, logger)
		if err != nil {
			return nil, fmt.Errorf("kiroku: %w", err)
		}
		db.RegisterPoolMetrics()
		if migrate {
			if err := db.RunMigrations(ctx, migrations.Postgres()); err != nil {
				db.Close(context.Background())
				return nil, fmt.Errorf("kiroku: migrations: %w", err)
			}
		}
		return db, nil
	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("kiroku: %w", err)
		}
		if migrate {
			if err := db.RunMigrations(ctx, migrations.SQLite()); err != nil {
				db.Close(context.Background())
				return nil, fmt.Errorf("kiroku: migrations: %w", err)
			}
		}
		return db, nil
	}
}

// seedAdmin creates the bootstrap identity on first start and warns while
// its placeholder credential has not been rotated.
func seedAdmin(ctx context.Context, store storage.Store, cfg config.Config, logger *slog.Logger) error {
	hash, err := auth.HashCredential(cfg.AdminPlaceholder, auth.DefaultParams)
	if err != nil {
		return fmt.Errorf("kiroku: seed admin: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	created, err := store.SeedAdmin(ctx, model.AdminIdentity{
		ID:             id,
		Username:       cfg.AdminUsername,
		CredentialHash: hash,
		MustRotate:     true,
		CreatedAt:      storage.UTC(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("kiroku: seed admin: %w", storage.Classify(err))
	}
	if created {
		logger.Info("kiroku: seeded admin identity", "username", cfg.AdminUsername)
	}
	admin, err := store.GetAdmin(ctx, cfg.AdminUsername)
	if err != nil {
		return fmt.Errorf("kiroku: load admin: %w", storage.Classify(err))
	}
	if admin.MustRotate {
		logger.Warn("kiroku: admin credential is a placeholder and must be rotated", "username", admin.Username)
	}
	return nil
}

// Close waits for transition hooks, drains the Log Sink and Metrics Store,
// then closes the store. ctx bounds the whole shutdown.
func (l *Ledger) Close(ctx context.Context) error {
	l.Service.Close(ctx)

	var g errgroup.Group
	g.Go(func() error {
		l.logs.Drain(ctx)
		return nil
	})
	g.Go(func() error {
		l.metrics.Drain(ctx)
		return nil
	})
	_ = g.Wait()
	l.stopSinks()

	if n := l.logs.Dropped() + l.metrics.Dropped(); n > 0 {
		l.logger.Warn("kiroku: sink items dropped during run", "count", n)
	}
	l.store.Close(ctx)
	if err := l.otelShutdown(ctx); err != nil {
		return fmt.Errorf("kiroku: telemetry shutdown: %w", err)
	}
	return nil
}

// Backend names the open store ("postgres" or "sqlite").
func (l *Ledger) Backend() string { return l.store.Backend() }

// Ping checks the store connection.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("kiroku: ping: %w", storage.Classify(err))
	}
	return nil
}

// Admin returns the bootstrap admin identity.
func (l *Ledger) Admin(ctx context.Context) (AdminIdentity, error) {
	a, err := l.store.GetAdmin(ctx, l.cfg.AdminUsername)
	if err != nil {
		return AdminIdentity{}, fmt.Errorf("kiroku: admin: %w", storage.Classify(err))
	}
	return a, nil
}

// Log appends a record to the Log Sink. It never fails.
func (l *Ledger) Log(level LogLevel, component, message string, metadata Document) LogRecord {
	return l.logs.Append(level, component, message, metadata)
}

// TailLogs returns up to limit stored log records after the cursor, oldest first.
func (l *Ledger) TailLogs(ctx context.Context, after LogCursor, limit int) ([]LogRecord, error) {
	return l.logs.Tail(ctx, after, limit)
}

// FollowLogs calls fn for every stored record after the cursor until ctx is
// done or fn fails.
func (l *Ledger) FollowLogs(ctx context.Context, after LogCursor, fn func(LogRecord) error) error {
	return l.logs.Follow(ctx, after, fn)
}

// RecordMetric queues one observation. It never fails.
func (l *Ledger) RecordMetric(name string, value float64, unit string, tags map[string]string) Metric {
	return l.metrics.Record(name, value, unit, tags)
}

// QueryMetrics iterates matching metrics newest first. Each range re-runs
// the query.
func (l *Ledger) QueryMetrics(ctx context.Context, q MetricQuery) iter.Seq2[Metric, error] {
	return l.metrics.Query(ctx, q)
}

// Flush forces delivery of buffered log records and metrics.
func (l *Ledger) Flush(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return l.logs.Flush(ctx) })
	g.Go(func() error { return l.metrics.Flush(ctx) })
	return g.Wait()
}

// Import registers the branches described by the YAML manifest at path.
// Branches whose name already exists are skipped.
func (l *Ledger) Import(ctx context.Context, path string) (ImportResult, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return ImportResult{}, err
	}
	return manifest.Import(ctx, l.Service, m, l.logger)
}
