// Package postgres is the PostgreSQL ledger backend.
//
// It manages connection pooling (via pgxpool), a dedicated connection for
// LISTEN/NOTIFY, COPY-based batch ingestion for log records and metrics, and
// row-locking transactions for entity mutations.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Options tunes a DB. Zero values select defaults.
type Options struct {
	// MaxRetries bounds retries of a transaction on serialization failures
	// and deadlocks.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

// DB wraps a pgxpool.Pool for normal queries and an optional dedicated
// pgx.Conn for LISTEN/NOTIFY.
type DB struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
	notifyMu   sync.Mutex
	listening  bool
	logger     *slog.Logger

	maxRetries int
	retryDelay time.Duration
}

var _ storage.Store = (*DB)(nil)

// New creates a DB with a connection pool. notifyDSN should point directly
// to Postgres (not through a transaction-pooling proxy) and may be empty to
// disable LISTEN/NOTIFY.
func New(ctx context.Context, poolDSN, notifyDSN string, opts Options, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(poolDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: connect notify: %w", err)
		}
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 10 * time.Millisecond
	}

	return &DB{
		pool:       pool,
		notifyConn: notifyConn,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryBaseDelay,
	}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Backend implements storage.Store.
func (db *DB) Backend() string { return "postgres" }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool and notify connection.
func (db *DB) Close(ctx context.Context) {
	db.pool.Close()
	if db.notifyConn != nil {
		if err := db.notifyConn.Close(ctx); err != nil {
			db.logger.Warn("storage: close notify connection", "error", err)
		}
	}
}

// InTx runs fn in a READ COMMITTED transaction, retrying the whole unit on
// serialization failures and deadlocks. Rows are locked explicitly by the
// forUpdate reads.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return WithRetry(ctx, db.maxRetries, db.retryDelay, func(attempt int) error {
		if attempt > 0 {
			db.logger.Debug("storage: retrying transaction", "attempt", attempt)
		}
		return pgx.BeginFunc(ctx, db.pool, func(ptx pgx.Tx) error {
			return fn(ctx, &tx{tx: ptx})
		})
	})
}

// tx implements storage.Tx over a pgx transaction.
type tx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*tx)(nil)

// lockClause returns the suffix for a row-locking read.
func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// raw scans a json column into a Document without reformatting it.
func raw(d *model.Document) *[]byte { return (*[]byte)(d) }

// bumpUpdatedAt is the SET fragment for bulk task changes. The last bound
// parameter is the mutation time; updated_at stays strictly increasing.
const bumpUpdatedAt = `updated_at = GREATEST(updated_at + interval '1 microsecond', $2)`
