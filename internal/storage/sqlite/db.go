// Package sqlite is the embedded ledger backend built on modernc.org/sqlite.
//
// Entity transactions share a single connection so they are serialized in
// process; each takes the write lock up front (BEGIN IMMEDIATE). Log records
// and metrics live in a second database file (see SinkPath) reached through
// its own connection pool. SQLite locks per file, so sink writes never hold
// the lock an entity transaction needs.
// Timestamps are stored as unix microseconds, ids and documents as TEXT.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/kiroku/internal/storage"
)

// DB is a SQLite-backed storage.Store.
type DB struct {
	db       *sql.DB // entity transactions, one connection
	sink     *sql.DB // log and metric appends and reads, on sinkPath
	path     string
	sinkPath string
	logger   *slog.Logger
}

var _ storage.Store = (*DB)(nil)

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// SinkPathFor returns the sink database file used alongside the ledger file
// at path: "ledger.db" pairs with "ledger-sink.db".
func SinkPathFor(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-sink" + ext
}

// Open opens (creating if needed) the ledger file at path and its sink file.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create db directory: %w", err)
	}

	entity, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	entity.SetMaxOpenConns(1)
	entity.SetMaxIdleConns(1)
	if err := entity.PingContext(ctx); err != nil {
		_ = entity.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	sinkPath := SinkPathFor(path)
	sink, err := sql.Open("sqlite", dsn(sinkPath))
	if err != nil {
		_ = entity.Close()
		return nil, fmt.Errorf("storage: open sqlite sink: %w", err)
	}
	sink.SetMaxOpenConns(4)
	if err := sink.PingContext(ctx); err != nil {
		_ = sink.Close()
		_ = entity.Close()
		return nil, fmt.Errorf("storage: ping sqlite sink: %w", err)
	}

	return &DB{db: entity, sink: sink, path: path, sinkPath: sinkPath, logger: logger}, nil
}

// Backend implements storage.Store.
func (d *DB) Backend() string { return "sqlite" }

// Path returns the ledger database file path.
func (d *DB) Path() string { return d.path }

// SinkPath returns the log and metric database file path.
func (d *DB) SinkPath() string { return d.sinkPath }

// Ping checks that both database files are reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return err
	}
	return d.sink.PingContext(ctx)
}

// Close closes both connection pools.
func (d *DB) Close(_ context.Context) {
	if err := d.sink.Close(); err != nil {
		d.logger.Warn("storage: close sqlite sink pool", "error", err)
	}
	if err := d.db.Close(); err != nil {
		d.logger.Warn("storage: close sqlite", "error", err)
	}
}

// InTx runs fn in an immediate transaction on the entity connection,
// retrying when the file is locked by another process.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return retryOnBusy(ctx, 5, func() error {
		sqlTx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin: %w", err)
		}
		if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("storage: commit: %w", err)
		}
		return nil
	})
}

// RunMigrations applies migrationsFS to the ledger file and, when it has a
// "sink" directory, that directory to the sink file. Each file tracks its own
// applied versions in schema_migrations.
func (d *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if err := d.migrate(ctx, d.db, "ledger", migrationsFS); err != nil {
		return err
	}
	if _, err := fs.Stat(migrationsFS, "sink"); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	sinkFS, err := fs.Sub(migrationsFS, "sink")
	if err != nil {
		return fmt.Errorf("storage: sink migrations: %w", err)
	}
	return d.migrate(ctx, d.sink, "sink", sinkFS)
}

// migrate executes unapplied SQL files from migrationsFS in name order.
func (d *DB) migrate(ctx context.Context, db *sql.DB, file string, migrationsFS fs.FS) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("storage: %s: create schema_migrations: %w", file, err)
	}

	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("storage: %s: load applied migrations: %w", file, err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("storage: %s: load applied migrations: %w", file, err)
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: %s: load applied migrations: %w", file, err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: %s: read migrations dir: %w", file, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		d.logger.Info("storage: running migration", "file", name, "backend", "sqlite", "db", file)

		sqlTx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: migration %s: begin: %w", name, err)
		}
		if _, err := sqlTx.ExecContext(ctx, string(content)); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("storage: migration %s: execute: %w", name, err)
		}
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, name, micros(time.Now())); err != nil {
			_ = sqlTx.Rollback()
			return fmt.Errorf("storage: migration %s: record: %w", name, err)
		}
		if err := sqlTx.Commit(); err != nil {
			return fmt.Errorf("storage: migration %s: commit: %w", name, err)
		}
	}
	return nil
}

// tx implements storage.Tx. SQLite serializes writers, so forUpdate reads
// need no extra locking.
type tx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*tx)(nil)
