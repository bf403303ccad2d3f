package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
	"github.com/ashita-ai/kiroku/internal/storage/storagetest"
	"github.com/ashita-ai/kiroku/internal/testutil"
	"github.com/ashita-ai/kiroku/migrations"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return testutil.NewSQLite(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), "", testutil.TestLogger())
	assert.Error(t, err)
}

func TestReopenKeepsRowsAndMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	db, err := sqlite.Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(ctx, migrations.SQLite()))
	now := storage.UTC(time.Now())
	b := model.Branch{
		ID: uuid.Must(uuid.NewV7()), Name: "analytics", Status: model.BranchActive,
		Config: model.Document(`{}`), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertBranch(ctx, b)
	}))
	db.Close(ctx)

	db, err = sqlite.Open(ctx, path, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close(ctx)
	require.NoError(t, db.RunMigrations(ctx, migrations.SQLite()), "migrations rerun cleanly")
	assert.Equal(t, path, db.Path())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "ledger-sink.db"), db.SinkPath())
	assert.FileExists(t, db.SinkPath())
	assert.Equal(t, "sqlite", db.Backend())

	require.NoError(t, db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetBranch(ctx, b.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "analytics", got.Name)
		return nil
	}))
}

func TestAppendOnlyTablesRejectUpdates(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLite(t)
	r := model.LogRecord{
		ID: uuid.Must(uuid.NewV7()), Timestamp: storage.UTC(time.Now()), Level: model.LevelError,
		Component: "test", Message: "original", Metadata: model.Document(`{}`),
	}
	_, err := db.AppendLogs(ctx, []model.LogRecord{r})
	require.NoError(t, err)
	_, err = db.AppendMetrics(ctx, []model.Metric{{
		ID: uuid.Must(uuid.NewV7()), Name: "m", Value: 1, Timestamp: r.Timestamp,
	}})
	require.NoError(t, err)

	raw, err := sql.Open("sqlite", "file:"+db.SinkPath())
	require.NoError(t, err)
	defer func() { _ = raw.Close() }()

	_, err = raw.ExecContext(ctx, `UPDATE log_records SET message = 'edited'`)
	assert.Error(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE metrics SET value = 2`)
	assert.Error(t, err)

	got, err := db.TailLogs(ctx, model.LogCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "original", got[0].Message)
}

func TestSinkPathFor(t *testing.T) {
	assert.Equal(t, "/var/lib/kiroku/ledger-sink.db", sqlite.SinkPathFor("/var/lib/kiroku/ledger.db"))
	assert.Equal(t, "data/kiroku-sink", sqlite.SinkPathFor("data/kiroku"))
}

func TestSinkTablesLiveInTheirOwnFile(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLite(t)

	tables := func(path string) []string {
		raw, err := sql.Open("sqlite", "file:"+path)
		require.NoError(t, err)
		defer func() { _ = raw.Close() }()
		rows, err := raw.QueryContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name != 'schema_migrations' ORDER BY name`)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()
		var names []string
		for rows.Next() {
			var n string
			require.NoError(t, rows.Scan(&n))
			names = append(names, n)
		}
		require.NoError(t, rows.Err())
		return names
	}

	assert.Equal(t, []string{"admin_identities", "agents", "branches", "tasks", "workflows"}, tables(db.Path()))
	assert.Equal(t, []string{"log_records", "metrics"}, tables(db.SinkPath()))
}

func TestEntityTransactionsIgnoreHeldSinkLock(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLite(t)
	now := storage.UTC(time.Now())
	w := model.Workflow{
		ID: uuid.Must(uuid.NewV7()), Name: "nightly", Status: model.WorkflowPending,
		Parameters: model.Document(`{}`), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertWorkflow(ctx, w)
	}))

	// Another writer holds the sink file's write lock for the whole test.
	raw, err := sql.Open("sqlite", "file:"+db.SinkPath())
	require.NoError(t, err)
	defer func() { _ = raw.Close() }()
	conn, err := raw.Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)
	defer func() { _, _ = conn.ExecContext(context.Background(), `ROLLBACK`) }()
	_, err = conn.ExecContext(ctx,
		`INSERT INTO log_records (id, ts, level, component, message) VALUES ('held', 0, 'info', 'test', 'held')`)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	begun := time.Now()
	err = db.InTx(tctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetWorkflow(ctx, w.ID, true)
		if err != nil {
			return err
		}
		started := now.Add(time.Millisecond)
		got.Status = model.WorkflowRunning
		got.StartedAt = &started
		got.UpdatedAt = started
		return tx.UpdateWorkflow(ctx, got)
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(begun), time.Second, "the workflow transition waited on the sink lock")

	require.NoError(t, db.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetWorkflow(ctx, w.ID, false)
		require.NoError(t, err)
		assert.Equal(t, model.WorkflowRunning, got.Status)
		return nil
	}))
}
