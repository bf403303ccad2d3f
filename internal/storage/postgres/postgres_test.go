package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/postgres"
	"github.com/ashita-ai/kiroku/internal/storage/storagetest"
	"github.com/ashita-ai/kiroku/internal/testutil"
	"github.com/ashita-ai/kiroku/migrations"
)

var testDB *postgres.DB

func TestMain(m *testing.M) {
	tc, err := testutil.StartPostgres()
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping postgres tests: %v\n", err)
		os.Exit(m.Run())
	}

	ctx := context.Background()
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// fresh returns the shared database with every table emptied.
func fresh(t *testing.T) *postgres.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres unavailable")
	}
	_, err := testDB.Pool().Exec(context.Background(),
		`TRUNCATE tasks, workflows, agents, branches, log_records, metrics, admin_identities`)
	require.NoError(t, err)
	return testDB
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return fresh(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := fresh(t)
	require.NoError(t, db.RunMigrations(context.Background(), migrations.Postgres()))

	var n int
	require.NoError(t, db.Pool().QueryRow(context.Background(),
		`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func appendOne(t *testing.T, db *postgres.DB) model.LogRecord {
	t.Helper()
	r := model.LogRecord{
		ID:        uuid.Must(uuid.NewV7()),
		Timestamp: storage.UTC(time.Now()),
		Level:     model.LevelWarning,
		Component: "test",
		Message:   "disk nearly full",
		Metadata:  model.Document(`{}`),
	}
	_, err := db.AppendLogs(context.Background(), []model.LogRecord{r})
	require.NoError(t, err)
	return r
}

func TestAppendOnlyTablesRejectUpdates(t *testing.T) {
	db := fresh(t)
	ctx := context.Background()
	r := appendOne(t, db)
	_, err := db.AppendMetrics(ctx, []model.Metric{{
		ID: uuid.Must(uuid.NewV7()), Name: "m", Value: 1, Tags: map[string]string{}, Timestamp: r.Timestamp,
	}})
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `UPDATE log_records SET message = 'edited' WHERE id = $1`, r.ID)
	assert.Error(t, err)
	_, err = db.Pool().Exec(ctx, `UPDATE metrics SET value = 2`)
	assert.Error(t, err)

	got, err := db.TailLogs(ctx, model.LogCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "disk nearly full", got[0].Message)
}

func TestWaitForLogsWakesOnInsert(t *testing.T) {
	db := fresh(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Subscribe before the insert so the notification cannot be missed.
	require.NoError(t, db.Listen(ctx, postgres.ChannelLogs))

	woke := make(chan error, 1)
	go func() { woke <- db.WaitForLogs(ctx) }()

	appendOne(t, db)
	select {
	case err := <-woke:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("WaitForLogs did not return after an insert")
	}
}

func TestWaitForLogsWithoutNotifyConn(t *testing.T) {
	if testDB == nil {
		t.Skip("postgres unavailable")
	}
	ctx := context.Background()
	dsn := testDB.Pool().Config().ConnString()
	db, err := postgres.New(ctx, dsn, "", postgres.Options{}, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close(ctx)

	assert.ErrorIs(t, db.WaitForLogs(ctx), postgres.ErrNoNotifyConn)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	deadlock := &pgconn.PgError{Code: "40P01"}

	t.Run("retries until success", func(t *testing.T) {
		var calls atomic.Int32
		err := postgres.WithRetry(ctx, 3, time.Millisecond, func(int) error {
			if calls.Add(1) < 3 {
				return deadlock
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		err := postgres.WithRetry(ctx, 2, time.Millisecond, func(int) error {
			calls.Add(1)
			return fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"})
		})
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr))
		assert.Equal(t, "40001", pgErr.Code)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		var calls atomic.Int32
		boom := errors.New("boom")
		err := postgres.WithRetry(ctx, 5, time.Millisecond, func(int) error {
			calls.Add(1)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := postgres.WithRetry(cctx, 5, time.Second, func(int) error { return deadlock })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
