package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

var logColumns = []string{"id", "ts", "level", "component", "message", "metadata"}

// copyTimeout bounds a single COPY so a hung server cannot stall a sink flush.
const copyTimeout = 30 * time.Second

func logRows(records []model.LogRecord) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.ID, r.Timestamp, string(r.Level), r.Component, r.Message, []byte(model.DocumentOrEmpty(r.Metadata))}
	}
	return rows
}

// AppendLogs inserts records using COPY.
func (db *DB) AppendLogs(ctx context.Context, records []model.LogRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()
	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"log_records"}, logColumns, pgx.CopyFromRows(logRows(records)))
	if err != nil {
		return 0, classify("copy log records", err)
	}
	return n, nil
}

// ReplayLogs inserts records that may already exist. Records are COPYed into
// a temp table and moved into log_records, skipping duplicate ids.
func (db *DB) ReplayLogs(ctx context.Context, records []model.LogRecord) (int64, error) {
	return db.replay(ctx, "log_records", logColumns, logRows(records))
}

func (db *DB) replay(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var inserted int64
	err := pgx.BeginFunc(ctx, db.pool, func(t pgx.Tx) error {
		temp := "_replay_" + table
		if _, err := t.Exec(ctx,
			`CREATE TEMP TABLE `+temp+` (LIKE `+table+` INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("create temp table: %w", err)
		}
		if _, err := t.CopyFrom(ctx, pgx.Identifier{temp}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy into temp table: %w", err)
		}
		tag, err := t.Exec(ctx, `INSERT INTO `+table+` SELECT * FROM `+temp+` ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("insert from temp table: %w", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, classify("replay "+table, err)
	}
	return inserted, nil
}

// TailLogs returns records strictly after the cursor in ascending order.
func (db *DB) TailLogs(ctx context.Context, after model.LogCursor, limit int) ([]model.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, ts, level, component, message, metadata FROM log_records
		 WHERE (ts, id) > ($1, $2)
		 ORDER BY ts, id
		 LIMIT $3`,
		after.Timestamp, after.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: tail logs: %w", err)
	}
	defer rows.Close()

	var out []model.LogRecord
	for rows.Next() {
		var r model.LogRecord
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Level, &r.Component, &r.Message, raw(&r.Metadata)); err != nil {
			return nil, fmt.Errorf("storage: scan log record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
