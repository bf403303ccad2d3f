package sqlite

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// AppendLogs inserts records in one transaction on the sink pool.
func (d *DB) AppendLogs(ctx context.Context, records []model.LogRecord) (int64, error) {
	return d.insertLogs(ctx, "INSERT", records)
}

// ReplayLogs inserts records that may already exist, skipping duplicate ids.
func (d *DB) ReplayLogs(ctx context.Context, records []model.LogRecord) (int64, error) {
	return d.insertLogs(ctx, "INSERT OR IGNORE", records)
}

func (d *DB) insertLogs(ctx context.Context, verb string, records []model.LogRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		n = 0
		sqlTx, err := d.sink.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = sqlTx.Rollback() }()

		stmt, err := sqlTx.PrepareContext(ctx,
			verb+` INTO log_records (id, ts, level, component, message, metadata) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, r := range records {
			res, err := stmt.ExecContext(ctx, r.ID.String(), micros(r.Timestamp), string(r.Level),
				r.Component, r.Message, string(model.DocumentOrEmpty(r.Metadata)))
			if err != nil {
				return err
			}
			affected, _ := res.RowsAffected()
			n += affected
		}
		return sqlTx.Commit()
	})
	if err != nil {
		return 0, classify("insert log records", err)
	}
	return n, nil
}

// TailLogs returns records strictly after the cursor in ascending order.
func (d *DB) TailLogs(ctx context.Context, after model.LogCursor, limit int) ([]model.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		ts    int64
		query string
		args  []any
	)
	if after.IsZero() {
		query = `SELECT id, ts, level, component, message, metadata FROM log_records
			ORDER BY ts, id LIMIT ?`
		args = []any{limit}
	} else {
		ts = micros(after.Timestamp)
		query = `SELECT id, ts, level, component, message, metadata FROM log_records
			WHERE (ts, id) > (?, ?)
			ORDER BY ts, id LIMIT ?`
		args = []any{ts, after.ID.String(), limit}
	}
	rows, err := d.sink.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: tail logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LogRecord
	for rows.Next() {
		var (
			r        model.LogRecord
			at       int64
			metadata string
		)
		if err := rows.Scan(&r.ID, &at, &r.Level, &r.Component, &r.Message, &metadata); err != nil {
			return nil, fmt.Errorf("storage: scan log record: %w", err)
		}
		r.Timestamp = fromMicros(at)
		r.Metadata = model.Document(metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}
