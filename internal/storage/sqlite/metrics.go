package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// AppendMetrics inserts metrics in one transaction on the sink pool.
func (d *DB) AppendMetrics(ctx context.Context, metrics []model.Metric) (int64, error) {
	return d.insertMetrics(ctx, "INSERT", metrics)
}

// ReplayMetrics inserts metrics that may already exist, skipping duplicate ids.
func (d *DB) ReplayMetrics(ctx context.Context, metrics []model.Metric) (int64, error) {
	return d.insertMetrics(ctx, "INSERT OR IGNORE", metrics)
}

func (d *DB) insertMetrics(ctx context.Context, verb string, metrics []model.Metric) (int64, error) {
	if len(metrics) == 0 {
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
			verb+` INTO metrics (id, name, value, unit, tags, ts) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, m := range metrics {
			tags := m.Tags
			if tags == nil {
				tags = map[string]string{}
			}
			encoded, err := json.Marshal(tags)
			if err != nil {
				return fmt.Errorf("encode tags: %w", err)
			}
			res, err := stmt.ExecContext(ctx, m.ID.String(), m.Name, m.Value, m.Unit, string(encoded), micros(m.Timestamp))
			if err != nil {
				return err
			}
			affected, _ := res.RowsAffected()
			n += affected
		}
		return sqlTx.Commit()
	})
	if err != nil {
		return 0, classify("insert metrics", err)
	}
	return n, nil
}

// QueryMetrics returns one keyset page ordered by (ts, id) descending. Tag
// keys are validated by the caller, so they are safe inside a JSON path.
func (d *DB) QueryMetrics(ctx context.Context, q model.MetricQuery, after *model.MetricCursor, limit int) ([]model.Metric, error) {
	var (
		where []string
		args  []any
	)
	if q.NamePrefix != "" {
		where = append(where, "substr(name, 1, length(?)) = ?")
		args = append(args, q.NamePrefix, q.NamePrefix)
	}
	keys := make([]string, 0, len(q.Tags))
	for k := range q.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, "json_extract(tags, ?) = ?")
		args = append(args, `$."`+k+`"`, q.Tags[k])
	}
	if q.Range.From != nil {
		where = append(where, "ts >= ?")
		args = append(args, micros(*q.Range.From))
	}
	if q.Range.To != nil {
		where = append(where, "ts < ?")
		args = append(args, micros(*q.Range.To))
	}
	if after != nil {
		where = append(where, "(ts, id) < (?, ?)")
		args = append(args, micros(after.Timestamp), after.ID.String())
	}

	query := `SELECT id, name, value, unit, tags, ts FROM metrics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if limit <= 0 {
		limit = model.DefaultMetricPageSize
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.sink.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Metric
	for rows.Next() {
		var (
			m    model.Metric
			tags string
			at   int64
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.Unit, &tags, &at); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("storage: decode metric tags: %w", err)
		}
		m.Timestamp = fromMicros(at)
		out = append(out, m)
	}
	return out, rows.Err()
}
