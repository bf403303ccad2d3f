package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

var metricColumns = []string{"id", "name", "value", "unit", "tags", "ts"}

func metricRows(metrics []model.Metric) [][]any {
	rows := make([][]any, len(metrics))
	for i, m := range metrics {
		tags := m.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		rows[i] = []any{m.ID, m.Name, m.Value, m.Unit, tags, m.Timestamp}
	}
	return rows
}

// AppendMetrics inserts metrics using COPY.
func (db *DB) AppendMetrics(ctx context.Context, metrics []model.Metric) (int64, error) {
	if len(metrics) == 0 {
		return 0, nil
	}
	copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()
	n, err := db.pool.CopyFrom(copyCtx, pgx.Identifier{"metrics"}, metricColumns, pgx.CopyFromRows(metricRows(metrics)))
	if err != nil {
		return 0, classify("copy metrics", err)
	}
	return n, nil
}

// ReplayMetrics inserts metrics that may already exist, skipping duplicate ids.
func (db *DB) ReplayMetrics(ctx context.Context, metrics []model.Metric) (int64, error) {
	return db.replay(ctx, "metrics", metricColumns, metricRows(metrics))
}

// QueryMetrics returns one keyset page ordered by (ts, id) descending.
func (db *DB) QueryMetrics(ctx context.Context, q model.MetricQuery, after *model.MetricCursor, limit int) ([]model.Metric, error) {
	var (
		where []string
		args  []any
	)
	if q.NamePrefix != "" {
		args = append(args, q.NamePrefix)
		where = append(where, fmt.Sprintf("starts_with(name, $%d)", len(args)))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		where = append(where, fmt.Sprintf("tags @> $%d::jsonb", len(args)))
	}
	if q.Range.From != nil {
		args = append(args, *q.Range.From)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if q.Range.To != nil {
		args = append(args, *q.Range.To)
		where = append(where, fmt.Sprintf("ts < $%d", len(args)))
	}
	if after != nil {
		args = append(args, after.Timestamp, after.ID)
		where = append(where, fmt.Sprintf("(ts, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT id, name, value, unit, tags, ts FROM metrics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if limit <= 0 {
		limit = model.DefaultMetricPageSize
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query metrics: %w", err)
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &m.Unit, &m.Tags, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
