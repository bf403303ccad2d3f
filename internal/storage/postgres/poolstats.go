package postgres

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// RegisterPoolMetrics exports pgxpool statistics as observable gauges.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("kiroku/storage/postgres")

	_, _ = meter.Int64ObservableGauge("kiroku.db.pool.acquired",
		metric.WithDescription("Connections currently checked out of the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().AcquiredConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.db.pool.idle",
		metric.WithDescription("Idle connections in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.db.pool.total",
		metric.WithDescription("Connections open in the pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kiroku.db.pool.empty_acquire_total",
		metric.WithDescription("Acquires that waited because the pool was empty"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(db.pool.Stat().EmptyAcquireCount())
			return nil
		}),
	)
}
