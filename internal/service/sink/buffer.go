// Package sink provides the background batching used by the log and metric
// stores: callers hand records to a Buffer and never wait on (or fail
// because of) the database.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// DefaultCapacity is the hard upper limit on buffered items.
const DefaultCapacity = 100_000

// WriteFunc persists a batch and reports how many items were written.
type WriteFunc[T any] func(ctx context.Context, batch []T) (int64, error)

// Config tunes a Buffer. Zero values select defaults.
type Config struct {
	// Name labels log lines and gauges ("logs", "metrics").
	Name string
	// MaxSize triggers an early flush once this many items are buffered.
	MaxSize int
	// FlushInterval is the longest an item waits before a flush is attempted.
	FlushInterval time.Duration
	// Capacity bounds the in-memory buffer. Items beyond it are spilled or dropped.
	Capacity int
}

// Buffer accumulates items in memory and writes them in batches when either
// the size threshold or the flush interval is reached.
type Buffer[T any] struct {
	name          string
	write         WriteFunc[T]
	spill         *Spill[T] // nil when no spill dir is configured
	logger        *slog.Logger
	maxSize       int
	capacity      int
	flushInterval time.Duration

	mu    sync.Mutex
	items []T

	flushMu sync.Mutex // serializes writes so Flush and the loop never interleave

	dropped atomic.Int64
	spilled atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context
}

// NewBuffer creates a Buffer writing through write. spill may be nil.
func NewBuffer[T any](cfg Config, write WriteFunc[T], spill *Spill[T], logger *slog.Logger) *Buffer[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Name == "" {
		cfg.Name = "sink"
	}
	return &Buffer[T]{
		name:          cfg.Name,
		write:         write,
		spill:         spill,
		logger:        logger,
		maxSize:       cfg.MaxSize,
		capacity:      cfg.Capacity,
		flushInterval: cfg.FlushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL gauges. A second
// call is a no-op. Call Drain to stop.
func (b *Buffer[T]) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("sink: buffer already started", "sink", b.name)
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append queues item for the next flush. It never blocks on the store and
// never fails; when the buffer is at capacity the item goes to the spill file
// or, without one, is dropped and counted.
func (b *Buffer[T]) Append(item T) {
	b.mu.Lock()
	if len(b.items) >= b.capacity {
		b.mu.Unlock()
		b.overflow(context.Background(), []T{item})
		return
	}
	b.items = append(b.items, item)
	full := len(b.items) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush writes everything buffered so far and returns the write error, if
// any. On failure the batch is handled as in a background flush.
func (b *Buffer[T]) Flush(ctx context.Context) error {
	return b.flush(ctx)
}

func (b *Buffer[T]) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is already done; the final flush uses the drain context.
			final := b.drainCtx
			var cancel context.CancelFunc = func() {}
			if final == nil {
				final, cancel = context.WithTimeout(context.Background(), 10*time.Second)
			}
			_ = b.flush(final)
			cancel()
			close(b.done)
			return
		case <-ticker.C:
			_ = b.flush(ctx)
		case <-b.flushCh:
			_ = b.flush(ctx)
		}
	}
}

func (b *Buffer[T]) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	start := time.Now()
	count, err := b.write(ctx, batch)
	if err != nil {
		b.logger.Error("sink: flush failed", "sink", b.name, "error", err, "batch_size", len(batch))
		if b.spill != nil {
			b.overflow(ctx, batch)
			return err
		}
		// Put items back for retry, but respect the capacity limit.
		b.mu.Lock()
		if len(b.items)+len(batch) <= b.capacity {
			b.items = append(batch, b.items...)
		} else {
			b.dropped.Add(int64(len(batch)))
			b.logger.Error("sink: dropping batch, buffer at capacity after flush failure",
				"sink", b.name, "dropped", len(batch))
		}
		b.mu.Unlock()
		return err
	}

	b.logger.Debug("sink: batch flushed",
		"sink", b.name,
		"batch_size", count,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// overflow sends items that cannot be written to the primary store to the
// spill file, or drops them when there is none.
func (b *Buffer[T]) overflow(ctx context.Context, items []T) {
	if b.spill == nil {
		b.dropped.Add(int64(len(items)))
		return
	}
	if err := b.spill.Write(items); err != nil {
		b.dropped.Add(int64(len(items)))
		b.logger.Error("sink: spill failed, dropping items",
			"sink", b.name, "error", err, "dropped", len(items))
		return
	}
	b.spilled.Add(int64(len(items)))
	if ctx.Err() == nil {
		b.logger.Warn("sink: items spilled to secondary store",
			"sink", b.name, "count", len(items), "path", b.spill.Path())
	}
}

// Drain signals the background flush loop to stop, waits for its final flush
// and returns. ctx bounds both the wait and the final write.
func (b *Buffer[T]) Drain(ctx context.Context) {
	if !b.started.Load() {
		if err := b.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("sink: final flush failed", "sink", b.name, "error", err)
		}
		return
	}
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("sink: drain timed out waiting for flush loop", "sink", b.name)
	}
}

func (b *Buffer[T]) registerMetrics() {
	meter := telemetry.Meter("kiroku/sink")
	attrs := metric.WithAttributes(attribute.String("sink", b.name))

	_, _ = meter.Int64ObservableGauge("kiroku.sink.depth",
		metric.WithDescription("Current number of items in the write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()), attrs)
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.sink.dropped_total",
		metric.WithDescription("Total items dropped because neither store accepted them"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped(), attrs)
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.sink.spilled_total",
		metric.WithDescription("Total items written to the spill file"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Spilled(), attrs)
			return nil
		}),
	)
}

// Len returns the current number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the number of items lost. A non-zero value indicates data loss.
func (b *Buffer[T]) Dropped() int64 { return b.dropped.Load() }

// Spilled returns the number of items written to the spill file.
func (b *Buffer[T]) Spilled() int64 { return b.spilled.Load() }
