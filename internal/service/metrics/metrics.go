// Package metrics is the Metrics Store: numeric observations recorded without
// blocking the caller and queried lazily, newest first.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/sink"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Config tunes the store. Zero values select defaults.
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
	SpillDir      string
}

// Service is the Metrics Store.
type Service struct {
	store  storage.MetricStore
	buf    *sink.Buffer[model.Metric]
	spill  *sink.Spill[model.Metric]
	logger *slog.Logger
	now    func() time.Time
}

// New creates the store over store.
func New(store storage.MetricStore, cfg Config, logger *slog.Logger) (*Service, error) {
	spill, err := sink.NewSpill[model.Metric](cfg.SpillDir, "metrics", logger)
	if err != nil {
		return nil, err
	}
	s := &Service{store: store, spill: spill, logger: logger, now: time.Now}
	s.buf = sink.NewBuffer(sink.Config{
		Name:          "metrics",
		MaxSize:       cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
	}, store.AppendMetrics, spill, logger)
	return s, nil
}

// Start replays spilled metrics from a previous run and starts the flush loop.
func (s *Service) Start(ctx context.Context) {
	if s.spill != nil {
		n, err := s.spill.Replay(ctx, 500, s.store.ReplayMetrics)
		switch {
		case err != nil:
			s.logger.Error("metrics: spill replay failed", "error", err, "path", s.spill.Path())
		case n > 0:
			s.logger.Info("metrics: replayed spilled metrics", "count", n)
		}
	}
	s.buf.Start(ctx)
}

// Record queues one observation and returns it with its id and timestamp.
// It never fails; tags with invalid keys are dropped with a warning.
func (s *Service) Record(name string, value float64, unit string, tags map[string]string) model.Metric {
	clean := make(map[string]string, len(tags))
	for k, v := range tags {
		if err := model.ValidateTagKey(k); err != nil {
			s.logger.Warn("metrics: dropping invalid tag", "metric", name, "tag", k, "error", err)
			continue
		}
		clean[k] = v
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	m := model.Metric{
		ID:        id,
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      clean,
		Timestamp: storage.UTC(s.now()),
	}
	s.buf.Append(m)
	// Callers get their own copy of the tag set.
	m.Tags = maps.Clone(clean)
	return m
}

// Flush forces delivery of everything recorded so far.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.buf.Flush(ctx); err != nil {
		return fmt.Errorf("metrics: flush: %w", storage.Classify(err))
	}
	return nil
}

// Drain stops the flush loop after a final flush bounded by ctx.
func (s *Service) Drain(ctx context.Context) { s.buf.Drain(ctx) }

// Dropped returns the number of metrics lost because neither store accepted them.
func (s *Service) Dropped() int64 { return s.buf.Dropped() }

// Query returns the stored metrics matching q, newest first (id descending on
// equal timestamps). Pages are fetched lazily as the sequence is consumed.
// Every range re-runs the query from the start. The sequence ends when the
// matches are exhausted or ctx is done; a store failure is yielded once as
// the final element.
func (s *Service) Query(ctx context.Context, q model.MetricQuery) iter.Seq2[model.Metric, error] {
	return func(yield func(model.Metric, error) bool) {
		if err := model.ValidateTags(q.Tags); err != nil {
			yield(model.Metric{}, fmt.Errorf("metrics: query: %w", err))
			return
		}
		size := q.PageSize
		if size <= 0 {
			size = model.DefaultMetricPageSize
		}

		var cursor *model.MetricCursor
		for {
			if ctx.Err() != nil {
				return
			}
			page, err := s.store.QueryMetrics(ctx, q, cursor, size)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				yield(model.Metric{}, fmt.Errorf("metrics: query: %w", storage.Classify(err)))
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			last := page[len(page)-1]
			cursor = &model.MetricCursor{Timestamp: last.Timestamp, ID: last.ID}
		}
	}
}
