// Package ledger holds the orchestration state machines: the Branch and
// Agent registries and the Workflow and Task ledgers.
//
// Every mutation runs inside one storage transaction that locks the rows it
// reads (task before agent, agent before branch), validates the transition
// against the model's tables and writes the result. Side effects (audit log
// records, OTel counters, transition hooks) happen only after commit.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// LogAppender receives the audit records the ledger emits.
type LogAppender interface {
	Append(level model.LogLevel, component, message string, metadata model.Document) model.LogRecord
}

// MetricRecorder receives the observations the ledger emits.
type MetricRecorder interface {
	Record(name string, value float64, unit string, tags map[string]string) model.Metric
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// MaxActiveTasksPerAgent is how many assigned or running tasks an agent
	// may hold at once. Default 1: an agent is busy iff it holds one task.
	MaxActiveTasksPerAgent int
	Logs                   LogAppender
	Metrics                MetricRecorder
	Hooks                  []Hook
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Service implements the ledger operations over a storage.Store.
type Service struct {
	store     storage.Store
	logger    *slog.Logger
	maxActive int
	logs      LogAppender
	metrics   MetricRecorder
	hooks     []Hook
	now       func() time.Time
	startedAt time.Time

	hooksWG sync.WaitGroup

	tracer       trace.Tracer
	transitions  metric.Int64Counter
	taskDuration metric.Float64Histogram
}

// New creates a ledger Service.
func New(store storage.Store, opts Options, logger *slog.Logger) *Service {
	if opts.MaxActiveTasksPerAgent <= 0 {
		opts.MaxActiveTasksPerAgent = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	meter := telemetry.Meter("kiroku/ledger")
	transitions, _ := meter.Int64Counter("kiroku.transitions",
		metric.WithDescription("Committed ledger mutations"),
	)
	taskDuration, _ := meter.Float64Histogram("kiroku.task.duration",
		metric.WithDescription("Time from task start to completion or failure"),
		metric.WithUnit("s"),
	)
	return &Service{
		store:        store,
		logger:       logger,
		maxActive:    opts.MaxActiveTasksPerAgent,
		logs:         opts.Logs,
		metrics:      opts.Metrics,
		hooks:        opts.Hooks,
		now:          opts.Clock,
		startedAt:    opts.Clock(),
		tracer:       telemetry.Tracer("kiroku/ledger"),
		transitions:  transitions,
		taskDuration: taskDuration,
	}
}

// clock returns the current time at storage precision.
func (s *Service) clock() time.Time { return storage.UTC(s.now()) }

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// wrap prefixes err with the operation and classifies store failures.
func wrap(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w", op, storage.Classify(err))
}

// mutate runs fn in a write transaction and, after commit, publishes the
// transitions fn recorded. fn may run more than once when the store retries.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx storage.Tx, rec *recorder) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+op)
	defer span.End()

	var rec recorder
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rec.reset()
		return fn(ctx, tx, &rec)
	})
	if err != nil {
		err = wrap(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.publish(ctx, op, rec)
	return nil
}

// view runs a read-only fn in a transaction.
func (s *Service) view(ctx context.Context, op string, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := s.store.InTx(ctx, fn); err != nil {
		return wrap(op, err)
	}
	return nil
}

func transitionErr(entity string, id uuid.UUID, from, to string) error {
	return &model.TransitionError{Entity: entity, ID: id.String(), From: from, To: to}
}

func stateErr(entity string, id uuid.UUID, from, to string) error {
	return &model.TransitionError{Entity: entity, ID: id.String(), From: from, To: to, State: true}
}

// Close waits for in-flight transition hooks, bounded by ctx.
func (s *Service) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.hooksWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("ledger: timed out waiting for transition hooks")
	}
}
