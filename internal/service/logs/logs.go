// Package logs is the Log Sink: fire-and-forget appends of diagnostic records,
// batched into the store in the background, plus ordered reads for an
// observability pipeline.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/sink"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Config tunes the sink. Zero values select defaults.
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
	// SpillDir enables the secondary store for batches the database rejects.
	SpillDir string
	// PollInterval is how often Follow re-reads the store when no
	// notification arrives.
	PollInterval time.Duration
}

// Service is the Log Sink.
type Service struct {
	store    storage.LogStore
	notifier storage.LogNotifier // nil when the backend cannot notify
	buf      *sink.Buffer[model.LogRecord]
	spill    *sink.Spill[model.LogRecord]
	logger   *slog.Logger
	poll     time.Duration
	now      func() time.Time
}

// New creates the sink over store. If store also implements
// storage.LogNotifier, Follow is woken by it.
func New(store storage.LogStore, cfg Config, logger *slog.Logger) (*Service, error) {
	spill, err := sink.NewSpill[model.LogRecord](cfg.SpillDir, "logs", logger)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	s := &Service{
		store:  store,
		spill:  spill,
		logger: logger,
		poll:   cfg.PollInterval,
		now:    time.Now,
	}
	if n, ok := store.(storage.LogNotifier); ok {
		s.notifier = n
	}
	s.buf = sink.NewBuffer(sink.Config{
		Name:          "logs",
		MaxSize:       cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
	}, store.AppendLogs, spill, logger)
	return s, nil
}

// Start replays any spilled records from a previous run and starts the
// background flush loop.
func (s *Service) Start(ctx context.Context) {
	if s.spill != nil {
		n, err := s.spill.Replay(ctx, 500, s.store.ReplayLogs)
		switch {
		case err != nil:
			s.logger.Error("logs: spill replay failed", "error", err, "path", s.spill.Path())
		case n > 0:
			s.logger.Info("logs: replayed spilled records", "count", n)
		}
	}
	s.buf.Start(ctx)
}

// Append records a log line. It never fails and never waits on the store.
// An unknown level is stored as info and metadata that is not valid JSON is
// stored as a string under "raw".
func (s *Service) Append(level model.LogLevel, component, message string, metadata model.Document) model.LogRecord {
	if !level.Valid() {
		s.logger.Debug("logs: unknown level stored as info", "level", level)
		level = model.LevelInfo
	}
	if err := model.ValidateDocument("metadata", metadata); err != nil {
		wrapped, _ := json.Marshal(map[string]string{"raw": string(metadata)})
		metadata = wrapped
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	r := model.LogRecord{
		ID:        id,
		Timestamp: storage.UTC(s.now()),
		Level:     level,
		Component: component,
		Message:   message,
		Metadata:  model.DocumentOrEmpty(metadata),
	}
	s.buf.Append(r)
	return r
}

// Flush forces delivery of everything appended so far.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.buf.Flush(ctx); err != nil {
		return fmt.Errorf("logs: flush: %w", storage.Classify(err))
	}
	return nil
}

// Drain stops the flush loop after a final flush bounded by ctx.
func (s *Service) Drain(ctx context.Context) { s.buf.Drain(ctx) }

// Dropped returns the number of records lost because neither store accepted them.
func (s *Service) Dropped() int64 { return s.buf.Dropped() }

// Tail returns up to limit stored records after the cursor, oldest first.
func (s *Service) Tail(ctx context.Context, after model.LogCursor, limit int) ([]model.LogRecord, error) {
	records, err := s.store.TailLogs(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("logs: tail: %w", storage.Classify(err))
	}
	return records, nil
}

// Follow calls fn for every record after the cursor, in order, until ctx is
// done or fn returns an error. Between reads it waits for a store
// notification, falling back to polling.
func (s *Service) Follow(ctx context.Context, after model.LogCursor, fn func(model.LogRecord) error) error {
	const page = 200
	notify := s.notifier
	for {
		records, err := s.Tail(ctx, after, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, r := range records {
			if err := fn(r); err != nil {
				return err
			}
			after = model.CursorOf(r)
		}
		if len(records) == page {
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, s.poll)
		if notify != nil {
			err = notify.WaitForLogs(waitCtx)
			if err != nil && waitCtx.Err() == nil {
				s.logger.Debug("logs: notifications unavailable, polling", "error", err)
				notify = nil
			}
		}
		if notify == nil {
			<-waitCtx.Done()
		}
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
