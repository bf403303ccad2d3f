package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// spillMaxLine bounds one encoded record in the spill file.
const spillMaxLine = 16 << 20

// Spill is the secondary store for items the primary store rejected: an
// append-only JSON-lines file that is replayed into the primary store on the
// next start.
type Spill[T any] struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewSpill returns a Spill writing dir/<name>.spill.jsonl, or nil when dir is
// empty (spilling disabled).
func NewSpill[T any](dir, name string, logger *slog.Logger) (*Spill[T], error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("sink: create spill dir: %w", err)
	}
	return &Spill[T]{path: filepath.Join(dir, name+".spill.jsonl"), logger: logger}, nil
}

// Path returns the spill file path.
func (s *Spill[T]) Path() string { return s.path }

// Write appends items to the spill file and syncs it.
func (s *Spill[T]) Write(items []T) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("sink: open spill file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			_ = f.Close()
			return fmt.Errorf("sink: encode spill record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sink: write spill file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sink: sync spill file: %w", err)
	}
	return f.Close()
}

// Replay feeds every spilled item to write in batches of batchSize and
// removes the file once all of them were accepted. Items that cannot be
// decoded are logged and skipped. On a write failure the file is kept for
// the next attempt.
func (s *Spill[T]) Replay(ctx context.Context, batchSize int, write WriteFunc[T]) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sink: open spill file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if batchSize <= 0 {
		batchSize = 500
	}

	var (
		total   int64
		batch   []T
		line    int
		scanner = bufio.NewScanner(f)
	)
	scanner.Buffer(make([]byte, 64*1024), spillMaxLine)

	send := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := write(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			s.logger.Warn("sink: skipping corrupt spill record", "path", s.path, "line", line, "error", err)
			continue
		}
		batch = append(batch, item)
		if len(batch) >= batchSize {
			if err := send(); err != nil {
				return total, fmt.Errorf("sink: replay spill file: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("sink: read spill file: %w", err)
	}
	if err := send(); err != nil {
		return total, fmt.Errorf("sink: replay spill file: %w", err)
	}

	if err := os.Remove(s.path); err != nil {
		return total, fmt.Errorf("sink: remove replayed spill file: %w", err)
	}
	return total, nil
}
