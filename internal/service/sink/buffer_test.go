package sink

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	N int    `json:"n"`
	S string `json:"s"`
}

// fakeStore collects written batches and fails while failing is set.
type fakeStore struct {
	mu      sync.Mutex
	written []record
	calls   int
	failing bool
}

func (f *fakeStore) write(_ context.Context, batch []record) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return 0, errors.New("connection refused")
	}
	f.written = append(f.written, batch...)
	return int64(len(batch)), nil
}

func (f *fakeStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

func TestBufferDoubleStartIsNoop(t *testing.T) {
	store := &fakeStore{}
	buf := NewBuffer(Config{Name: "test", MaxSize: 100, FlushInterval: 50 * time.Millisecond}, store.write, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf.Start(ctx)
	buf.Start(ctx)
	require.True(t, buf.started.Load())

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestBufferFlushesOnSize(t *testing.T) {
	store := &fakeStore{}
	buf := NewBuffer(Config{Name: "test", MaxSize: 5, FlushInterval: time.Hour}, store.write, nil, testLogger())
	buf.Start(context.Background())
	defer buf.Drain(context.Background())

	for i := range 5 {
		buf.Append(record{N: i})
	}
	assert.Eventually(t, func() bool { return store.count() == 5 }, 2*time.Second, 10*time.Millisecond)
}

func TestBufferFlushesOnInterval(t *testing.T) {
	store := &fakeStore{}
	buf := NewBuffer(Config{Name: "test", MaxSize: 1000, FlushInterval: 20 * time.Millisecond}, store.write, nil, testLogger())
	buf.Start(context.Background())
	defer buf.Drain(context.Background())

	buf.Append(record{N: 1})
	assert.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBufferFlushWithoutStart(t *testing.T) {
	store := &fakeStore{}
	buf := NewBuffer(Config{Name: "test"}, store.write, nil, testLogger())

	buf.Append(record{N: 1})
	buf.Append(record{N: 2})
	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 2, store.count())
	assert.Equal(t, 0, buf.Len())
}

func TestBufferDrainFlushesRemaining(t *testing.T) {
	store := &fakeStore{}
	buf := NewBuffer(Config{Name: "test", MaxSize: 1000, FlushInterval: time.Hour}, store.write, nil, testLogger())
	buf.Start(context.Background())

	for i := range 10 {
		buf.Append(record{N: i})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf.Drain(ctx)
	assert.Equal(t, 10, store.count())
}

func TestBufferRequeuesOnFailure(t *testing.T) {
	store := &fakeStore{failing: true}
	buf := NewBuffer(Config{Name: "test"}, store.write, nil, testLogger())

	buf.Append(record{N: 1})
	require.Error(t, buf.Flush(context.Background()))
	assert.Equal(t, 1, buf.Len(), "failed batch should be requeued")
	assert.Zero(t, buf.Dropped())

	store.setFailing(false)
	require.NoError(t, buf.Flush(context.Background()))
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 0, buf.Len())
}

func TestBufferDropsAtCapacity(t *testing.T) {
	store := &fakeStore{failing: true}
	buf := NewBuffer(Config{Name: "test", Capacity: 3}, store.write, nil, testLogger())

	for i := range 5 {
		buf.Append(record{N: i})
	}
	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, int64(2), buf.Dropped())
}

func TestBufferSpillsOnFailureAndReplays(t *testing.T) {
	dir := t.TempDir()
	spill, err := NewSpill[record](dir, "test", testLogger())
	require.NoError(t, err)

	store := &fakeStore{failing: true}
	buf := NewBuffer(Config{Name: "test"}, store.write, spill, testLogger())

	buf.Append(record{N: 1, S: "a"})
	buf.Append(record{N: 2, S: "b"})
	require.Error(t, buf.Flush(context.Background()))
	assert.Equal(t, 0, buf.Len(), "spilled batch must not be requeued")
	assert.Equal(t, int64(2), buf.Spilled())
	assert.FileExists(t, filepath.Join(dir, "test.spill.jsonl"))

	// Replay fails while the store is still down and keeps the file.
	_, err = spill.Replay(context.Background(), 10, store.write)
	require.Error(t, err)
	assert.FileExists(t, spill.Path())

	store.setFailing(false)
	n, err := spill.Replay(context.Background(), 1, store.write)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoFileExists(t, spill.Path())
	assert.Equal(t, []record{{N: 1, S: "a"}, {N: 2, S: "b"}}, store.written)
}

func TestSpillReplaySkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	spill, err := NewSpill[record](dir, "test", testLogger())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(spill.Path(), []byte("{\"n\":1}\nnot json\n\n{\"n\":2}\n"), 0o600))

	store := &fakeStore{}
	n, err := spill.Replay(context.Background(), 10, store.write)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []record{{N: 1}, {N: 2}}, store.written)
}

func TestSpillDisabledWithoutDir(t *testing.T) {
	spill, err := NewSpill[record]("", "test", testLogger())
	require.NoError(t, err)
	assert.Nil(t, spill)
}

func TestReplayMissingFileIsNoop(t *testing.T) {
	spill, err := NewSpill[record](t.TempDir(), "test", testLogger())
	require.NoError(t, err)
	n, err := spill.Replay(context.Background(), 10, (&fakeStore{}).write)
	require.NoError(t, err)
	assert.Zero(t, n)
}
