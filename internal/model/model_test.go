package model_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func TestValidateDocument(t *testing.T) {
	require.NoError(t, model.ValidateDocument("input", nil))
	require.NoError(t, model.ValidateDocument("input", model.Document(`{"a":[1,2]}`)))
	require.NoError(t, model.ValidateDocument("input", model.Document(`"scalar"`)))

	err := model.ValidateDocument("input", model.Document(`{"a":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "input is not valid JSON")
}

func TestDocumentOrEmpty(t *testing.T) {
	assert.Equal(t, model.EmptyDocument, model.DocumentOrEmpty(nil))
	assert.Equal(t, model.EmptyDocument, model.DocumentOrEmpty(model.Document("  ")))
	assert.Equal(t, model.Document(`[1]`), model.DocumentOrEmpty(model.Document(`[1]`)))
}

func TestMergeDocument(t *testing.T) {
	merged, err := model.MergeDocument(
		model.Document(`{"tasks_done":3,"latency":{"p50":1}}`),
		model.Document(`{"tasks_done":4,"errors":0}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks_done":4,"latency":{"p50":1},"errors":0}`, string(merged))

	merged, err = model.MergeDocument(nil, model.Document(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(merged))

	_, err = model.MergeDocument(model.Document(`{}`), model.Document(`[1,2]`))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = model.MergeDocument(model.Document(`{}`), model.Document(`null`))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestNextUpdate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("clock advanced", func(t *testing.T) {
		got := model.NextUpdate(base, base.Add(time.Second))
		assert.Equal(t, base.Add(time.Second), got)
	})

	t.Run("clock stalled", func(t *testing.T) {
		got := model.NextUpdate(base, base)
		assert.Equal(t, base.Add(time.Microsecond), got)
	})

	t.Run("clock went backwards", func(t *testing.T) {
		got := model.NextUpdate(base, base.Add(-time.Hour))
		assert.True(t, got.After(base))
	})

	t.Run("sub-microsecond advance", func(t *testing.T) {
		got := model.NextUpdate(base, base.Add(300*time.Nanosecond))
		assert.True(t, got.After(base))
		assert.Equal(t, 0, got.Nanosecond()%1000)
	})

	t.Run("strictly increasing over many calls", func(t *testing.T) {
		prev := base
		for range 100 {
			next := model.NextUpdate(prev, base)
			require.True(t, next.After(prev))
			prev = next
		}
	})
}

func TestValidateTagKey(t *testing.T) {
	for _, k := range []string{"a", "env", "workflow_id", "host.name", "zone-1", "Region", strings.Repeat("k", 64)} {
		require.NoError(t, model.ValidateTagKey(k), "expected valid: %q", k)
	}
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "must not be empty"},
		{"too long", strings.Repeat("k", 65), "at most 64"},
		{"starts with digit", "1a", "must start with a letter"},
		{"quote", `a"b`, "invalid character"},
		{"space", "a b", "invalid character"},
		{"dollar", "a$", "invalid character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidateTagKey(tt.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateName(t *testing.T) {
	require.NoError(t, model.ValidateName("branch", "Development"))
	assert.ErrorIs(t, model.ValidateName("branch", ""), model.ErrInvalidArgument)
	assert.ErrorIs(t, model.ValidateName("branch", strings.Repeat("x", 256)), model.ErrInvalidArgument)
}

func TestValidatePriority(t *testing.T) {
	for _, p := range []int{0, -7, math.MaxInt32, math.MinInt32} {
		assert.NoError(t, model.ValidatePriority(p), p)
	}
	for _, p := range []int{math.MaxInt32 + 1, math.MinInt32 - 1} {
		assert.ErrorIs(t, model.ValidatePriority(p), model.ErrInvalidArgument, p)
	}
}

func TestLogLevel(t *testing.T) {
	for _, l := range []string{"debug", "info", "warning", "error", "critical"} {
		got, err := model.ParseLogLevel(l)
		require.NoError(t, err)
		assert.Equal(t, model.LogLevel(l), got)
	}
	_, err := model.ParseLogLevel("warn")
	assert.Error(t, err)
}
