package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric is an append-only numeric observation. Immutable once written.
type Metric struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricQuery selects metrics. Results are ordered by timestamp descending,
// then id descending.
type MetricQuery struct {
	NamePrefix string
	// Tags must all be present with equal values.
	Tags     map[string]string
	Range    TimeRange
	PageSize int
}

// MetricCursor is the keyset position of the last metric returned.
type MetricCursor struct {
	Timestamp time.Time
	ID        uuid.UUID
}

// DefaultMetricPageSize is used when MetricQuery.PageSize is not positive.
const DefaultMetricPageSize = 500

// ValidateTagKey checks a metric tag key. Keys must start with a letter and
// contain only ASCII letters, digits, dots, hyphens and underscores.
func ValidateTagKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: tag key must not be empty", ErrInvalidArgument)
	}
	if len(key) > 64 {
		return fmt.Errorf("%w: tag key must be at most 64 characters", ErrInvalidArgument)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 {
			if !letter {
				return fmt.Errorf("%w: tag key must start with a letter, got %q", ErrInvalidArgument, c)
			}
			continue
		}
		if !letter && (c < '0' || c > '9') && c != '-' && c != '_' && c != '.' {
			return fmt.Errorf("%w: tag key contains invalid character at position %d: %q", ErrInvalidArgument, i, c)
		}
	}
	return nil
}

// ValidateTags checks every key of tags.
func ValidateTags(tags map[string]string) error {
	for k := range tags {
		if err := ValidateTagKey(k); err != nil {
			return err
		}
	}
	return nil
}
