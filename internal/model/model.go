// Package model defines the core domain types for the orchestration ledger.
//
// Every type maps to a table in migrations/. Statuses are typed enumerations
// with transition tables consulted on every mutation; schemaless attributes
// are opaque Documents the ledger stores and returns without interpreting.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document is an opaque JSON value. The ledger validates that it is
// well-formed JSON and otherwise stores and returns it byte-for-byte.
type Document = json.RawMessage

// EmptyDocument is stored when a caller supplies no document.
var EmptyDocument = Document(`{}`)

// ValidateDocument checks that d is well-formed JSON. A nil or empty document
// is valid and means "absent".
func ValidateDocument(field string, d Document) error {
	if len(d) == 0 {
		return nil
	}
	if !json.Valid(d) {
		return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidArgument, field)
	}
	return nil
}

// DocumentOrEmpty returns d, or EmptyDocument when d is absent.
func DocumentOrEmpty(d Document) Document {
	if len(bytes.TrimSpace(d)) == 0 {
		return EmptyDocument
	}
	return d
}

// MergeDocument overlays the top-level keys of patch onto base. Both must be
// JSON objects; nested values are carried over verbatim.
func MergeDocument(base, patch Document) (Document, error) {
	merged := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(base)) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("%w: stored document is not an object: %v", ErrInvalidArgument, err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("%w: metrics patch must be a JSON object: %v", ErrInvalidArgument, err)
	}
	if overlay == nil {
		return nil, fmt.Errorf("%w: metrics patch must be a JSON object", ErrInvalidArgument)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("model: marshal merged document: %w", err)
	}
	return out, nil
}

// NextUpdate returns the updated_at value for a mutation happening at now.
// The result is strictly after prev so that updated_at increases on every
// mutation even when the clock does not advance between them. Timestamps are
// kept at microsecond precision to round-trip through Postgres.
func NextUpdate(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

// TimeRange bounds a query by timestamp. From is inclusive, To exclusive.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}
