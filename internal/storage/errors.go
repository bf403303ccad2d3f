package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = model.ErrNotFound

// NotFound builds the error returned when an entity id does not resolve.
func NotFound(kind string, id fmt.Stringer) error {
	return fmt.Errorf("storage: %s %s: %w", kind, id, ErrNotFound)
}

// Classify maps a backend failure onto the ledger's error kinds. Domain errors
// and context cancellation pass through; anything else is wrapped with
// model.ErrStoreUnavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if model.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}
