package model

import (
	"errors"
	"fmt"
)

// Error kinds returned by the ledger. Callers classify failures with errors.Is.
var (
	// ErrNotFound is returned when an id does not reference a live entity.
	ErrNotFound = errors.New("ledger: not found")

	// ErrDuplicateName is returned when a unique name is already taken.
	ErrDuplicateName = errors.New("ledger: duplicate name")

	// ErrInvalidTransition is returned when a status change is not in the
	// entity's transition table.
	ErrInvalidTransition = errors.New("ledger: invalid transition")

	// ErrInvalidState is returned when an operation's precondition on the
	// current status does not hold. It wraps ErrInvalidTransition, so every
	// status-machine violation matches errors.Is(err, ErrInvalidTransition).
	ErrInvalidState = fmt.Errorf("ledger: invalid state: %w", ErrInvalidTransition)

	// ErrAgentUnavailable is returned by assignment when the agent exists but
	// cannot take more work. It wraps ErrNotFound: an agent that is not idle
	// is not a valid assignment target.
	ErrAgentUnavailable = fmt.Errorf("ledger: agent unavailable: %w", ErrNotFound)

	// ErrStoreUnavailable wraps any persistence failure that is not one of the
	// domain errors above. Operations failing with it may be retried.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrInvalidArgument is returned for malformed input (empty names,
	// documents that are not valid JSON, bad tag keys).
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	// State is set when the failure is a precondition on the current status
	// rather than a missing edge in the transition table.
	State bool
}

func (e *TransitionError) Error() string {
	kind := "invalid transition"
	if e.State {
		kind = "invalid state"
	}
	return fmt.Sprintf("ledger: %s %s: %s: %s -> %s", e.Entity, e.ID, kind, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition (and ErrInvalidState for
// precondition failures).
func (e *TransitionError) Unwrap() error {
	if e.State {
		return ErrInvalidState
	}
	return ErrInvalidTransition
}

// IsDomainError reports whether err is one of the ledger's own error kinds,
// as opposed to a failure of the underlying store.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrStoreUnavailable)
}
