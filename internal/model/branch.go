package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Branch is a department-level unit that owns Agents.
type Branch struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Status        BranchStatus `json:"status"`
	Config        Document     `json:"config"`
	LastExecution *time.Time   `json:"last_execution,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// BranchFilter narrows ListBranches. Zero values match everything.
type BranchFilter struct {
	Status BranchStatus
	Type   string
}

// BranchDeletion counts the rows removed or changed by DeleteBranch.
type BranchDeletion struct {
	Branches        int64 `json:"branches"`
	Agents          int64 `json:"agents"`
	TasksUnassigned int64 `json:"tasks_unassigned"`
}

// ValidateName checks a human-readable entity name.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidArgument, kind)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: %s name must be at most 255 characters", ErrInvalidArgument, kind)
	}
	return nil
}
