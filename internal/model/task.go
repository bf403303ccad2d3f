package model

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Task is a work item belonging to one Workflow, optionally assigned to an Agent.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	WorkflowID   uuid.UUID  `json:"workflow_id"`
	AgentID      *uuid.UUID `json:"agent_id,omitempty"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     int        `json:"priority"`
	Input        Document   `json:"input"`
	Output       Document   `json:"output,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	WorkflowID uuid.UUID
	AgentID    uuid.UUID
	Status     TaskStatus
	Limit      int
}

// PendingFilter narrows PendingTasks. Pending tasks are always returned by
// priority descending, then creation time ascending, then id ascending.
type PendingFilter struct {
	WorkflowID uuid.UUID
	Limit      int
}

// ValidatePriority checks that p fits the 32-bit priority column.
func ValidatePriority(p int) error {
	if p < math.MinInt32 || p > math.MaxInt32 {
		return fmt.Errorf("%w: task priority %d is out of range [%d, %d]",
			ErrInvalidArgument, p, math.MinInt32, math.MaxInt32)
	}
	return nil
}
