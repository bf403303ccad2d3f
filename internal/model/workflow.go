package model

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is a top-level unit of automation decomposed into Tasks.
type Workflow struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Status       WorkflowStatus `json:"status"`
	Parameters   Document       `json:"parameters"`
	Results      Document       `json:"results,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// WorkflowFilter narrows ListWorkflows. Results are newest first.
type WorkflowFilter struct {
	Status WorkflowStatus
	Limit  int
	Offset int
}

// WorkflowDeletion counts the rows removed by DeleteWorkflow.
type WorkflowDeletion struct {
	Workflows int64 `json:"workflows"`
	Tasks     int64 `json:"tasks"`
}
