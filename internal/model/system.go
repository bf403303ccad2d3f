package model

import (
	"time"

	"github.com/google/uuid"
)

// SystemStatus is a point-in-time summary of the ledger.
type SystemStatus struct {
	Uptime    time.Duration            `json:"uptime"`
	Branches  map[BranchStatus]int64   `json:"branches"`
	Agents    map[AgentStatus]int64    `json:"agents"`
	Workflows map[WorkflowStatus]int64 `json:"workflows"`
	Tasks     map[TaskStatus]int64     `json:"tasks"`
	// BranchDetails lists each branch with its agent count, ordered by name.
	BranchDetails []BranchSummary `json:"branch_details"`
	// SuccessRate is completed / (completed + failed) workflows, in [0, 1].
	// Zero until a workflow finishes.
	SuccessRate         float64       `json:"success_rate"`
	AvgWorkflowDuration time.Duration `json:"avg_workflow_duration"`
	// RecentWorkflows holds the five most recently created workflows, newest
	// first.
	RecentWorkflows []WorkflowSummary `json:"recent_workflows"`
}

// WorkflowSummary is one workflow row of SystemStatus. Duration runs from
// started_at to completed_at, or to the status time while running; it is zero
// for workflows that never started.
type WorkflowSummary struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Status   WorkflowStatus `json:"status"`
	Duration time.Duration  `json:"duration"`
}

// BranchSummary is one branch row of SystemStatus.
type BranchSummary struct {
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Status        BranchStatus `json:"status"`
	Agents        int64        `json:"agents"`
	LastExecution *time.Time   `json:"last_execution,omitempty"`
}
