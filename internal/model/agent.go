package model

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a worker owned by exactly one Branch.
type Agent struct {
	ID            uuid.UUID   `json:"id"`
	BranchID      uuid.UUID   `json:"branch_id"`
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Status        AgentStatus `json:"status"`
	Capabilities  Document    `json:"capabilities"`
	Metrics       Document    `json:"metrics"`
	LastExecution *time.Time  `json:"last_execution,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AgentFilter narrows ListAgents. Zero values match everything.
type AgentFilter struct {
	BranchID uuid.UUID
	Status   AgentStatus
}

// AgentDeletion counts the tasks whose assignment was cleared by DeleteAgent.
type AgentDeletion struct {
	Agents          int64 `json:"agents"`
	TasksUnassigned int64 `json:"tasks_unassigned"`
}
