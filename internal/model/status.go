package model

import "fmt"

// BranchStatus is the coarse activation state of a Branch.
type BranchStatus string

const (
	BranchInactive BranchStatus = "inactive"
	BranchActive   BranchStatus = "active"
)

// AgentStatus is the runtime state of an Agent.
type AgentStatus string

const (
	AgentIdle  AgentStatus = "idle"
	AgentBusy  AgentStatus = "busy"
	AgentError AgentStatus = "error"
)

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

var branchTransitions = map[BranchStatus][]BranchStatus{
	BranchInactive: {BranchActive},
	BranchActive:   {BranchInactive},
}

var agentTransitions = map[AgentStatus][]AgentStatus{
	AgentIdle:  {AgentBusy},
	AgentBusy:  {AgentIdle, AgentError},
	AgentError: {AgentIdle},
}

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowPending: {WorkflowRunning, WorkflowFailed},
	WorkflowRunning: {WorkflowCompleted, WorkflowFailed},
}

// Failing from pending or assigned is a cancellation.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:  {TaskAssigned, TaskFailed},
	TaskAssigned: {TaskRunning, TaskFailed},
	TaskRunning:  {TaskCompleted, TaskFailed},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a member of the enumeration.
func (s BranchStatus) Valid() bool { return s == BranchInactive || s == BranchActive }

// CanTransitionTo reports whether the branch may move from s to target.
func (s BranchStatus) CanTransitionTo(target BranchStatus) bool {
	return allowed(branchTransitions, s, target)
}

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the agent may move from s to target.
func (s AgentStatus) CanTransitionTo(target AgentStatus) bool {
	return allowed(agentTransitions, s, target)
}

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// CanTransitionTo reports whether the workflow may move from s to target.
func (s WorkflowStatus) CanTransitionTo(target WorkflowStatus) bool {
	return allowed(workflowTransitions, s, target)
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskAssigned, TaskRunning, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// IsActive reports whether a task in status s occupies its agent.
func (s TaskStatus) IsActive() bool {
	return s == TaskAssigned || s == TaskRunning
}

// CanTransitionTo reports whether the task may move from s to target.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	return allowed(taskTransitions, s, target)
}

// AllBranchStatuses lists the branch enumeration in declaration order.
func AllBranchStatuses() []BranchStatus { return []BranchStatus{BranchInactive, BranchActive} }

// AllAgentStatuses lists the agent enumeration in declaration order.
func AllAgentStatuses() []AgentStatus { return []AgentStatus{AgentIdle, AgentBusy, AgentError} }

// AllWorkflowStatuses lists the workflow enumeration in declaration order.
func AllWorkflowStatuses() []WorkflowStatus {
	return []WorkflowStatus{WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed}
}

// AllTaskStatuses lists the task enumeration in declaration order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskAssigned, TaskRunning, TaskCompleted, TaskFailed}
}

// ParseBranchStatus converts a stored value, rejecting anything outside the enumeration.
func ParseBranchStatus(v string) (BranchStatus, error) {
	s := BranchStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("model: unknown branch status %q", v)
	}
	return s, nil
}

// ParseAgentStatus converts a stored value, rejecting anything outside the enumeration.
func ParseAgentStatus(v string) (AgentStatus, error) {
	s := AgentStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("model: unknown agent status %q", v)
	}
	return s, nil
}

// ParseWorkflowStatus converts a stored value, rejecting anything outside the enumeration.
func ParseWorkflowStatus(v string) (WorkflowStatus, error) {
	s := WorkflowStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("model: unknown workflow status %q", v)
	}
	return s, nil
}

// ParseTaskStatus converts a stored value, rejecting anything outside the enumeration.
func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("model: unknown task status %q", v)
	}
	return s, nil
}
