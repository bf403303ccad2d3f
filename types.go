package kiroku

import (
	"github.com/ashita-ai/kiroku/internal/manifest"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/ledger"
)

// Entities.
type (
	Branch        = model.Branch
	Agent         = model.Agent
	Workflow      = model.Workflow
	Task          = model.Task
	LogRecord     = model.LogRecord
	Metric        = model.Metric
	AdminIdentity = model.AdminIdentity
	SystemStatus  = model.SystemStatus
	BranchSummary = model.BranchSummary
	// WorkflowSummary is one entry of SystemStatus.RecentWorkflows.
	WorkflowSummary = model.WorkflowSummary

	// Document is an opaque JSON value stored and returned byte-for-byte.
	Document = model.Document
)

// Statuses.
type (
	BranchStatus   = model.BranchStatus
	AgentStatus    = model.AgentStatus
	WorkflowStatus = model.WorkflowStatus
	TaskStatus     = model.TaskStatus
	LogLevel       = model.LogLevel
)

const (
	BranchInactive = model.BranchInactive
	BranchActive   = model.BranchActive

	AgentIdle  = model.AgentIdle
	AgentBusy  = model.AgentBusy
	AgentError = model.AgentError

	WorkflowPending   = model.WorkflowPending
	WorkflowRunning   = model.WorkflowRunning
	WorkflowCompleted = model.WorkflowCompleted
	WorkflowFailed    = model.WorkflowFailed

	TaskPending   = model.TaskPending
	TaskAssigned  = model.TaskAssigned
	TaskRunning   = model.TaskRunning
	TaskCompleted = model.TaskCompleted
	TaskFailed    = model.TaskFailed

	LevelDebug    = model.LevelDebug
	LevelInfo     = model.LevelInfo
	LevelWarning  = model.LevelWarning
	LevelError    = model.LevelError
	LevelCritical = model.LevelCritical
)

// Filters, queries and results.
type (
	BranchFilter     = model.BranchFilter
	AgentFilter      = model.AgentFilter
	WorkflowFilter   = model.WorkflowFilter
	TaskFilter       = model.TaskFilter
	PendingFilter    = model.PendingFilter
	MetricQuery      = model.MetricQuery
	TimeRange        = model.TimeRange
	LogCursor        = model.LogCursor
	BranchDeletion   = model.BranchDeletion
	AgentDeletion    = model.AgentDeletion
	WorkflowDeletion = model.WorkflowDeletion
	TaskSpec         = ledger.TaskSpec
	FailOptions      = ledger.FailOptions
	Transition       = ledger.Transition
	ImportResult     = manifest.Result
	TransitionError  = model.TransitionError
)

// Error kinds. Classify failures with errors.Is.
var (
	ErrNotFound          = model.ErrNotFound
	ErrDuplicateName     = model.ErrDuplicateName
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrInvalidState      = model.ErrInvalidState
	ErrAgentUnavailable  = model.ErrAgentUnavailable
	ErrStoreUnavailable  = model.ErrStoreUnavailable
	ErrInvalidArgument   = model.ErrInvalidArgument
)
