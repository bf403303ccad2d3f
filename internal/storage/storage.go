// Package storage defines the persistence contract for the ledger.
//
// Two backends implement it: storage/postgres (pgx, the production store) and
// storage/sqlite (modernc.org/sqlite, embedded). Both expose entity access only
// through InTx, so every multi-row change commits or rolls back as a unit. The
// append-only log and metric tables are written outside entity transactions
// and never wait on them.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Store is a ledger backend.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Backends may run fn more than once
	// when the store reports a transient conflict, so fn must not have side
	// effects outside tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	LogStore
	MetricStore

	// SeedAdmin inserts id unless an identity with the same username exists.
	// It reports whether a row was inserted.
	SeedAdmin(ctx context.Context, id model.AdminIdentity) (bool, error)
	// GetAdmin returns the identity with the given username.
	GetAdmin(ctx context.Context, username string) (model.AdminIdentity, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context)
	// Backend names the implementation ("postgres" or "sqlite").
	Backend() string
}

// Tx is the unit of work handed to InTx. Get methods with forUpdate set lock
// the row until the transaction ends; callers lock a task before its agent.
type Tx interface {
	InsertBranch(ctx context.Context, b model.Branch) error
	GetBranch(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Branch, error)
	ListBranches(ctx context.Context, f model.BranchFilter) ([]model.Branch, error)
	UpdateBranch(ctx context.Context, b model.Branch) error
	// DeleteBranch removes the branch and its agents, clearing the assignment
	// of every task held by those agents. Each cleared task's updated_at moves
	// to at, or one microsecond past its previous value if that is later.
	DeleteBranch(ctx context.Context, id uuid.UUID, at time.Time) (model.BranchDeletion, error)

	InsertAgent(ctx context.Context, a model.Agent) error
	GetAgent(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Agent, error)
	ListAgents(ctx context.Context, f model.AgentFilter) ([]model.Agent, error)
	UpdateAgent(ctx context.Context, a model.Agent) error
	// DeleteAgent removes the agent and clears the assignment of its tasks,
	// bumping their updated_at as DeleteBranch does.
	DeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) (model.AgentDeletion, error)
	// CountActiveTasks counts the assigned or running tasks held by an agent.
	CountActiveTasks(ctx context.Context, agentID uuid.UUID) (int, error)

	InsertWorkflow(ctx context.Context, w model.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Workflow, error)
	ListWorkflows(ctx context.Context, f model.WorkflowFilter) ([]model.Workflow, error)
	UpdateWorkflow(ctx context.Context, w model.Workflow) error
	// DeleteWorkflow removes the workflow and all of its tasks.
	DeleteWorkflow(ctx context.Context, id uuid.UUID) (model.WorkflowDeletion, error)

	InsertTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Task, error)
	ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error)
	// PendingTasks orders by priority descending, created_at ascending, id ascending.
	PendingTasks(ctx context.Context, f model.PendingFilter) ([]model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) error

	// Counts returns per-status row counts for every entity kind.
	Counts(ctx context.Context) (Counts, error)
	// BranchSummaries lists every branch with its agent count, ordered by name.
	BranchSummaries(ctx context.Context) ([]model.BranchSummary, error)
	// AvgWorkflowDuration is the mean of completed_at - started_at over
	// finished workflows that were started, or zero when there are none.
	AvgWorkflowDuration(ctx context.Context) (time.Duration, error)
}

// Counts holds per-status row counts.
type Counts struct {
	Branches  map[model.BranchStatus]int64
	Agents    map[model.AgentStatus]int64
	Workflows map[model.WorkflowStatus]int64
	Tasks     map[model.TaskStatus]int64
}

// NewCounts returns Counts with every status present and zero.
func NewCounts() Counts {
	c := Counts{
		Branches:  map[model.BranchStatus]int64{},
		Agents:    map[model.AgentStatus]int64{},
		Workflows: map[model.WorkflowStatus]int64{},
		Tasks:     map[model.TaskStatus]int64{},
	}
	for _, s := range model.AllBranchStatuses() {
		c.Branches[s] = 0
	}
	for _, s := range model.AllAgentStatuses() {
		c.Agents[s] = 0
	}
	for _, s := range model.AllWorkflowStatuses() {
		c.Workflows[s] = 0
	}
	for _, s := range model.AllTaskStatuses() {
		c.Tasks[s] = 0
	}
	return c
}

// LogStore is the append-only log table.
type LogStore interface {
	// AppendLogs writes a batch of records and returns how many were written.
	AppendLogs(ctx context.Context, records []model.LogRecord) (int64, error)
	// ReplayLogs writes records that may already be stored, skipping ids
	// that exist.
	ReplayLogs(ctx context.Context, records []model.LogRecord) (int64, error)
	// TailLogs returns up to limit records strictly after the cursor in
	// ascending (timestamp, id) order.
	TailLogs(ctx context.Context, after model.LogCursor, limit int) ([]model.LogRecord, error)
}

// MetricStore is the append-only metric table.
type MetricStore interface {
	AppendMetrics(ctx context.Context, metrics []model.Metric) (int64, error)
	ReplayMetrics(ctx context.Context, metrics []model.Metric) (int64, error)
	// QueryMetrics returns one page of q ordered by (timestamp, id) descending,
	// starting strictly after the cursor when it is non-nil.
	QueryMetrics(ctx context.Context, q model.MetricQuery, after *model.MetricCursor, limit int) ([]model.Metric, error)
}

// LogNotifier is implemented by backends that can wake log followers when new
// records are committed.
type LogNotifier interface {
	// WaitForLogs blocks until new log records may be available or ctx ends.
	WaitForLogs(ctx context.Context) error
}

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 1000

// Limit normalizes a caller-supplied limit.
func Limit(n int) int {
	if n <= 0 || n > DefaultListLimit {
		return DefaultListLimit
	}
	return n
}

// UTC normalizes t to the precision both backends round-trip.
func UTC(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }
