package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/ledger"
	"github.com/ashita-ai/kiroku/internal/service/logs"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

func newService(t *testing.T, opts ledger.Options) *ledger.Service {
	t.Helper()
	db := testutil.NewSQLite(t)
	svc := ledger.New(db, opts, testutil.TestLogger())
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

type fixture struct {
	svc      *ledger.Service
	branch   model.Branch
	agent    model.Agent
	workflow model.Workflow
}

func newFixture(t *testing.T, opts ledger.Options) fixture {
	t.Helper()
	ctx := context.Background()
	svc := newService(t, opts)
	b, err := svc.RegisterBranch(ctx, "engineering", "department", nil)
	require.NoError(t, err)
	a, err := svc.ProvisionAgent(ctx, b.ID, "builder", "worker", model.Document(`{"lang":["go"]}`))
	require.NoError(t, err)
	w, err := svc.CreateWorkflow(ctx, "release", "ship it", model.Document(`{"version":"1.2.0"}`))
	require.NoError(t, err)
	return fixture{svc: svc, branch: b, agent: a, workflow: w}
}

func (f fixture) newAgent(t *testing.T, name string) model.Agent {
	t.Helper()
	a, err := f.svc.ProvisionAgent(context.Background(), f.branch.ID, name, "worker", nil)
	require.NoError(t, err)
	return a
}

func (f fixture) newTask(t *testing.T, name string, priority int) model.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), f.workflow.ID, name, "", priority, nil)
	require.NoError(t, err)
	return task
}

// taskIn drives a fresh task to status using a fresh agent.
func (f fixture) taskIn(t *testing.T, status model.TaskStatus) model.Task {
	t.Helper()
	ctx := context.Background()
	task := f.newTask(t, "task-"+string(status), 0)
	if status == model.TaskPending {
		return task
	}
	if status == model.TaskFailed {
		task, err := f.svc.FailTask(ctx, task.ID, "cancelled", ledger.FailOptions{})
		require.NoError(t, err)
		return task
	}
	a := f.newAgent(t, "agent-"+uuid.NewString())
	task, err := f.svc.AssignTask(ctx, task.ID, a.ID)
	require.NoError(t, err)
	if status == model.TaskAssigned {
		return task
	}
	task, err = f.svc.StartTask(ctx, task.ID)
	require.NoError(t, err)
	if status == model.TaskRunning {
		return task
	}
	task, err = f.svc.CompleteTask(ctx, task.ID, nil)
	require.NoError(t, err)
	return task
}

func TestRegisterBranch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, ledger.Options{})

	b, err := svc.RegisterBranch(ctx, "research", "department", model.Document(`{"budget": 10}`))
	require.NoError(t, err)
	assert.Equal(t, model.BranchInactive, b.Status)
	assert.JSONEq(t, `{"budget": 10}`, string(b.Config))

	_, err = svc.RegisterBranch(ctx, "research", "other", nil)
	assert.ErrorIs(t, err, model.ErrDuplicateName)

	_, err = svc.RegisterBranch(ctx, "Research", "department", nil)
	assert.NoError(t, err, "names are case-sensitive")

	_, err = svc.RegisterBranch(ctx, "", "department", nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = svc.RegisterBranch(ctx, "broken", "department", model.Document(`{"budget":`))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	got, err := svc.GetBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"budget": 10}`, string(got.Config), "documents round-trip byte-for-byte")
}

func TestBranchActivation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, ledger.Options{})
	b, err := svc.RegisterBranch(ctx, "ops", "department", nil)
	require.NoError(t, err)

	active, err := svc.ActivateBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BranchActive, active.Status)
	assert.True(t, active.UpdatedAt.After(b.UpdatedAt))

	again, err := svc.ActivateBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, active.UpdatedAt, again.UpdatedAt, "no-op must not touch updated_at")

	inactive, err := svc.DeactivateBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BranchInactive, inactive.Status)

	list, err := svc.ListBranches(ctx, model.BranchFilter{Status: model.BranchActive})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.ActivateBranch(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteBranchRemovesAgents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	second := f.newAgent(t, "reviewer")
	f.newAgent(t, "tester")

	held := f.newTask(t, "compile", 1)
	held, err := f.svc.AssignTask(ctx, held.ID, second.ID)
	require.NoError(t, err)

	res, err := f.svc.DeleteBranch(ctx, f.branch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Branches)
	assert.Equal(t, int64(3), res.Agents)
	assert.Equal(t, int64(1), res.TasksUnassigned)

	_, err = f.svc.GetBranch(ctx, f.branch.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	for _, id := range []uuid.UUID{f.agent.ID, second.ID} {
		_, err = f.svc.GetAgent(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound)
	}

	task, err := f.svc.GetTask(ctx, held.ID)
	require.NoError(t, err)
	assert.Nil(t, task.AgentID)
	assert.Equal(t, model.TaskAssigned, task.Status, "status is left unchanged")

	_, err = f.svc.DeleteBranch(ctx, f.branch.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// stoppedClock returns a clock that never advances, so every write shares one
// timestamp.
func stoppedClock() func() time.Time {
	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestDeleteBranchAdvancesTaskUpdatedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{Clock: stoppedClock()})
	held := f.newTask(t, "compile", 0)
	held, err := f.svc.AssignTask(ctx, held.ID, f.agent.ID)
	require.NoError(t, err)

	_, err = f.svc.DeleteBranch(ctx, f.branch.ID)
	require.NoError(t, err)

	got, err := f.svc.GetTask(ctx, held.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AgentID)
	assert.True(t, got.UpdatedAt.After(held.UpdatedAt),
		"clearing the assignment is a change: %s must be after %s", got.UpdatedAt, held.UpdatedAt)
}

func TestProvisionAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	assert.Equal(t, model.AgentIdle, f.agent.Status)
	assert.Equal(t, f.branch.ID, f.agent.BranchID)

	_, err := f.svc.ProvisionAgent(ctx, uuid.New(), "ghost", "worker", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	agents, err := f.svc.ListAgents(ctx, model.AgentFilter{BranchID: f.branch.ID})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, f.agent.ID, agents[0].ID)
}

func TestRecordAgentMetricsMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})

	a, err := f.svc.RecordAgentMetrics(ctx, f.agent.ID, model.Document(`{"runs": 1, "errors": 0}`))
	require.NoError(t, err)
	require.NotNil(t, a.LastExecution)

	a, err = f.svc.RecordAgentMetrics(ctx, f.agent.ID, model.Document(`{"runs": 2, "p95": {"ms": 40}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"runs": 2, "errors": 0, "p95": {"ms": 40}}`, string(a.Metrics))

	_, err = f.svc.RecordAgentMetrics(ctx, f.agent.ID, model.Document(`[1,2]`))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestDeleteAgentWithRunningTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	_, err := f.svc.StartWorkflow(ctx, f.workflow.ID)
	require.NoError(t, err)

	task := f.newTask(t, "deploy", 0)
	_, err = f.svc.AssignTask(ctx, task.ID, f.agent.ID)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, task.ID)
	require.NoError(t, err)

	res, err := f.svc.DeleteAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Agents)
	assert.Equal(t, int64(1), res.TasksUnassigned)

	got, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, got.Status)
	assert.Nil(t, got.AgentID)

	done, err := f.svc.CompleteTask(ctx, task.ID, model.Document(`{"ok":true}`))
	require.NoError(t, err, "an unassigned running task can still finish")
	assert.Equal(t, model.TaskCompleted, done.Status)

	_, err = f.svc.DeleteAgent(ctx, f.agent.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteAgentAdvancesTaskUpdatedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{Clock: stoppedClock()})
	task := f.newTask(t, "deploy", 0)
	_, err := f.svc.AssignTask(ctx, task.ID, f.agent.ID)
	require.NoError(t, err)
	running, err := f.svc.StartTask(ctx, task.ID)
	require.NoError(t, err)

	_, err = f.svc.DeleteAgent(ctx, f.agent.ID)
	require.NoError(t, err)

	got, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AgentID)
	assert.True(t, got.UpdatedAt.After(running.UpdatedAt),
		"clearing the assignment is a change: %s must be after %s", got.UpdatedAt, running.UpdatedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestRecoverAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})

	_, err := f.svc.RecoverAgent(ctx, f.agent.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	task := f.newTask(t, "flaky", 0)
	_, err = f.svc.AssignTask(ctx, task.ID, f.agent.ID)
	require.NoError(t, err)
	_, err = f.svc.StartTask(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.svc.FailTask(ctx, task.ID, "crashed", ledger.FailOptions{AgentStatus: model.AgentError})
	require.NoError(t, err)

	a, err := f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentError, a.Status)

	next := f.newTask(t, "retry", 0)
	_, err = f.svc.AssignTask(ctx, next.ID, f.agent.ID)
	assert.ErrorIs(t, err, model.ErrAgentUnavailable)

	a, err = f.svc.RecoverAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, a.Status)

	_, err = f.svc.AssignTask(ctx, next.ID, f.agent.ID)
	assert.NoError(t, err)
}

func TestDeleteWorkflowMixedStatuses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	var ids []uuid.UUID
	for _, s := range model.AllTaskStatuses() {
		ids = append(ids, f.taskIn(t, s).ID)
	}

	res, err := f.svc.DeleteWorkflow(ctx, f.workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Workflows)
	assert.Equal(t, int64(len(ids)), res.Tasks)

	for _, id := range ids {
		_, err := f.svc.GetTask(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
	_, err = f.svc.GetWorkflow(ctx, f.workflow.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestWorkflowTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, ledger.Options{})

	w, err := svc.CreateWorkflow(ctx, "nightly", "", nil)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPending, w.Status)

	_, err = svc.CompleteWorkflow(ctx, w.ID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	w, err = svc.StartWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, w.StartedAt)

	_, err = svc.StartWorkflow(ctx, w.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	w, err = svc.CompleteWorkflow(ctx, w.ID, model.Document(`{"ok": true}`))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, w.Status)
	assert.NotNil(t, w.CompletedAt)

	for name, op := range map[string]func() error{
		"start":    func() error { _, err := svc.StartWorkflow(ctx, w.ID); return err },
		"complete": func() error { _, err := svc.CompleteWorkflow(ctx, w.ID, nil); return err },
		"fail":     func() error { _, err := svc.FailWorkflow(ctx, w.ID, "late"); return err },
	} {
		assert.ErrorIs(t, op(), model.ErrInvalidTransition, name)
	}

	_, err = svc.CreateTask(ctx, w.ID, "late", "", 0, nil)
	assert.ErrorIs(t, err, model.ErrInvalidState, "tasks cannot join a finished workflow")

	pending, err := svc.CreateWorkflow(ctx, "cancelled", "", nil)
	require.NoError(t, err)
	failed, err := svc.FailWorkflow(ctx, pending.ID, "no capacity")
	require.NoError(t, err)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "no capacity", *failed.ErrorMessage)

	history, err := svc.ListWorkflows(ctx, model.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, pending.ID, history[0].ID, "newest first")
}

func TestTaskTransitionTableIsEnforced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})

	ops := map[model.TaskStatus]func(task model.Task) error{
		model.TaskAssigned: func(task model.Task) error {
			_, err := f.svc.AssignTask(ctx, task.ID, f.newAgent(t, "a-"+uuid.NewString()).ID)
			return err
		},
		model.TaskRunning: func(task model.Task) error {
			_, err := f.svc.StartTask(ctx, task.ID)
			return err
		},
		model.TaskCompleted: func(task model.Task) error {
			_, err := f.svc.CompleteTask(ctx, task.ID, nil)
			return err
		},
		model.TaskFailed: func(task model.Task) error {
			_, err := f.svc.FailTask(ctx, task.ID, "stop", ledger.FailOptions{})
			return err
		},
	}

	for _, from := range model.AllTaskStatuses() {
		for to, op := range ops {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				task := f.taskIn(t, from)
				err := op(task)
				if from.CanTransitionTo(to) {
					require.NoError(t, err)
					got, err := f.svc.GetTask(ctx, task.ID)
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					return
				}
				require.ErrorIs(t, err, model.ErrInvalidTransition)
				got, err := f.svc.GetTask(ctx, task.ID)
				require.NoError(t, err)
				assert.Equal(t, from, got.Status, "rejected transition must not change state")
			})
		}
	}
}

func TestConcurrentAssignOneAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	t1 := f.newTask(t, "first", 0)
	t2 := f.newTask(t, "second", 0)

	var wins, unavailable atomic.Int32
	var g errgroup.Group
	for _, task := range []model.Task{t1, t2} {
		g.Go(func() error {
			_, err := f.svc.AssignTask(ctx, task.ID, f.agent.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrAgentUnavailable):
				unavailable.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), unavailable.Load())

	a, err := f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentBusy, a.Status)

	held, err := f.svc.ListTasks(ctx, model.TaskFilter{AgentID: f.agent.ID})
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestConcurrentAssignOneTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	other := f.newAgent(t, "other")
	task := f.newTask(t, "contested", 0)

	errs := make([]error, 2)
	var g errgroup.Group
	for i, agent := range []model.Agent{f.agent, other} {
		g.Go(func() error {
			_, errs[i] = f.svc.AssignTask(ctx, task.ID, agent.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, model.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)
}

func TestMaxActiveTasksPerAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{MaxActiveTasksPerAgent: 2})
	tasks := []model.Task{f.newTask(t, "a", 0), f.newTask(t, "b", 0), f.newTask(t, "c", 0)}

	for _, task := range tasks[:2] {
		_, err := f.svc.AssignTask(ctx, task.ID, f.agent.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.AssignTask(ctx, tasks[2].ID, f.agent.ID)
	assert.ErrorIs(t, err, model.ErrAgentUnavailable)

	_, err = f.svc.StartTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteTask(ctx, tasks[0].ID, nil)
	require.NoError(t, err)

	a, err := f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentBusy, a.Status, "agent still holds one task")

	_, err = f.svc.FailTask(ctx, tasks[1].ID, "cancelled", ledger.FailOptions{})
	require.NoError(t, err)
	a, err = f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, a.Status)
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{Clock: stoppedClock()})

	last := f.branch.UpdatedAt
	for i := 0; i < 4; i++ {
		var b model.Branch
		var err error
		if i%2 == 0 {
			b, err = f.svc.ActivateBranch(ctx, f.branch.ID)
		} else {
			b, err = f.svc.DeactivateBranch(ctx, f.branch.ID)
		}
		require.NoError(t, err)
		assert.True(t, b.UpdatedAt.After(last), "mutation %d", i)
		last = b.UpdatedAt
	}

	task := f.newTask(t, "tick", 0)
	stamps := []time.Time{task.UpdatedAt}
	assigned, err := f.svc.AssignTask(ctx, task.ID, f.agent.ID)
	require.NoError(t, err)
	stamps = append(stamps, assigned.UpdatedAt)
	started, err := f.svc.StartTask(ctx, task.ID)
	require.NoError(t, err)
	stamps = append(stamps, started.UpdatedAt)
	done, err := f.svc.CompleteTask(ctx, task.ID, nil)
	require.NoError(t, err)
	stamps = append(stamps, done.UpdatedAt)
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].After(stamps[i-1]), "task mutation %d", i)
	}

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(done.UpdatedAt))
}

func TestWorkflowScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	w := f.workflow
	assert.Equal(t, model.WorkflowPending, w.Status)

	t1 := f.newTask(t, "T1", 5)
	t2 := f.newTask(t, "T2", 10)

	pending, err := f.svc.PendingTasks(ctx, model.PendingFilter{WorkflowID: w.ID})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []uuid.UUID{t2.ID, t1.ID}, []uuid.UUID{pending[0].ID, pending[1].ID})

	assigned, err := f.svc.AssignTask(ctx, t2.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAssigned, assigned.Status)
	a, err := f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentBusy, a.Status)

	_, err = f.svc.StartTask(ctx, t2.ID)
	require.NoError(t, err)
	done, err := f.svc.CompleteTask(ctx, t2.ID, model.Document(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, `{"ok":true}`, string(done.Output))

	a, err = f.svc.GetAgent(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, a.Status)
	assert.NotNil(t, a.LastExecution)
	b, err := f.svc.GetBranch(ctx, f.branch.ID)
	require.NoError(t, err)
	assert.NotNil(t, b.LastExecution)

	failed, err := f.svc.FailTask(ctx, t1.ID, "timeout", ledger.FailOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "timeout", *failed.ErrorMessage)

	_, err = f.svc.CompleteWorkflow(ctx, w.ID, model.Document(`{"tasks_ok":1,"tasks_failed":1}`))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	got, err := f.svc.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPending, got.Status)
}

func TestCreateTaskRejectsOutOfRangePriority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})

	_, err := f.svc.CreateTask(ctx, f.workflow.ID, "huge", "", math.MaxInt32+1, nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)

	_, err = f.svc.CreateTasks(ctx, f.workflow.ID, []ledger.TaskSpec{
		{Name: "fine", Priority: math.MaxInt32},
		{Name: "tiny", Priority: math.MinInt32 - 1},
	})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	pending, err := f.svc.PendingTasks(ctx, model.PendingFilter{})
	require.NoError(t, err)
	assert.Empty(t, pending)

	edge := f.newTask(t, "edge", math.MinInt32)
	assert.Equal(t, math.MinInt32, edge.Priority)
}

func TestCreateTasksIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})

	_, err := f.svc.CreateTasks(ctx, f.workflow.ID, []ledger.TaskSpec{
		{Name: "ok"},
		{Name: "bad", Input: model.Document(`{`)},
	})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	tasks, err := f.svc.CreateTasks(ctx, f.workflow.ID, []ledger.TaskSpec{
		{Name: "plan", Priority: 1},
		{Name: "build", Priority: 3},
		{Name: "test", Priority: 3},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	pending, err := f.svc.PendingTasks(ctx, model.PendingFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "build", pending[0].Name)
	assert.Equal(t, "test", pending[1].Name)
	assert.Equal(t, "plan", pending[2].Name)

	_, err = f.svc.CreateTasks(ctx, uuid.New(), []ledger.TaskSpec{{Name: "orphan"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.Options{})
	f.taskIn(t, model.TaskRunning)
	f.taskIn(t, model.TaskPending)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Branches[model.BranchInactive])
	assert.Equal(t, int64(0), st.Branches[model.BranchActive])
	assert.Equal(t, int64(1), st.Agents[model.AgentBusy])
	assert.Equal(t, int64(1), st.Agents[model.AgentIdle])
	assert.Equal(t, int64(1), st.Workflows[model.WorkflowPending])
	assert.Equal(t, int64(1), st.Tasks[model.TaskRunning])
	assert.Equal(t, int64(1), st.Tasks[model.TaskPending])
	assert.Equal(t, int64(0), st.Tasks[model.TaskFailed])
	require.Len(t, st.BranchDetails, 1)
	assert.Equal(t, int64(2), st.BranchDetails[0].Agents)
	assert.Zero(t, st.SuccessRate, "no workflow has finished")
	require.Len(t, st.RecentWorkflows, 1)
	assert.Equal(t, f.workflow.ID, st.RecentWorkflows[0].ID)
	assert.Equal(t, model.WorkflowPending, st.RecentWorkflows[0].Status)
}

func TestStatusWorkflowHealth(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	advance := func(d time.Duration) { now = now.Add(d) }
	f := newFixture(t, ledger.Options{Clock: func() time.Time { return now }})

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.SuccessRate)
	assert.Zero(t, st.AvgWorkflowDuration)

	_, err = f.svc.StartWorkflow(ctx, f.workflow.ID)
	require.NoError(t, err)
	advance(10 * time.Second)
	_, err = f.svc.CompleteWorkflow(ctx, f.workflow.ID, nil)
	require.NoError(t, err)

	create := func(name string) model.Workflow {
		advance(time.Second)
		w, err := f.svc.CreateWorkflow(ctx, name, "", nil)
		require.NoError(t, err)
		return w
	}
	hotfix := create("hotfix")
	_, err = f.svc.StartWorkflow(ctx, hotfix.ID)
	require.NoError(t, err)
	advance(30 * time.Second)
	_, err = f.svc.FailWorkflow(ctx, hotfix.ID, "rollback")
	require.NoError(t, err)

	never := create("never")
	_, err = f.svc.FailWorkflow(ctx, never.ID, "cancelled")
	require.NoError(t, err)

	p1 := create("p1")
	create("p2")
	create("p3")
	_, err = f.svc.StartWorkflow(ctx, p1.ID)
	require.NoError(t, err)
	advance(5 * time.Second)

	st, err = f.svc.Status(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, st.SuccessRate, 1e-9, "one completed, two failed")
	assert.Equal(t, 20*time.Second, st.AvgWorkflowDuration, "workflows that never started are excluded")

	var names []string
	durations := map[string]time.Duration{}
	for _, w := range st.RecentWorkflows {
		names = append(names, w.Name)
		durations[w.Name] = w.Duration
	}
	assert.Equal(t, []string{"p3", "p2", "p1", "never", "hotfix"}, names)
	assert.Equal(t, 30*time.Second, durations["hotfix"])
	assert.Equal(t, 5*time.Second, durations["p1"], "running workflows report time so far")
	assert.Zero(t, durations["never"])
	assert.Zero(t, durations["p3"])
}

func TestAuditRecordsAndHooks(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLite(t)
	sink, err := logs.New(db, logs.Config{}, testutil.TestLogger())
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []ledger.Transition
	got := make(chan struct{}, 16)
	hook := ledger.HookFunc(func(_ context.Context, tr ledger.Transition) error {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
		got <- struct{}{}
		return errors.New("hook failures are only logged")
	})

	svc := ledger.New(db, ledger.Options{Logs: sink, Hooks: []ledger.Hook{hook}}, testutil.TestLogger())
	b, err := svc.RegisterBranch(ctx, "audit", "department", nil)
	require.NoError(t, err)
	_, err = svc.ActivateBranch(ctx, b.ID)
	require.NoError(t, err, "a failing hook must not fail the mutation")

	_, err = svc.RegisterBranch(ctx, "audit", "department", nil)
	require.Error(t, err)

	for range 2 {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("hook not called")
		}
	}
	svc.Close(ctx)
	mu.Lock()
	require.Len(t, seen, 2, "rolled back mutations emit nothing")
	mu.Unlock()

	require.NoError(t, sink.Flush(ctx))
	records, err := sink.Tail(ctx, model.LogCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "ledger", r.Component)
		assert.Equal(t, model.LevelInfo, r.Level)
		assert.Contains(t, string(r.Metadata), b.ID.String())
	}
}
