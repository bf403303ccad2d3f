// Package storagetest holds the behavioral checks every storage.Store backend
// must pass. Backend packages call Run from their own tests with a function
// that returns an empty, migrated store.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Opener returns an empty store for one subtest.
type Opener func(t *testing.T) storage.Store

// Run exercises s against the storage.Store contract.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"BranchRoundTrip", testBranchRoundTrip},
		{"DuplicateBranchName", testDuplicateBranchName},
		{"MissingRows", testMissingRows},
		{"DeleteBranchUnassignsTasks", testDeleteBranch},
		{"DeleteAgentUnassignsTasks", testDeleteAgent},
		{"DeleteWorkflowRemovesTasks", testDeleteWorkflow},
		{"TaskRoundTrip", testTaskRoundTrip},
		{"PendingOrder", testPendingOrder},
		{"CountActiveTasks", testCountActiveTasks},
		{"ListFilters", testListFilters},
		{"CountsAndSummaries", testCountsAndSummaries},
		{"AvgWorkflowDuration", testAvgWorkflowDuration},
		{"RollbackOnError", testRollback},
		{"LogAppendAndTail", testLogs},
		{"LogReplaySkipsExisting", testLogReplay},
		{"MetricQuery", testMetricQuery},
		{"MetricPaging", testMetricPaging},
		{"AdminSeed", testAdminSeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

var base = storage.UTC(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

func at(offset time.Duration) time.Time { return base.Add(offset) }

func newID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func branch(t *testing.T, name string, status model.BranchStatus) model.Branch {
	return model.Branch{
		ID:        newID(t),
		Name:      name,
		Type:      "department",
		Status:    status,
		Config:    model.Document(`{"region": "eu",  "quota":3}`),
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func agent(t *testing.T, branchID uuid.UUID, name string, status model.AgentStatus) model.Agent {
	return model.Agent{
		ID:           newID(t),
		BranchID:     branchID,
		Name:         name,
		Type:         "worker",
		Status:       status,
		Capabilities: model.Document(`{"skills":["copy","review"]}`),
		Metrics:      model.Document(`{}`),
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func workflow(t *testing.T, name string, created time.Time) model.Workflow {
	return model.Workflow{
		ID:         newID(t),
		Name:       name,
		Status:     model.WorkflowPending,
		Parameters: model.Document(`{"quarter":"q2"}`),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func task(t *testing.T, wfID uuid.UUID, name string, status model.TaskStatus, agentID *uuid.UUID) model.Task {
	tk := model.Task{
		ID:         newID(t),
		WorkflowID: wfID,
		AgentID:    agentID,
		Name:       name,
		Status:     status,
		Input:      model.Document(`{}`),
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	if status.IsTerminal() {
		done := at(time.Minute)
		tk.CompletedAt = &done
		tk.UpdatedAt = done
	}
	return tk
}

func inTx(t *testing.T, s storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), fn))
}

// seed inserts a branch with two agents and a workflow, returning their ids.
func seed(t *testing.T, s storage.Store) (model.Branch, []model.Agent, model.Workflow) {
	t.Helper()
	b := branch(t, "engineering", model.BranchActive)
	agents := []model.Agent{
		agent(t, b.ID, "builder", model.AgentBusy),
		agent(t, b.ID, "tester", model.AgentBusy),
	}
	w := workflow(t, "release", base)
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertBranch(ctx, b); err != nil {
			return err
		}
		for _, a := range agents {
			if err := tx.InsertAgent(ctx, a); err != nil {
				return err
			}
		}
		return tx.InsertWorkflow(ctx, w)
	})
	return b, agents, w
}

func testBranchRoundTrip(t *testing.T, s storage.Store) {
	b := branch(t, "marketing", model.BranchInactive)
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertBranch(ctx, b) })

	var got model.Branch
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		got, err = tx.GetBranch(ctx, b.ID, false)
		return err
	})
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "marketing", got.Name)
	assert.Equal(t, model.BranchInactive, got.Status)
	assert.Equal(t, string(b.Config), string(got.Config), "documents must round-trip byte for byte")
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Nil(t, got.LastExecution)

	ran := at(time.Hour)
	got.Status = model.BranchActive
	got.LastExecution = &ran
	got.UpdatedAt = ran
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.UpdateBranch(ctx, got) })

	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		got, err = tx.GetBranch(ctx, b.ID, true)
		return err
	})
	assert.Equal(t, model.BranchActive, got.Status)
	require.NotNil(t, got.LastExecution)
	assert.True(t, ran.Equal(*got.LastExecution))
	assert.True(t, ran.Equal(got.UpdatedAt))
}

func testDuplicateBranchName(t *testing.T, s storage.Store) {
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertBranch(ctx, branch(t, "sales", model.BranchActive))
	})
	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertBranch(ctx, branch(t, "sales", model.BranchInactive))
	})
	assert.ErrorIs(t, err, model.ErrDuplicateName)

	var all []model.Branch
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		all, err = tx.ListBranches(ctx, model.BranchFilter{})
		return err
	})
	assert.Len(t, all, 1)
}

func testMissingRows(t *testing.T, s storage.Store) {
	ctx := context.Background()
	missing := newID(t)
	checks := map[string]func(ctx context.Context, tx storage.Tx) error{
		"get branch": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetBranch(ctx, missing, false)
			return err
		},
		"get agent": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetAgent(ctx, missing, true)
			return err
		},
		"get workflow": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetWorkflow(ctx, missing, false)
			return err
		},
		"get task": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetTask(ctx, missing, false)
			return err
		},
		"update branch": func(ctx context.Context, tx storage.Tx) error {
			b := branch(t, "ghost", model.BranchActive)
			b.ID = missing
			return tx.UpdateBranch(ctx, b)
		},
		"delete branch": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.DeleteBranch(ctx, missing, at(time.Hour))
			return err
		},
		"delete agent": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.DeleteAgent(ctx, missing, at(time.Hour))
			return err
		},
		"delete workflow": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.DeleteWorkflow(ctx, missing)
			return err
		},
		"agent on missing branch": func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertAgent(ctx, agent(t, missing, "orphan", model.AgentIdle))
		},
	}
	for name, fn := range checks {
		err := s.InTx(ctx, fn)
		assert.ErrorIs(t, err, model.ErrNotFound, name)
	}
}

func testDeleteBranch(t *testing.T, s storage.Store) {
	b, agents, w := seed(t, s)
	other := branch(t, "support", model.BranchActive)
	keep := agent(t, other.ID, "responder", model.AgentBusy)

	builder, tester, responder := agents[0].ID, agents[1].ID, keep.ID
	tasks := []model.Task{
		task(t, w.ID, "compile", model.TaskAssigned, &builder),
		task(t, w.ID, "test", model.TaskRunning, &tester),
		task(t, w.ID, "package", model.TaskCompleted, &builder),
		task(t, w.ID, "triage", model.TaskRunning, &responder),
		task(t, w.ID, "announce", model.TaskPending, nil),
	}
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertBranch(ctx, other); err != nil {
			return err
		}
		if err := tx.InsertAgent(ctx, keep); err != nil {
			return err
		}
		for _, tk := range tasks {
			if err := tx.InsertTask(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	})

	var res model.BranchDeletion
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		res, err = tx.DeleteBranch(ctx, b.ID, at(time.Hour))
		return err
	})
	assert.Equal(t, model.BranchDeletion{Branches: 1, Agents: 2, TasksUnassigned: 3}, res)

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetAgent(ctx, builder, false)
		assert.ErrorIs(t, err, model.ErrNotFound)

		remaining, err := tx.ListTasks(ctx, model.TaskFilter{WorkflowID: w.ID})
		require.NoError(t, err)
		require.Len(t, remaining, len(tasks))
		for _, tk := range remaining {
			switch tk.Name {
			case "triage":
				require.NotNil(t, tk.AgentID)
				assert.Equal(t, responder, *tk.AgentID)
				assert.True(t, base.Equal(tk.UpdatedAt), "tasks of other branches are untouched")
			case "announce":
				assert.Nil(t, tk.AgentID)
				assert.True(t, base.Equal(tk.UpdatedAt), "unassigned tasks are untouched")
			default:
				assert.Nil(t, tk.AgentID, tk.Name)
				assert.True(t, at(time.Hour).Equal(tk.UpdatedAt), "%s: updated_at moves to the deletion time", tk.Name)
			}
		}
		return nil
	})
}

func testDeleteAgent(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	builder := agents[0].ID
	held := task(t, w.ID, "compile", model.TaskRunning, &builder)
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertTask(ctx, held) })

	var res model.AgentDeletion
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		res, err = tx.DeleteAgent(ctx, builder, base)
		return err
	})
	assert.Equal(t, model.AgentDeletion{Agents: 1, TasksUnassigned: 1}, res)

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetTask(ctx, held.ID, false)
		require.NoError(t, err)
		assert.Nil(t, got.AgentID)
		assert.Equal(t, model.TaskRunning, got.Status, "deleting an agent leaves task status alone")
		assert.True(t, base.Add(time.Microsecond).Equal(got.UpdatedAt),
			"updated_at advances past its previous value even when the deletion time is not later")
		return nil
	})
}

func testDeleteWorkflow(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	builder := agents[0].ID
	var ids []uuid.UUID
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, st := range []model.TaskStatus{model.TaskPending, model.TaskRunning, model.TaskFailed} {
			var holder *uuid.UUID
			if st == model.TaskRunning {
				holder = &builder
			}
			tk := task(t, w.ID, string(st), st, holder)
			ids = append(ids, tk.ID)
			if err := tx.InsertTask(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	})

	var res model.WorkflowDeletion
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		res, err = tx.DeleteWorkflow(ctx, w.ID)
		return err
	})
	assert.Equal(t, model.WorkflowDeletion{Workflows: 1, Tasks: 3}, res)

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range ids {
			_, err := tx.GetTask(ctx, id, false)
			assert.ErrorIs(t, err, model.ErrNotFound)
		}
		return nil
	})
}

func testTaskRoundTrip(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	tk := task(t, w.ID, "draft copy", model.TaskPending, nil)
	tk.Description = "first pass"
	tk.Priority = 7
	tk.Input = model.Document(`{"brief": "launch",   "words":300}`)
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.InsertTask(ctx, tk) })

	started, done := at(time.Minute), at(2*time.Minute)
	reason := "tone was off"
	holder := agents[0].ID
	tk.AgentID = &holder
	tk.Status = model.TaskFailed
	tk.Output = model.Document(`{"partial":true}`)
	tk.ErrorMessage = &reason
	tk.StartedAt = &started
	tk.CompletedAt = &done
	tk.UpdatedAt = done
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error { return tx.UpdateTask(ctx, tk) })

	var got model.Task
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		got, err = tx.GetTask(ctx, tk.ID, false)
		return err
	})
	assert.Equal(t, "first pass", got.Description)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, string(tk.Input), string(got.Input))
	assert.Equal(t, `{"partial":true}`, string(got.Output))
	require.NotNil(t, got.AgentID)
	assert.Equal(t, holder, *got.AgentID)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, reason, *got.ErrorMessage)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	assert.True(t, done.Equal(*got.CompletedAt))
}

func testPendingOrder(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	other := workflow(t, "hotfix", at(time.Second))
	holder := agents[0].ID

	mk := func(id, name string, priority int, created time.Time) model.Task {
		tk := task(t, w.ID, name, model.TaskPending, nil)
		tk.ID = uuid.MustParse(id)
		tk.Priority = priority
		tk.CreatedAt, tk.UpdatedAt = created, created
		return tk
	}
	low := mk("01900000-0000-7000-8000-000000000001", "low-first", 5, base)
	high := mk("01900000-0000-7000-8000-000000000002", "high-later", 10, at(time.Second))
	highEarly := mk("01900000-0000-7000-8000-000000000003", "high-first", 10, base)
	lowTwin := mk("01900000-0000-7000-8000-000000000004", "low-twin", 5, base)
	busy := task(t, w.ID, "already assigned", model.TaskAssigned, &holder)
	busy.Priority = 100
	elsewhere := task(t, other.ID, "elsewhere", model.TaskPending, nil)

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertWorkflow(ctx, other); err != nil {
			return err
		}
		for _, tk := range []model.Task{lowTwin, high, busy, low, highEarly, elsewhere} {
			if err := tx.InsertTask(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	})

	names := func(tasks []model.Task) []string {
		out := make([]string, len(tasks))
		for i, tk := range tasks {
			out[i] = tk.Name
		}
		return out
	}
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.PendingTasks(ctx, model.PendingFilter{WorkflowID: w.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"high-first", "high-later", "low-first", "low-twin"}, names(got))

		got, err = tx.PendingTasks(ctx, model.PendingFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"high-first", "high-later"}, names(got))

		got, err = tx.PendingTasks(ctx, model.PendingFilter{})
		require.NoError(t, err)
		assert.Len(t, got, 5)
		return nil
	})
}

func testCountActiveTasks(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	builder := agents[0].ID
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, st := range []model.TaskStatus{model.TaskAssigned, model.TaskRunning, model.TaskCompleted, model.TaskFailed} {
			if err := tx.InsertTask(ctx, task(t, w.ID, string(st), st, &builder)); err != nil {
				return err
			}
		}
		n, err := tx.CountActiveTasks(ctx, builder)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = tx.CountActiveTasks(ctx, agents[1].ID)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
}

func testListFilters(t *testing.T, s storage.Store) {
	b, agents, w := seed(t, s)
	idle := agents[1]
	idle.Status = model.AgentIdle
	idle.UpdatedAt = at(time.Second)
	older := workflow(t, "older", base.Add(-time.Hour))
	newer := workflow(t, "newer", at(time.Hour))
	newer.Status = model.WorkflowRunning
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.UpdateAgent(ctx, idle); err != nil {
			return err
		}
		if err := tx.InsertWorkflow(ctx, older); err != nil {
			return err
		}
		return tx.InsertWorkflow(ctx, newer)
	})

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.ListAgents(ctx, model.AgentFilter{BranchID: b.ID, Status: model.AgentIdle})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "tester", got[0].Name)

		got, err = tx.ListAgents(ctx, model.AgentFilter{BranchID: b.ID})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		branches, err := tx.ListBranches(ctx, model.BranchFilter{Status: model.BranchInactive})
		require.NoError(t, err)
		assert.Empty(t, branches)

		wfs, err := tx.ListWorkflows(ctx, model.WorkflowFilter{})
		require.NoError(t, err)
		require.Len(t, wfs, 3)
		assert.Equal(t, []string{"newer", w.Name, "older"}, []string{wfs[0].Name, wfs[1].Name, wfs[2].Name})

		wfs, err = tx.ListWorkflows(ctx, model.WorkflowFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, wfs, 1)
		assert.Equal(t, w.Name, wfs[0].Name)

		wfs, err = tx.ListWorkflows(ctx, model.WorkflowFilter{Status: model.WorkflowRunning})
		require.NoError(t, err)
		require.Len(t, wfs, 1)
		assert.Equal(t, "newer", wfs[0].Name)
		return nil
	})
}

func testCountsAndSummaries(t *testing.T, s storage.Store) {
	_, agents, w := seed(t, s)
	quiet := branch(t, "archive", model.BranchInactive)
	builder := agents[0].ID
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertBranch(ctx, quiet); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task(t, w.ID, "a", model.TaskRunning, &builder)); err != nil {
			return err
		}
		return tx.InsertTask(ctx, task(t, w.ID, "b", model.TaskPending, nil))
	})

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		c, err := tx.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[model.BranchStatus]int64{model.BranchActive: 1, model.BranchInactive: 1}, c.Branches)
		assert.Equal(t, map[model.AgentStatus]int64{model.AgentIdle: 0, model.AgentBusy: 2, model.AgentError: 0}, c.Agents)
		assert.Equal(t, int64(1), c.Workflows[model.WorkflowPending])
		assert.Equal(t, int64(0), c.Workflows[model.WorkflowCompleted])
		assert.Equal(t, int64(1), c.Tasks[model.TaskRunning])
		assert.Equal(t, int64(1), c.Tasks[model.TaskPending])
		assert.Len(t, c.Tasks, len(model.AllTaskStatuses()))

		sums, err := tx.BranchSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, sums, 2)
		assert.Equal(t, "archive", sums[0].Name)
		assert.Zero(t, sums[0].Agents)
		assert.Equal(t, "engineering", sums[1].Name)
		assert.Equal(t, int64(2), sums[1].Agents)
		assert.Equal(t, model.BranchActive, sums[1].Status)
		return nil
	})
}

func testAvgWorkflowDuration(t *testing.T, s storage.Store) {
	var avg time.Duration
	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		avg, err = tx.AvgWorkflowDuration(ctx)
		return err
	})
	assert.Zero(t, avg)

	finished := func(name string, status model.WorkflowStatus, started *time.Time, took time.Duration) model.Workflow {
		w := workflow(t, name, base)
		w.Status = status
		w.StartedAt = started
		done := at(time.Hour + took)
		w.CompletedAt = &done
		w.UpdatedAt = done
		return w
	}
	start := at(time.Hour)
	running := workflow(t, "running", base)
	running.Status = model.WorkflowRunning
	running.StartedAt = &start
	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, w := range []model.Workflow{
			finished("fast", model.WorkflowCompleted, &start, 1500*time.Millisecond),
			finished("slow", model.WorkflowFailed, &start, 4500*time.Millisecond),
			finished("cancelled", model.WorkflowFailed, nil, time.Minute),
			running,
		} {
			if err := tx.InsertWorkflow(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, s, func(ctx context.Context, tx storage.Tx) (err error) {
		avg, err = tx.AvgWorkflowDuration(ctx)
		return err
	})
	assert.Equal(t, 3*time.Second, avg, "only started, finished workflows count")
}

func testRollback(t *testing.T, s storage.Store) {
	boom := errors.New("boom")
	b := branch(t, "doomed", model.BranchActive)
	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertBranch(ctx, b); err != nil {
			return err
		}
		if err := tx.InsertAgent(ctx, agent(t, b.ID, "doomed-agent", model.AgentIdle)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, s, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetBranch(ctx, b.ID, false)
		assert.ErrorIs(t, err, model.ErrNotFound)
		agents, err := tx.ListAgents(ctx, model.AgentFilter{})
		require.NoError(t, err)
		assert.Empty(t, agents)
		return nil
	})
}

func logRecord(t *testing.T, id string, ts time.Time, msg string) model.LogRecord {
	return model.LogRecord{
		ID:        uuid.MustParse(id),
		Timestamp: ts,
		Level:     model.LevelInfo,
		Component: "storagetest",
		Message:   msg,
		Metadata:  model.Document(`{"n": 1,  "tag":"x"}`),
	}
}

func testLogs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	records := []model.LogRecord{
		logRecord(t, "01900000-0000-7000-8000-0000000000b2", at(time.Second), "second"),
		logRecord(t, "01900000-0000-7000-8000-0000000000a1", base, "first"),
		logRecord(t, "01900000-0000-7000-8000-0000000000a2", base, "first twin"),
	}
	n, err := s.AppendLogs(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := s.TailLogs(ctx, model.LogCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "first twin", got[1].Message)
	assert.Equal(t, "second", got[2].Message)
	assert.Equal(t, `{"n": 1,  "tag":"x"}`, string(got[0].Metadata))
	assert.True(t, base.Equal(got[0].Timestamp))

	page, err := s.TailLogs(ctx, model.CursorOf(got[0]), 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "first twin", page[0].Message)

	rest, err := s.TailLogs(ctx, model.CursorOf(got[2]), 10)
	require.NoError(t, err)
	assert.Empty(t, rest)

	n, err = s.AppendLogs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testLogReplay(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := logRecord(t, "01900000-0000-7000-8000-0000000000c1", base, "kept")
	_, err := s.AppendLogs(ctx, []model.LogRecord{first})
	require.NoError(t, err)

	dup := first
	dup.Message = "replayed copy"
	fresh := logRecord(t, "01900000-0000-7000-8000-0000000000c2", at(time.Second), "fresh")
	n, err := s.ReplayLogs(ctx, []model.LogRecord{dup, fresh})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.TailLogs(ctx, model.LogCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "kept", got[0].Message)
	assert.Equal(t, "fresh", got[1].Message)

	_, err = s.AppendLogs(ctx, []model.LogRecord{first})
	assert.ErrorIs(t, err, model.ErrDuplicateName, "append rejects an id that already exists")
}

// tenMetrics writes one metric per minute, alternating the "parity" tag.
func tenMetrics(t *testing.T, s storage.Store) []model.Metric {
	t.Helper()
	var out []model.Metric
	for i := range 10 {
		parity := "even"
		if i%2 == 1 {
			parity = "odd"
		}
		name := "kiroku.task.duration"
		if i >= 8 {
			name = "kiroku.queue.depth"
		}
		out = append(out, model.Metric{
			ID:        newID(t),
			Name:      name,
			Value:     float64(i),
			Unit:      "s",
			Tags:      map[string]string{"parity": parity, "seq": string(rune('a' + i))},
			Timestamp: at(time.Duration(i) * time.Minute),
		})
	}
	n, err := s.AppendMetrics(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
	return out
}

func values(ms []model.Metric) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.Value
	}
	return out
}

func testMetricQuery(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tenMetrics(t, s)

	all, err := s.QueryMetrics(ctx, model.MetricQuery{}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, values(all))
	assert.Equal(t, map[string]string{"parity": "odd", "seq": "j"}, all[0].Tags)
	assert.Equal(t, "s", all[0].Unit)

	even, err := s.QueryMetrics(ctx, model.MetricQuery{Tags: map[string]string{"parity": "even"}}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 6, 4, 2, 0}, values(even))

	both, err := s.QueryMetrics(ctx, model.MetricQuery{Tags: map[string]string{"parity": "even", "seq": "c"}}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values(both))

	durations, err := s.QueryMetrics(ctx, model.MetricQuery{NamePrefix: "kiroku.task."}, nil, 100)
	require.NoError(t, err)
	assert.Len(t, durations, 8)

	from, to := at(2*time.Minute), at(5*time.Minute)
	window, err := s.QueryMetrics(ctx, model.MetricQuery{Range: model.TimeRange{From: &from, To: &to}}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 3, 2}, values(window), "from is inclusive, to is exclusive")

	none, err := s.QueryMetrics(ctx, model.MetricQuery{Tags: map[string]string{"parity": "prime"}}, nil, 100)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMetricPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	written := tenMetrics(t, s)

	var (
		seen  []float64
		after *model.MetricCursor
	)
	for range 5 {
		page, err := s.QueryMetrics(ctx, model.MetricQuery{}, after, 4)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 4)
		seen = append(seen, values(page)...)
		last := page[len(page)-1]
		after = &model.MetricCursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	assert.Equal(t, []float64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, seen)

	n, err := s.ReplayMetrics(ctx, written[:3])
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testAdminSeed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	id := model.AdminIdentity{
		ID:             newID(t),
		Username:       "admin",
		CredentialHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		MustRotate:     true,
		CreatedAt:      base,
	}
	inserted, err := s.SeedAdmin(ctx, id)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := id
	again.ID = newID(t)
	again.CredentialHash = "other"
	inserted, err = s.SeedAdmin(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted, "seeding is idempotent per username")

	got, err := s.GetAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)
	assert.Equal(t, id.CredentialHash, got.CredentialHash)
	assert.True(t, got.MustRotate)

	_, err = s.GetAdmin(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
