package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// TaskSpec describes one task to create.
type TaskSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Priority    int            `json:"priority" yaml:"priority"`
	Input       model.Document `json:"input,omitempty" yaml:"-"`
}

// FailOptions controls FailTask.
type FailOptions struct {
	// AgentStatus is what the assigned agent becomes: model.AgentIdle (the
	// default) or model.AgentError. Idle takes effect only once the agent
	// holds no other active task.
	AgentStatus model.AgentStatus
}

// CreateTask records a pending, unassigned task under a live, non-terminal
// workflow.
func (s *Service) CreateTask(ctx context.Context, workflowID uuid.UUID, name, description string, priority int, input model.Document) (model.Task, error) {
	tasks, err := s.createTasks(ctx, "create task", workflowID, []TaskSpec{{
		Name: name, Description: description, Priority: priority, Input: input,
	}})
	if err != nil {
		return model.Task{}, err
	}
	return tasks[0], nil
}

// CreateTasks decomposes a workflow into tasks in one transaction. Either all
// tasks are created or none are.
func (s *Service) CreateTasks(ctx context.Context, workflowID uuid.UUID, specs []TaskSpec) ([]model.Task, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	return s.createTasks(ctx, "create tasks", workflowID, specs)
}

func (s *Service) createTasks(ctx context.Context, op string, workflowID uuid.UUID, specs []TaskSpec) ([]model.Task, error) {
	now := s.clock()
	tasks := make([]model.Task, len(specs))
	for i, spec := range specs {
		if err := model.ValidateName("task", spec.Name); err != nil {
			return nil, wrap(op, err)
		}
		if err := model.ValidateDocument("input", spec.Input); err != nil {
			return nil, wrap(op, err)
		}
		if err := model.ValidatePriority(spec.Priority); err != nil {
			return nil, wrap(op, err)
		}
		tasks[i] = model.Task{
			ID:          newID(),
			WorkflowID:  workflowID,
			Name:        spec.Name,
			Description: spec.Description,
			Status:      model.TaskPending,
			Priority:    spec.Priority,
			Input:       model.DocumentOrEmpty(spec.Input),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	err := s.mutate(ctx, op, func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		w, err := tx.GetWorkflow(ctx, workflowID, true)
		if err != nil {
			return err
		}
		if w.Status.IsTerminal() {
			return stateErr("workflow", workflowID, string(w.Status), "create task")
		}
		for _, t := range tasks {
			if err := tx.InsertTask(ctx, t); err != nil {
				return err
			}
			rec.add("task", t.ID, "create", "", string(t.Status), now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// AssignTask hands a pending task to an agent that can take it. It fails with
// model.ErrInvalidState unless the task is pending and with
// model.ErrAgentUnavailable unless the agent is live and has capacity.
func (s *Service) AssignTask(ctx context.Context, taskID, agentID uuid.UUID) (model.Task, error) {
	var out model.Task
	err := s.mutate(ctx, "assign task", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		t, err := tx.GetTask(ctx, taskID, true)
		if err != nil {
			return err
		}
		if t.Status != model.TaskPending {
			return stateErr("task", taskID, string(t.Status), string(model.TaskAssigned))
		}
		a, err := tx.GetAgent(ctx, agentID, true)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: %w", model.ErrAgentUnavailable, err)
			}
			return err
		}
		next, err := s.admit(ctx, tx, a)
		if err != nil {
			return err
		}

		now := s.clock()
		t.AgentID = &agentID
		t.Status = model.TaskAssigned
		t.UpdatedAt = model.NextUpdate(t.UpdatedAt, now)
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		rec.add("task", taskID, "assign", string(model.TaskPending), string(model.TaskAssigned), t.UpdatedAt)

		if next != a.Status {
			from := a.Status
			a.Status = next
			a.UpdatedAt = model.NextUpdate(a.UpdatedAt, now)
			if err := tx.UpdateAgent(ctx, a); err != nil {
				return err
			}
			rec.add("agent", agentID, "assign", string(from), string(next), a.UpdatedAt)
		}
		out = t
		return nil
	})
	return out, err
}

// StartTask moves an assigned task to running.
func (s *Service) StartTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	var out model.Task
	err := s.mutate(ctx, "start task", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		t, err := tx.GetTask(ctx, id, true)
		if err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(model.TaskRunning) {
			return transitionErr("task", id, string(t.Status), string(model.TaskRunning))
		}
		now := s.clock()
		t.Status = model.TaskRunning
		t.StartedAt = &now
		t.UpdatedAt = model.NextUpdate(t.UpdatedAt, now)
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		rec.add("task", id, "start", string(model.TaskAssigned), string(model.TaskRunning), t.UpdatedAt)
		out = t
		return nil
	})
	return out, err
}

// CompleteTask moves a running task to completed. The assigned agent, if any,
// is released and its last execution refreshed along with its branch's.
func (s *Service) CompleteTask(ctx context.Context, id uuid.UUID, output model.Document) (model.Task, error) {
	if err := model.ValidateDocument("output", output); err != nil {
		return model.Task{}, wrap("complete task", err)
	}
	var out model.Task
	err := s.mutate(ctx, "complete task", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		t, err := tx.GetTask(ctx, id, true)
		if err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(model.TaskCompleted) {
			return transitionErr("task", id, string(t.Status), string(model.TaskCompleted))
		}
		now := s.clock()
		from := t.Status
		t.Status = model.TaskCompleted
		t.Output = output
		t.CompletedAt = &now
		t.UpdatedAt = model.NextUpdate(t.UpdatedAt, now)
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		rec.add("task", id, "complete", string(from), string(t.Status), t.UpdatedAt)
		rec.outcome(t)
		if t.AgentID != nil {
			if err := s.release(ctx, tx, rec, *t.AgentID, model.AgentIdle, now, true); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

// FailTask moves any non-terminal task to failed. Failing a pending or
// assigned task cancels it.
func (s *Service) FailTask(ctx context.Context, id uuid.UUID, message string, opts FailOptions) (model.Task, error) {
	target := opts.AgentStatus
	if target == "" {
		target = model.AgentIdle
	}
	if target != model.AgentIdle && target != model.AgentError {
		return model.Task{}, wrap("fail task", fmt.Errorf("%w: agent status must be idle or error, got %q", model.ErrInvalidArgument, target))
	}
	var out model.Task
	err := s.mutate(ctx, "fail task", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		t, err := tx.GetTask(ctx, id, true)
		if err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(model.TaskFailed) {
			return transitionErr("task", id, string(t.Status), string(model.TaskFailed))
		}
		now := s.clock()
		from := t.Status
		t.Status = model.TaskFailed
		t.ErrorMessage = &message
		t.CompletedAt = &now
		t.UpdatedAt = model.NextUpdate(t.UpdatedAt, now)
		if err := tx.UpdateTask(ctx, t); err != nil {
			return err
		}
		rec.add("task", id, "fail", string(from), string(t.Status), t.UpdatedAt)
		rec.outcome(t)
		if t.AgentID != nil && from.IsActive() {
			if err := s.release(ctx, tx, rec, *t.AgentID, target, now, false); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

// PendingTasks returns unassigned pending tasks by priority descending, then
// creation order.
func (s *Service) PendingTasks(ctx context.Context, f model.PendingFilter) ([]model.Task, error) {
	var out []model.Task
	err := s.view(ctx, "pending tasks", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.PendingTasks(ctx, f)
		return err
	})
	return out, err
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	var out model.Task
	err := s.view(ctx, "get task", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.GetTask(ctx, id, false)
		return err
	})
	return out, err
}

// ListTasks returns tasks matching f in creation order.
func (s *Service) ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	var out []model.Task
	err := s.view(ctx, "list tasks", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListTasks(ctx, f)
		return err
	})
	return out, err
}
