package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// CreateWorkflow records a pending workflow.
func (s *Service) CreateWorkflow(ctx context.Context, name, description string, parameters model.Document) (model.Workflow, error) {
	if err := model.ValidateName("workflow", name); err != nil {
		return model.Workflow{}, wrap("create workflow", err)
	}
	if err := model.ValidateDocument("parameters", parameters); err != nil {
		return model.Workflow{}, wrap("create workflow", err)
	}
	now := s.clock()
	w := model.Workflow{
		ID:          newID(),
		Name:        name,
		Description: description,
		Status:      model.WorkflowPending,
		Parameters:  model.DocumentOrEmpty(parameters),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.mutate(ctx, "create workflow", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		if err := tx.InsertWorkflow(ctx, w); err != nil {
			return err
		}
		rec.add("workflow", w.ID, "create", "", string(w.Status), now)
		return nil
	})
	if err != nil {
		return model.Workflow{}, err
	}
	return w, nil
}

// StartWorkflow moves a pending workflow to running.
func (s *Service) StartWorkflow(ctx context.Context, id uuid.UUID) (model.Workflow, error) {
	return s.transitionWorkflow(ctx, "start workflow", id, model.WorkflowRunning, func(w *model.Workflow, now time.Time) {
		w.StartedAt = &now
	})
}

// CompleteWorkflow moves a running workflow to completed with its results.
// Tasks that are still open are left as they are.
func (s *Service) CompleteWorkflow(ctx context.Context, id uuid.UUID, results model.Document) (model.Workflow, error) {
	if err := model.ValidateDocument("results", results); err != nil {
		return model.Workflow{}, wrap("complete workflow", err)
	}
	return s.transitionWorkflow(ctx, "complete workflow", id, model.WorkflowCompleted, func(w *model.Workflow, now time.Time) {
		w.Results = results
		w.CompletedAt = &now
	})
}

// FailWorkflow moves a pending or running workflow to failed.
func (s *Service) FailWorkflow(ctx context.Context, id uuid.UUID, reason string) (model.Workflow, error) {
	return s.transitionWorkflow(ctx, "fail workflow", id, model.WorkflowFailed, func(w *model.Workflow, now time.Time) {
		w.ErrorMessage = &reason
		w.CompletedAt = &now
	})
}

func (s *Service) transitionWorkflow(ctx context.Context, op string, id uuid.UUID, target model.WorkflowStatus, apply func(*model.Workflow, time.Time)) (model.Workflow, error) {
	var out model.Workflow
	err := s.mutate(ctx, op, func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		w, err := tx.GetWorkflow(ctx, id, true)
		if err != nil {
			return err
		}
		if !w.Status.CanTransitionTo(target) {
			return transitionErr("workflow", id, string(w.Status), string(target))
		}
		from := w.Status
		now := s.clock()
		w.Status = target
		apply(&w, now)
		w.UpdatedAt = model.NextUpdate(w.UpdatedAt, now)
		if err := tx.UpdateWorkflow(ctx, w); err != nil {
			return err
		}
		rec.add("workflow", id, string(target), string(from), string(target), w.UpdatedAt)
		out = w
		return nil
	})
	return out, err
}

// DeleteWorkflow removes a workflow and all of its tasks.
func (s *Service) DeleteWorkflow(ctx context.Context, id uuid.UUID) (model.WorkflowDeletion, error) {
	var out model.WorkflowDeletion
	err := s.mutate(ctx, "delete workflow", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		w, err := tx.GetWorkflow(ctx, id, true)
		if err != nil {
			return err
		}
		out, err = tx.DeleteWorkflow(ctx, id)
		if err != nil {
			return err
		}
		rec.add("workflow", id, "delete", string(w.Status), "", s.clock())
		return nil
	})
	return out, err
}

// GetWorkflow returns a workflow by id.
func (s *Service) GetWorkflow(ctx context.Context, id uuid.UUID) (model.Workflow, error) {
	var out model.Workflow
	err := s.view(ctx, "get workflow", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.GetWorkflow(ctx, id, false)
		return err
	})
	return out, err
}

// ListWorkflows returns workflow history, newest first.
func (s *Service) ListWorkflows(ctx context.Context, f model.WorkflowFilter) ([]model.Workflow, error) {
	var out []model.Workflow
	err := s.view(ctx, "list workflows", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListWorkflows(ctx, f)
		return err
	})
	return out, err
}
