package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// ProvisionAgent creates an idle agent under a live branch.
func (s *Service) ProvisionAgent(ctx context.Context, branchID uuid.UUID, name, agentType string, capabilities model.Document) (model.Agent, error) {
	if err := model.ValidateName("agent", name); err != nil {
		return model.Agent{}, wrap("provision agent", err)
	}
	if err := model.ValidateDocument("capabilities", capabilities); err != nil {
		return model.Agent{}, wrap("provision agent", err)
	}
	now := s.clock()
	a := model.Agent{
		ID:           newID(),
		BranchID:     branchID,
		Name:         name,
		Type:         agentType,
		Status:       model.AgentIdle,
		Capabilities: model.DocumentOrEmpty(capabilities),
		Metrics:      model.EmptyDocument,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.mutate(ctx, "provision agent", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		if _, err := tx.GetBranch(ctx, branchID, false); err != nil {
			return err
		}
		if err := tx.InsertAgent(ctx, a); err != nil {
			return err
		}
		rec.add("agent", a.ID, "provision", "", string(a.Status), now)
		return nil
	})
	if err != nil {
		return model.Agent{}, err
	}
	return a, nil
}

// RecordAgentMetrics merges the top-level keys of metrics into the agent's
// stored metrics and refreshes its last execution time.
func (s *Service) RecordAgentMetrics(ctx context.Context, id uuid.UUID, metrics model.Document) (model.Agent, error) {
	if err := model.ValidateDocument("metrics", metrics); err != nil {
		return model.Agent{}, wrap("record agent metrics", err)
	}
	var out model.Agent
	err := s.mutate(ctx, "record agent metrics", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		a, err := tx.GetAgent(ctx, id, true)
		if err != nil {
			return err
		}
		merged, err := model.MergeDocument(a.Metrics, metrics)
		if err != nil {
			return err
		}
		now := s.clock()
		a.Metrics = merged
		a.LastExecution = &now
		a.UpdatedAt = model.NextUpdate(a.UpdatedAt, now)
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
		rec.add("agent", id, "record_metrics", string(a.Status), string(a.Status), a.UpdatedAt)
		out = a
		return nil
	})
	return out, err
}

// RecoverAgent returns an agent in the error state to idle. An agent that
// still holds active tasks cannot be recovered.
func (s *Service) RecoverAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	var out model.Agent
	err := s.mutate(ctx, "recover agent", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		a, err := tx.GetAgent(ctx, id, true)
		if err != nil {
			return err
		}
		if a.Status != model.AgentError {
			return stateErr("agent", id, string(a.Status), string(model.AgentIdle))
		}
		active, err := tx.CountActiveTasks(ctx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("agent %s holds %d active tasks: %w", id, active, model.ErrInvalidState)
		}
		a.Status = model.AgentIdle
		a.UpdatedAt = model.NextUpdate(a.UpdatedAt, s.clock())
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
		rec.add("agent", id, "recover", string(model.AgentError), string(model.AgentIdle), a.UpdatedAt)
		out = a
		return nil
	})
	return out, err
}

// DeleteAgent removes an agent. Its tasks keep their status and become
// unassigned.
func (s *Service) DeleteAgent(ctx context.Context, id uuid.UUID) (model.AgentDeletion, error) {
	var out model.AgentDeletion
	err := s.mutate(ctx, "delete agent", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		a, err := tx.GetAgent(ctx, id, true)
		if err != nil {
			return err
		}
		now := s.clock()
		out, err = tx.DeleteAgent(ctx, id, now)
		if err != nil {
			return err
		}
		rec.add("agent", id, "delete", string(a.Status), "", now)
		return nil
	})
	return out, err
}

// GetAgent returns an agent by id.
func (s *Service) GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	var out model.Agent
	err := s.view(ctx, "get agent", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.GetAgent(ctx, id, false)
		return err
	})
	return out, err
}

// ListAgents returns agents matching f in creation order.
func (s *Service) ListAgents(ctx context.Context, f model.AgentFilter) ([]model.Agent, error) {
	var out []model.Agent
	err := s.view(ctx, "list agents", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListAgents(ctx, f)
		return err
	})
	return out, err
}

// admit checks that a can take one more task and returns its status after
// the assignment.
func (s *Service) admit(ctx context.Context, tx storage.Tx, a model.Agent) (model.AgentStatus, error) {
	switch a.Status {
	case model.AgentIdle:
		return model.AgentBusy, nil
	case model.AgentBusy:
		if s.maxActive > 1 {
			active, err := tx.CountActiveTasks(ctx, a.ID)
			if err != nil {
				return "", err
			}
			if active < s.maxActive {
				return model.AgentBusy, nil
			}
		}
	}
	return "", fmt.Errorf("agent %s is %s: %w", a.ID, a.Status, model.ErrAgentUnavailable)
}

// release updates the agent that held a task which just reached a terminal
// status. target is the status the agent moves to once it holds no other
// active task; model.AgentError applies immediately. With refresh set the
// agent's and its branch's last execution move to now.
func (s *Service) release(ctx context.Context, tx storage.Tx, rec *recorder, agentID uuid.UUID, target model.AgentStatus, now time.Time, refresh bool) error {
	a, err := tx.GetAgent(ctx, agentID, true)
	if err != nil {
		return err
	}
	from := a.Status
	switch {
	case target == model.AgentError && a.Status.CanTransitionTo(model.AgentError):
		a.Status = model.AgentError
	case target == model.AgentIdle && a.Status == model.AgentBusy:
		active, err := tx.CountActiveTasks(ctx, agentID)
		if err != nil {
			return err
		}
		if active == 0 {
			a.Status = model.AgentIdle
		}
	}
	if refresh {
		a.LastExecution = &now
	}
	if a.Status == from && !refresh {
		return nil
	}
	a.UpdatedAt = model.NextUpdate(a.UpdatedAt, now)
	if err := tx.UpdateAgent(ctx, a); err != nil {
		return err
	}
	if a.Status != from {
		rec.add("agent", agentID, "release", string(from), string(a.Status), a.UpdatedAt)
	}
	if !refresh {
		return nil
	}
	b, err := tx.GetBranch(ctx, a.BranchID, true)
	if err != nil {
		return err
	}
	b.LastExecution = &now
	b.UpdatedAt = model.NextUpdate(b.UpdatedAt, now)
	return tx.UpdateBranch(ctx, b)
}
