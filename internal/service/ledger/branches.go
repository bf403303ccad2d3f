package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// RegisterBranch creates an inactive branch. Names are unique and
// case-sensitive.
func (s *Service) RegisterBranch(ctx context.Context, name, branchType string, config model.Document) (model.Branch, error) {
	if err := model.ValidateName("branch", name); err != nil {
		return model.Branch{}, wrap("register branch", err)
	}
	if err := model.ValidateDocument("config", config); err != nil {
		return model.Branch{}, wrap("register branch", err)
	}
	now := s.clock()
	b := model.Branch{
		ID:        newID(),
		Name:      name,
		Type:      branchType,
		Status:    model.BranchInactive,
		Config:    model.DocumentOrEmpty(config),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.mutate(ctx, "register branch", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		if err := tx.InsertBranch(ctx, b); err != nil {
			return err
		}
		rec.add("branch", b.ID, "register", "", string(b.Status), now)
		return nil
	})
	if err != nil {
		return model.Branch{}, err
	}
	return b, nil
}

// ActivateBranch moves a branch to active. It is a no-op for an active branch.
func (s *Service) ActivateBranch(ctx context.Context, id uuid.UUID) (model.Branch, error) {
	return s.setBranchStatus(ctx, "activate branch", id, model.BranchActive)
}

// DeactivateBranch moves a branch to inactive. It is a no-op for an inactive branch.
func (s *Service) DeactivateBranch(ctx context.Context, id uuid.UUID) (model.Branch, error) {
	return s.setBranchStatus(ctx, "deactivate branch", id, model.BranchInactive)
}

func (s *Service) setBranchStatus(ctx context.Context, op string, id uuid.UUID, target model.BranchStatus) (model.Branch, error) {
	var out model.Branch
	err := s.mutate(ctx, op, func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		b, err := tx.GetBranch(ctx, id, true)
		if err != nil {
			return err
		}
		if b.Status == target {
			out = b
			return nil
		}
		if !b.Status.CanTransitionTo(target) {
			return transitionErr("branch", id, string(b.Status), string(target))
		}
		from := b.Status
		now := s.clock()
		b.Status = target
		b.UpdatedAt = model.NextUpdate(b.UpdatedAt, now)
		if err := tx.UpdateBranch(ctx, b); err != nil {
			return err
		}
		rec.add("branch", id, string(target), string(from), string(target), b.UpdatedAt)
		out = b
		return nil
	})
	return out, err
}

// DeleteBranch removes a branch and its agents. Tasks held by those agents
// keep their status and become unassigned.
func (s *Service) DeleteBranch(ctx context.Context, id uuid.UUID) (model.BranchDeletion, error) {
	var out model.BranchDeletion
	err := s.mutate(ctx, "delete branch", func(ctx context.Context, tx storage.Tx, rec *recorder) error {
		b, err := tx.GetBranch(ctx, id, false)
		if err != nil {
			return err
		}
		now := s.clock()
		out, err = tx.DeleteBranch(ctx, id, now)
		if err != nil {
			return err
		}
		rec.add("branch", id, "delete", string(b.Status), "", now)
		return nil
	})
	return out, err
}

// GetBranch returns a branch by id.
func (s *Service) GetBranch(ctx context.Context, id uuid.UUID) (model.Branch, error) {
	var out model.Branch
	err := s.view(ctx, "get branch", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.GetBranch(ctx, id, false)
		return err
	})
	return out, err
}

// ListBranches returns branches matching f, ordered by name.
func (s *Service) ListBranches(ctx context.Context, f model.BranchFilter) ([]model.Branch, error) {
	var out []model.Branch
	err := s.view(ctx, "list branches", func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListBranches(ctx, f)
		return err
	})
	return out, err
}
