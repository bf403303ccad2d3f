package ledger

import (
	"context"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Status summarizes the ledger.
func (s *Service) Status(ctx context.Context) (model.SystemStatus, error) {
	var out model.SystemStatus
	err := s.view(ctx, "status", func(ctx context.Context, tx storage.Tx) error {
		counts, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		branches, err := tx.BranchSummaries(ctx)
		if err != nil {
			return err
		}
		avg, err := tx.AvgWorkflowDuration(ctx)
		if err != nil {
			return err
		}
		recent, err := tx.ListWorkflows(ctx, model.WorkflowFilter{Limit: recentWorkflows})
		if err != nil {
			return err
		}
		now := s.clock()
		out = model.SystemStatus{
			Uptime:              s.now().Sub(s.startedAt),
			Branches:            counts.Branches,
			Agents:              counts.Agents,
			Workflows:           counts.Workflows,
			Tasks:               counts.Tasks,
			BranchDetails:       branches,
			SuccessRate:         successRate(counts.Workflows),
			AvgWorkflowDuration: avg,
			RecentWorkflows:     make([]model.WorkflowSummary, 0, len(recent)),
		}
		for _, w := range recent {
			out.RecentWorkflows = append(out.RecentWorkflows, summarize(w, now))
		}
		return nil
	})
	return out, err
}

const recentWorkflows = 5

func successRate(workflows map[model.WorkflowStatus]int64) float64 {
	done, failed := workflows[model.WorkflowCompleted], workflows[model.WorkflowFailed]
	if done+failed == 0 {
		return 0
	}
	return float64(done) / float64(done+failed)
}

func summarize(w model.Workflow, now time.Time) model.WorkflowSummary {
	out := model.WorkflowSummary{ID: w.ID, Name: w.Name, Status: w.Status}
	if w.StartedAt == nil {
		return out
	}
	end := now
	if w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	out.Duration = end.Sub(*w.StartedAt)
	return out
}
