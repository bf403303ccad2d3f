package postgres

import (
	"context"
	"math"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

func (t *tx) Counts(ctx context.Context) (storage.Counts, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT 'branch', status, COUNT(*) FROM branches GROUP BY status
		UNION ALL
		SELECT 'agent', status, COUNT(*) FROM agents GROUP BY status
		UNION ALL
		SELECT 'workflow', status, COUNT(*) FROM workflows GROUP BY status
		UNION ALL
		SELECT 'task', status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return storage.Counts{}, classify("count statuses", err)
	}
	defer rows.Close()

	c := storage.NewCounts()
	for rows.Next() {
		var (
			kind, status string
			n            int64
		)
		if err := rows.Scan(&kind, &status, &n); err != nil {
			return storage.Counts{}, classify("scan status count", err)
		}
		switch kind {
		case "branch":
			c.Branches[model.BranchStatus(status)] = n
		case "agent":
			c.Agents[model.AgentStatus(status)] = n
		case "workflow":
			c.Workflows[model.WorkflowStatus(status)] = n
		case "task":
			c.Tasks[model.TaskStatus(status)] = n
		}
	}
	return c, rows.Err()
}

func (t *tx) BranchSummaries(ctx context.Context) ([]model.BranchSummary, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT b.name, b.type, b.status, COUNT(a.id), b.last_execution
		FROM branches b LEFT JOIN agents a ON a.branch_id = b.id
		GROUP BY b.id
		ORDER BY b.name`)
	if err != nil {
		return nil, classify("branch summaries", err)
	}
	defer rows.Close()

	var out []model.BranchSummary
	for rows.Next() {
		var s model.BranchSummary
		if err := rows.Scan(&s.Name, &s.Type, &s.Status, &s.Agents, &s.LastExecution); err != nil {
			return nil, classify("scan branch summary", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) AvgWorkflowDuration(ctx context.Context) (time.Duration, error) {
	var us float64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - started_at) * 1000000), 0)::float8
		FROM workflows
		WHERE completed_at IS NOT NULL AND started_at IS NOT NULL`).Scan(&us)
	if err != nil {
		return 0, classify("average workflow duration", err)
	}
	return time.Duration(math.Round(us)) * time.Microsecond, nil
}
