package sqlite

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

func (t *tx) Counts(ctx context.Context) (storage.Counts, error) {
	rows, err := t.tx.QueryContext(ctx, `
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
	defer func() { _ = rows.Close() }()

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
	rows, err := t.tx.QueryContext(ctx, `
		SELECT b.name, b.type, b.status, COUNT(a.id), b.last_execution
		FROM branches b LEFT JOIN agents a ON a.branch_id = b.id
		GROUP BY b.id
		ORDER BY b.name`)
	if err != nil {
		return nil, classify("branch summaries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.BranchSummary
	for rows.Next() {
		var (
			s        model.BranchSummary
			lastExec sql.NullInt64
		)
		if err := rows.Scan(&s.Name, &s.Type, &s.Status, &s.Agents, &lastExec); err != nil {
			return nil, classify("scan branch summary", err)
		}
		s.LastExecution = timePtr(lastExec)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) AvgWorkflowDuration(ctx context.Context) (time.Duration, error) {
	var us float64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(completed_at - started_at), 0.0)
		FROM workflows
		WHERE completed_at IS NOT NULL AND started_at IS NOT NULL`).Scan(&us)
	if err != nil {
		return 0, classify("average workflow duration", err)
	}
	return time.Duration(math.Round(us)) * time.Microsecond, nil
}
