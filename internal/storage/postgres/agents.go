package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const agentColumns = `id, branch_id, name, type, status, capabilities, metrics, last_execution, created_at, updated_at`

func scanAgent(row scanner) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(&a.ID, &a.BranchID, &a.Name, &a.Type, &a.Status,
		raw(&a.Capabilities), raw(&a.Metrics), &a.LastExecution, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *tx) InsertAgent(ctx context.Context, a model.Agent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.BranchID, a.Name, a.Type, string(a.Status),
		[]byte(a.Capabilities), []byte(a.Metrics), a.LastExecution, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return classify("insert agent", err)
	}
	return nil
}

func (t *tx) GetAgent(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Agent, error) {
	a, err := scanAgent(t.tx.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`+lockClause(forUpdate), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, storage.NotFound("agent", id)
		}
		return model.Agent{}, classify("get agent", err)
	}
	return a, nil
}

func (t *tx) ListAgents(ctx context.Context, f model.AgentFilter) ([]model.Agent, error) {
	var (
		where []string
		args  []any
	)
	if f.BranchID != uuid.Nil {
		args = append(args, f.BranchID)
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list agents", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, classify("scan agent", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) UpdateAgent(ctx context.Context, a model.Agent) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE agents SET status = $2, metrics = $3, last_execution = $4, updated_at = $5 WHERE id = $1`,
		a.ID, string(a.Status), []byte(a.Metrics), a.LastExecution, a.UpdatedAt,
	)
	if err != nil {
		return classify("update agent", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("agent", a.ID)
	}
	return nil
}

// DeleteAgent locks the agent, clears its task assignments and removes it.
func (t *tx) DeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) (model.AgentDeletion, error) {
	if _, err := t.GetAgent(ctx, id, true); err != nil {
		return model.AgentDeletion{}, err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE tasks SET agent_id = NULL, `+bumpUpdatedAt+` WHERE agent_id = $1`, id, at)
	if err != nil {
		return model.AgentDeletion{}, classify("unassign agent tasks", err)
	}
	res := model.AgentDeletion{TasksUnassigned: tag.RowsAffected()}

	tag, err = t.tx.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return model.AgentDeletion{}, classify("delete agent", err)
	}
	res.Agents = tag.RowsAffected()
	return res, nil
}

func (t *tx) CountActiveTasks(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE agent_id = $1 AND status IN ('assigned', 'running')`, agentID,
	).Scan(&n)
	if err != nil {
		return 0, classify("count active tasks", err)
	}
	return n, nil
}
