package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const agentColumns = `id, branch_id, name, type, status, capabilities, metrics, last_execution, created_at, updated_at`

func scanAgent(row scanner) (model.Agent, error) {
	var (
		a                     model.Agent
		capabilities, metrics string
		lastExec              sql.NullInt64
		created, updated      int64
	)
	if err := row.Scan(&a.ID, &a.BranchID, &a.Name, &a.Type, &a.Status,
		&capabilities, &metrics, &lastExec, &created, &updated); err != nil {
		return model.Agent{}, err
	}
	a.Capabilities = model.Document(capabilities)
	a.Metrics = model.Document(metrics)
	a.LastExecution = timePtr(lastExec)
	a.CreatedAt, a.UpdatedAt = fromMicros(created), fromMicros(updated)
	return a, nil
}

func (t *tx) InsertAgent(ctx context.Context, a model.Agent) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.BranchID.String(), a.Name, a.Type, string(a.Status),
		string(a.Capabilities), string(a.Metrics), nullMicros(a.LastExecution),
		micros(a.CreatedAt), micros(a.UpdatedAt),
	)
	if err != nil {
		return classify("insert agent", err)
	}
	return nil
}

func (t *tx) GetAgent(ctx context.Context, id uuid.UUID, _ bool) (model.Agent, error) {
	a, err := scanAgent(t.tx.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "branch_id = ?")
		args = append(args, f.BranchID.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list agents", err)
	}
	defer func() { _ = rows.Close() }()

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
	res, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET status = ?, metrics = ?, last_execution = ?, updated_at = ? WHERE id = ?`,
		string(a.Status), string(a.Metrics), nullMicros(a.LastExecution), micros(a.UpdatedAt), a.ID.String(),
	)
	if err != nil {
		return classify("update agent", err)
	}
	return requireRow(res, "agent", a.ID)
}

func (t *tx) DeleteAgent(ctx context.Context, id uuid.UUID, at time.Time) (model.AgentDeletion, error) {
	if _, err := t.GetAgent(ctx, id, true); err != nil {
		return model.AgentDeletion{}, err
	}
	r, err := t.tx.ExecContext(ctx, `UPDATE tasks SET agent_id = NULL, `+bumpUpdatedAt+` WHERE agent_id = ?`, micros(at), id.String())
	if err != nil {
		return model.AgentDeletion{}, classify("unassign agent tasks", err)
	}
	var res model.AgentDeletion
	if res.TasksUnassigned, err = r.RowsAffected(); err != nil {
		return model.AgentDeletion{}, classify("unassign agent tasks", err)
	}
	r, err = t.tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id.String())
	if err != nil {
		return model.AgentDeletion{}, classify("delete agent", err)
	}
	if res.Agents, err = r.RowsAffected(); err != nil {
		return model.AgentDeletion{}, classify("delete agent", err)
	}
	return res, nil
}

func (t *tx) CountActiveTasks(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE agent_id = ? AND status IN ('assigned', 'running')`, agentID.String(),
	).Scan(&n)
	if err != nil {
		return 0, classify("count active tasks", err)
	}
	return n, nil
}
