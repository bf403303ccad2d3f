package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const taskColumns = `id, workflow_id, agent_id, name, description, status, priority, input, output,
	error_message, started_at, completed_at, created_at, updated_at`

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.WorkflowID, &t.AgentID, &t.Name, &t.Description, &t.Status, &t.Priority,
		raw(&t.Input), raw(&t.Output), &t.ErrorMessage, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func collectTasks(rows pgx.Rows) ([]model.Task, error) {
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classify("scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan task", err)
	}
	return out, nil
}

func (t *tx) InsertTask(ctx context.Context, task model.Task) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		task.ID, task.WorkflowID, task.AgentID, task.Name, task.Description, string(task.Status), task.Priority,
		[]byte(task.Input), nullableDoc(task.Output), task.ErrorMessage, task.StartedAt, task.CompletedAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return classify("insert task", err)
	}
	return nil
}

func (t *tx) GetTask(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Task, error) {
	task, err := scanTask(t.tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`+lockClause(forUpdate), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Task{}, storage.NotFound("task", id)
		}
		return model.Task{}, classify("get task", err)
	}
	return task, nil
}

func (t *tx) ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkflowID != uuid.Nil {
		args = append(args, f.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if f.AgentID != uuid.Nil {
		args = append(args, f.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, storage.Limit(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	return collectTasks(rows)
}

func (t *tx) PendingTasks(ctx context.Context, f model.PendingFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'`
	args := []any{}
	if f.WorkflowID != uuid.Nil {
		args = append(args, f.WorkflowID)
		query += ` AND workflow_id = $1`
	}
	args = append(args, storage.Limit(f.Limit))
	query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("pending tasks", err)
	}
	return collectTasks(rows)
}

func (t *tx) UpdateTask(ctx context.Context, task model.Task) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tasks SET agent_id = $2, status = $3, output = $4, error_message = $5,
		        started_at = $6, completed_at = $7, updated_at = $8
		 WHERE id = $1`,
		task.ID, task.AgentID, string(task.Status), nullableDoc(task.Output), task.ErrorMessage,
		task.StartedAt, task.CompletedAt, task.UpdatedAt,
	)
	if err != nil {
		return classify("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("task", task.ID)
	}
	return nil
}
