package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const taskColumns = `id, workflow_id, agent_id, name, description, status, priority, input, output,
	error_message, started_at, completed_at, created_at, updated_at`

func scanTask(row scanner) (model.Task, error) {
	var (
		t                  model.Task
		agentID            uuid.NullUUID
		input              string
		output, errMsg     sql.NullString
		started, completed sql.NullInt64
		created, updated   int64
	)
	if err := row.Scan(&t.ID, &t.WorkflowID, &agentID, &t.Name, &t.Description, &t.Status, &t.Priority,
		&input, &output, &errMsg, &started, &completed, &created, &updated); err != nil {
		return model.Task{}, err
	}
	if agentID.Valid {
		id := agentID.UUID
		t.AgentID = &id
	}
	t.Input = model.Document(input)
	t.Output = docOf(output)
	t.ErrorMessage = stringPtr(errMsg)
	t.StartedAt, t.CompletedAt = timePtr(started), timePtr(completed)
	t.CreatedAt, t.UpdatedAt = fromMicros(created), fromMicros(updated)
	return t, nil
}

func nullID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	defer func() { _ = rows.Close() }()
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
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID.String(), task.WorkflowID.String(), nullID(task.AgentID), task.Name, task.Description,
		string(task.Status), task.Priority, string(task.Input), nullDoc(task.Output),
		nullString(task.ErrorMessage), nullMicros(task.StartedAt), nullMicros(task.CompletedAt),
		micros(task.CreatedAt), micros(task.UpdatedAt),
	)
	if err != nil {
		return classify("insert task", err)
	}
	return nil
}

func (t *tx) GetTask(ctx context.Context, id uuid.UUID, _ bool) (model.Task, error) {
	task, err := scanTask(t.tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "workflow_id = ?")
		args = append(args, f.WorkflowID.String())
	}
	if f.AgentID != uuid.Nil {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id LIMIT ?"
	args = append(args, storage.Limit(f.Limit))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	return collectTasks(rows)
}

func (t *tx) PendingTasks(ctx context.Context, f model.PendingFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'`
	var args []any
	if f.WorkflowID != uuid.Nil {
		query += ` AND workflow_id = ?`
		args = append(args, f.WorkflowID.String())
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?`
	args = append(args, storage.Limit(f.Limit))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("pending tasks", err)
	}
	return collectTasks(rows)
}

func (t *tx) UpdateTask(ctx context.Context, task model.Task) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET agent_id = ?, status = ?, output = ?, error_message = ?,
		        started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullID(task.AgentID), string(task.Status), nullDoc(task.Output), nullString(task.ErrorMessage),
		nullMicros(task.StartedAt), nullMicros(task.CompletedAt), micros(task.UpdatedAt), task.ID.String(),
	)
	if err != nil {
		return classify("update task", err)
	}
	return requireRow(res, "task", task.ID)
}
