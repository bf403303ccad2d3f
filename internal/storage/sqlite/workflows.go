package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const workflowColumns = `id, name, description, status, parameters, results, error_message,
	started_at, completed_at, created_at, updated_at`

func scanWorkflow(row scanner) (model.Workflow, error) {
	var (
		w                  model.Workflow
		parameters         string
		results, errMsg    sql.NullString
		started, completed sql.NullInt64
		created, updated   int64
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Status, &parameters, &results, &errMsg,
		&started, &completed, &created, &updated); err != nil {
		return model.Workflow{}, err
	}
	w.Parameters = model.Document(parameters)
	w.Results = docOf(results)
	w.ErrorMessage = stringPtr(errMsg)
	w.StartedAt, w.CompletedAt = timePtr(started), timePtr(completed)
	w.CreatedAt, w.UpdatedAt = fromMicros(created), fromMicros(updated)
	return w, nil
}

func (t *tx) InsertWorkflow(ctx context.Context, w model.Workflow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.Name, w.Description, string(w.Status), string(w.Parameters), nullDoc(w.Results),
		nullString(w.ErrorMessage), nullMicros(w.StartedAt), nullMicros(w.CompletedAt),
		micros(w.CreatedAt), micros(w.UpdatedAt),
	)
	if err != nil {
		return classify("insert workflow", err)
	}
	return nil
}

func (t *tx) GetWorkflow(ctx context.Context, id uuid.UUID, _ bool) (model.Workflow, error) {
	w, err := scanWorkflow(t.tx.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Workflow{}, storage.NotFound("workflow", id)
		}
		return model.Workflow{}, classify("get workflow", err)
	}
	return w, nil
}

func (t *tx) ListWorkflows(ctx context.Context, f model.WorkflowFilter) ([]model.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, storage.Limit(f.Limit), max(f.Offset, 0))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list workflows", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, classify("scan workflow", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *tx) UpdateWorkflow(ctx context.Context, w model.Workflow) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE workflows SET status = ?, results = ?, error_message = ?,
		        started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(w.Status), nullDoc(w.Results), nullString(w.ErrorMessage),
		nullMicros(w.StartedAt), nullMicros(w.CompletedAt), micros(w.UpdatedAt), w.ID.String(),
	)
	if err != nil {
		return classify("update workflow", err)
	}
	return requireRow(res, "workflow", w.ID)
}

func (t *tx) DeleteWorkflow(ctx context.Context, id uuid.UUID) (model.WorkflowDeletion, error) {
	if _, err := t.GetWorkflow(ctx, id, true); err != nil {
		return model.WorkflowDeletion{}, err
	}
	r, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE workflow_id = ?`, id.String())
	if err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow tasks", err)
	}
	var res model.WorkflowDeletion
	if res.Tasks, err = r.RowsAffected(); err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow tasks", err)
	}
	r, err = t.tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id.String())
	if err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow", err)
	}
	if res.Workflows, err = r.RowsAffected(); err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow", err)
	}
	return res, nil
}
