package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const workflowColumns = `id, name, description, status, parameters, results, error_message,
	started_at, completed_at, created_at, updated_at`

func scanWorkflow(row scanner) (model.Workflow, error) {
	var w model.Workflow
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.Status, raw(&w.Parameters), raw(&w.Results),
		&w.ErrorMessage, &w.StartedAt, &w.CompletedAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// nullableDoc maps an absent document to SQL NULL.
func nullableDoc(d model.Document) any {
	if len(d) == 0 {
		return nil
	}
	return []byte(d)
}

func (t *tx) InsertWorkflow(ctx context.Context, w model.Workflow) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.Name, w.Description, string(w.Status), []byte(w.Parameters), nullableDoc(w.Results),
		w.ErrorMessage, w.StartedAt, w.CompletedAt, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return classify("insert workflow", err)
	}
	return nil
}

func (t *tx) GetWorkflow(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Workflow, error) {
	w, err := scanWorkflow(t.tx.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`+lockClause(forUpdate), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Workflow{}, storage.NotFound("workflow", id)
		}
		return model.Workflow{}, classify("get workflow", err)
	}
	return w, nil
}

// ListWorkflows returns workflow history, newest first.
func (t *tx) ListWorkflows(ctx context.Context, f model.WorkflowFilter) ([]model.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, storage.Limit(f.Limit), max(f.Offset, 0))
	if f.Status != "" {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list workflows", err)
	}
	defer rows.Close()

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
	tag, err := t.tx.Exec(ctx,
		`UPDATE workflows SET status = $2, results = $3, error_message = $4,
		        started_at = $5, completed_at = $6, updated_at = $7
		 WHERE id = $1`,
		w.ID, string(w.Status), nullableDoc(w.Results), w.ErrorMessage, w.StartedAt, w.CompletedAt, w.UpdatedAt,
	)
	if err != nil {
		return classify("update workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("workflow", w.ID)
	}
	return nil
}

// DeleteWorkflow removes the workflow's tasks explicitly so the count is
// exact, then the workflow row.
func (t *tx) DeleteWorkflow(ctx context.Context, id uuid.UUID) (model.WorkflowDeletion, error) {
	if _, err := t.GetWorkflow(ctx, id, true); err != nil {
		return model.WorkflowDeletion{}, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM tasks WHERE workflow_id = $1`, id)
	if err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow tasks", err)
	}
	res := model.WorkflowDeletion{Tasks: tag.RowsAffected()}

	tag, err = t.tx.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return model.WorkflowDeletion{}, classify("delete workflow", err)
	}
	res.Workflows = tag.RowsAffected()
	return res, nil
}
