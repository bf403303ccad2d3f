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

const branchColumns = `id, name, type, status, config, last_execution, created_at, updated_at`

func scanBranch(row scanner) (model.Branch, error) {
	var (
		b                model.Branch
		config           string
		lastExec         sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Type, &b.Status, &config, &lastExec, &created, &updated); err != nil {
		return model.Branch{}, err
	}
	b.Config = model.Document(config)
	b.LastExecution = timePtr(lastExec)
	b.CreatedAt, b.UpdatedAt = fromMicros(created), fromMicros(updated)
	return b, nil
}

func (t *tx) InsertBranch(ctx context.Context, b model.Branch) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO branches (`+branchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Type, string(b.Status), string(b.Config),
		nullMicros(b.LastExecution), micros(b.CreatedAt), micros(b.UpdatedAt),
	)
	if err != nil {
		return classify("insert branch", err)
	}
	return nil
}

// GetBranch reads a branch. The write lock is already held by the
// transaction, so forUpdate needs no extra clause.
func (t *tx) GetBranch(ctx context.Context, id uuid.UUID, _ bool) (model.Branch, error) {
	b, err := scanBranch(t.tx.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Branch{}, storage.NotFound("branch", id)
		}
		return model.Branch{}, classify("get branch", err)
	}
	return b, nil
}

func (t *tx) ListBranches(ctx context.Context, f model.BranchFilter) ([]model.Branch, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + branchColumns + ` FROM branches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list branches", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, classify("scan branch", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *tx) UpdateBranch(ctx context.Context, b model.Branch) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE branches SET status = ?, config = ?, last_execution = ?, updated_at = ? WHERE id = ?`,
		string(b.Status), string(b.Config), nullMicros(b.LastExecution), micros(b.UpdatedAt), b.ID.String(),
	)
	if err != nil {
		return classify("update branch", err)
	}
	return requireRow(res, "branch", b.ID)
}

func (t *tx) DeleteBranch(ctx context.Context, id uuid.UUID, at time.Time) (model.BranchDeletion, error) {
	if _, err := t.GetBranch(ctx, id, true); err != nil {
		return model.BranchDeletion{}, err
	}
	var res model.BranchDeletion
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE branch_id = ?`, id.String()).Scan(&res.Agents); err != nil {
		return model.BranchDeletion{}, classify("count branch agents", err)
	}
	r, err := t.tx.ExecContext(ctx,
		`UPDATE tasks SET agent_id = NULL, `+bumpUpdatedAt+`
		 WHERE agent_id IN (SELECT id FROM agents WHERE branch_id = ?)`, micros(at), id.String())
	if err != nil {
		return model.BranchDeletion{}, classify("unassign branch tasks", err)
	}
	if res.TasksUnassigned, err = r.RowsAffected(); err != nil {
		return model.BranchDeletion{}, classify("unassign branch tasks", err)
	}
	r, err = t.tx.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, id.String())
	if err != nil {
		return model.BranchDeletion{}, classify("delete branch", err)
	}
	if res.Branches, err = r.RowsAffected(); err != nil {
		return model.BranchDeletion{}, classify("delete branch", err)
	}
	return res, nil
}

func requireRow(res sql.Result, kind string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update "+kind, err)
	}
	if n == 0 {
		return storage.NotFound(kind, id)
	}
	return nil
}
