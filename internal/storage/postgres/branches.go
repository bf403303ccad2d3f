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

const branchColumns = `id, name, type, status, config, last_execution, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBranch(row scanner) (model.Branch, error) {
	var b model.Branch
	err := row.Scan(&b.ID, &b.Name, &b.Type, &b.Status, raw(&b.Config), &b.LastExecution, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (t *tx) InsertBranch(ctx context.Context, b model.Branch) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO branches (`+branchColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.Name, b.Type, string(b.Status), []byte(b.Config), b.LastExecution, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return classify("insert branch", err)
	}
	return nil
}

func (t *tx) GetBranch(ctx context.Context, id uuid.UUID, forUpdate bool) (model.Branch, error) {
	b, err := scanBranch(t.tx.QueryRow(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE id = $1`+lockClause(forUpdate), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	query := `SELECT ` + branchColumns + ` FROM branches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list branches", err)
	}
	defer rows.Close()

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
	tag, err := t.tx.Exec(ctx,
		`UPDATE branches SET status = $2, config = $3, last_execution = $4, updated_at = $5 WHERE id = $1`,
		b.ID, string(b.Status), []byte(b.Config), b.LastExecution, b.UpdatedAt,
	)
	if err != nil {
		return classify("update branch", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("branch", b.ID)
	}
	return nil
}

// DeleteBranch locks the branch's agents before touching their tasks, then
// lets the agents cascade with the branch row.
func (t *tx) DeleteBranch(ctx context.Context, id uuid.UUID, at time.Time) (model.BranchDeletion, error) {
	if _, err := t.GetBranch(ctx, id, true); err != nil {
		return model.BranchDeletion{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT id FROM agents WHERE branch_id = $1 ORDER BY id FOR UPDATE`, id)
	if err != nil {
		return model.BranchDeletion{}, classify("lock branch agents", err)
	}
	agentIDs, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return model.BranchDeletion{}, classify("lock branch agents", err)
	}

	var res model.BranchDeletion
	if len(agentIDs) > 0 {
		tag, err := t.tx.Exec(ctx, `UPDATE tasks SET agent_id = NULL, `+bumpUpdatedAt+` WHERE agent_id = ANY($1)`, agentIDs, at)
		if err != nil {
			return model.BranchDeletion{}, classify("unassign branch tasks", err)
		}
		res.TasksUnassigned = tag.RowsAffected()
	}

	tag, err := t.tx.Exec(ctx, `DELETE FROM branches WHERE id = $1`, id)
	if err != nil {
		return model.BranchDeletion{}, classify("delete branch", err)
	}
	res.Branches = tag.RowsAffected()
	res.Agents = int64(len(agentIDs))
	return res, nil
}
