package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

// SeedAdmin inserts the bootstrap identity unless the username exists.
func (db *DB) SeedAdmin(ctx context.Context, id model.AdminIdentity) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO admin_identities (id, username, credential_hash, must_rotate, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username) DO NOTHING`,
		id.ID, id.Username, id.CredentialHash, id.MustRotate, id.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("storage: seed admin: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetAdmin returns the identity with the given username.
func (db *DB) GetAdmin(ctx context.Context, username string) (model.AdminIdentity, error) {
	var a model.AdminIdentity
	err := db.pool.QueryRow(ctx,
		`SELECT id, username, credential_hash, must_rotate, created_at
		 FROM admin_identities WHERE username = $1`, username,
	).Scan(&a.ID, &a.Username, &a.CredentialHash, &a.MustRotate, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AdminIdentity{}, fmt.Errorf("storage: admin %q: %w", username, model.ErrNotFound)
		}
		return model.AdminIdentity{}, fmt.Errorf("storage: get admin: %w", err)
	}
	return a, nil
}
