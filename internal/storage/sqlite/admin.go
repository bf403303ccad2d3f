package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// SeedAdmin inserts the bootstrap identity unless the username exists.
func (d *DB) SeedAdmin(ctx context.Context, id model.AdminIdentity) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO admin_identities (id, username, credential_hash, must_rotate, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO NOTHING`,
		id.ID.String(), id.Username, id.CredentialHash, id.MustRotate, micros(id.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("storage: seed admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: seed admin: %w", err)
	}
	return n > 0, nil
}

// GetAdmin returns the identity with the given username.
func (d *DB) GetAdmin(ctx context.Context, username string) (model.AdminIdentity, error) {
	var (
		a       model.AdminIdentity
		created int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, credential_hash, must_rotate, created_at
		 FROM admin_identities WHERE username = ?`, username,
	).Scan(&a.ID, &a.Username, &a.CredentialHash, &a.MustRotate, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AdminIdentity{}, fmt.Errorf("storage: admin %q: %w", username, model.ErrNotFound)
		}
		return model.AdminIdentity{}, fmt.Errorf("storage: get admin: %w", err)
	}
	a.CreatedAt = fromMicros(created)
	return a, nil
}
