package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Postgres SQLSTATE codes the ledger classifies.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// classify wraps err with the operation name and maps constraint violations
// onto domain errors. Serialization failures are left intact for WithRetry.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("storage: %s: %w (%s)", op, model.ErrDuplicateName, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("storage: %s: %w (%s)", op, model.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
