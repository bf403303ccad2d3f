package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashita-ai/kiroku/internal/model"
)

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return micros(*t)
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullDoc(d model.Document) any {
	if len(d) == 0 {
		return nil
	}
	return string(d)
}

func docOf(v sql.NullString) model.Document {
	if !v.Valid {
		return nil
	}
	return model.Document(v.String)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

type scanner interface {
	Scan(dest ...any) error
}

// classify wraps err with the operation name and maps constraint violations
// onto domain errors.
func classify(op string, err error) error {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("storage: %s: %w", op, model.ErrDuplicateName)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("storage: %s: %w", op, model.ErrNotFound)
		}
	}
	// Some driver paths report only the primary result code.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("storage: %s: %w", op, model.ErrDuplicateName)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("storage: %s: %w", op, model.ErrNotFound)
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes.
func isBusy(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// bumpUpdatedAt is the SET fragment for bulk task changes. Its parameter is
// the mutation time in microseconds; updated_at stays strictly increasing.
const bumpUpdatedAt = `updated_at = MAX(updated_at + 1, ?)`
