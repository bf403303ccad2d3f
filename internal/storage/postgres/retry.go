package postgres

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retriableCodes are the SQLSTATEs after which a transaction is rerun from
// the start: serialization_failure and deadlock_detected.
var retriableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
}

func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retriableCodes[pgErr.Code]
}

// WithRetry executes fn, retrying up to maxRetries times on serialization or
// deadlock errors. Retries use jittered exponential backoff starting at
// baseDelay. fn receives the zero-based attempt number.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(attempt int) error) error {
	var err error
	delay := baseDelay
	for attempt := range maxRetries + 1 {
		err = fn(attempt)
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
