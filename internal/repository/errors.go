package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"marketdash/internal/apperr"
)

// dbErr wraps a database error, classifying retryable Postgres failures so
// the worker's transient-retry logic sees them. Serialization failures,
// deadlocks and connection-class errors come back after a retry; anything
// else stays a plain wrap and fails the operation.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if retryablePgErr(err) {
		return apperr.Wrap(apperr.Upstream, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryablePgErr(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	// Class 08: connection exceptions.
	return strings.HasPrefix(pgErr.Code, "08")
}
