package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

var (
	// ErrTransient marks failures that are safe to retry: the statement
	// did not take effect.
	ErrTransient = errors.New("transient database error")
	// ErrSerialization marks a transaction aborted because of a concurrent
	// writer. It also matches ErrTransient.
	ErrSerialization = fmt.Errorf("%w: serialization failure", ErrTransient)
)

// Classify wraps err with ErrSerialization or ErrTransient when the
// failure is known to be retryable. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == CodeSerializationFailure, pgErr.Code == CodeDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %w", ErrTransient, err)
		case pgErr.Code == "57P01", pgErr.Code == "53300":
			// admin shutdown, too many connections
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// ConstraintViolation returns the violated constraint name when err is a
// unique or exclusion violation.
func ConstraintViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != CodeUniqueViolation && pgErr.Code != CodeExclusionViolation {
		return "", false
	}
	return pgErr.ConstraintName, true
}

// IsServerError reports whether err was reported by the PostgreSQL server,
// as opposed to a client or network failure.
func IsServerError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
