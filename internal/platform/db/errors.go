package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/annacash/annacash/internal/shared"
)

// Postgres SQLSTATE codes the core reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// ViolatedConstraint returns the name of the unique constraint err violated, or "".
func ViolatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// Classify maps driver errors onto the shared taxonomy. A lost uniqueness race
// or a serialization failure becomes a retryable conflict; a missing row
// becomes not found. Other errors pass through untouched.
func Classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(what + " not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return shared.Conflict(what + " conflicts with an existing record (" + pgErr.ConstraintName + ")")
		case codeSerializationFailure, codeDeadlockDetected:
			return shared.Conflict(what + " lost a concurrent update")
		}
	}
	return err
}

// ClassifyConcurrency maps serialization failures and deadlocks to a retryable
// conflict and returns every other error unchanged.
func ClassifyConcurrency(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected) {
		return shared.Conflict(what + " lost a concurrent update")
	}
	return err
}
