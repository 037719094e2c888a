package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the application reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// ErrorCode returns the SQLSTATE of err, or "" when err did not come from
// the server.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsConstraintViolation reports unique or exclusion constraint failures.
func IsConstraintViolation(err error) bool {
	code := ErrorCode(err)
	return code == CodeUniqueViolation || code == CodeExclusionViolation
}

// IsRetryable reports errors after which the whole transaction may be
// replayed.
func IsRetryable(err error) bool {
	code := ErrorCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
