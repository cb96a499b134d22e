/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package pgx registers PostgreSQL error handling for the github.com/jackc/pgx driver in schemakit.
package pgx

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	pg "github.com/jackc/pgx/v5/stdlib"

	"github.com/acronis/go-schemakit"
)

// ErrCode is a PostgreSQL SQLSTATE code.
type ErrCode string

// PostgreSQL SQLSTATE codes.
const (
	ErrCodeDeadlockDetected     ErrCode = "40P01"
	ErrCodeSerializationFailure ErrCode = "40001"
	ErrCodeFeatureNotSupported  ErrCode = "0A000"
	ErrCodeNotNullViolation     ErrCode = "23502"
	ErrCodeForeignKeyViolation  ErrCode = "23503"
	ErrCodeUniqueViolation      ErrCode = "23505"
	ErrCodeCheckViolation       ErrCode = "23514"
)

func init() {
	schemakit.RegisterIsRetryableFunc(&pg.Driver{}, IsRetryable)
	schemakit.RegisterConstraintClassifier(&pg.Driver{}, ClassifyConstraint)
}

// CheckPostgresError checks if the passed error relates to PostgreSQL and its code matches the passed one.
func CheckPostgresError(err error, errCode ErrCode) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == string(errCode)
}

// CheckInvalidCachedPlanError reports whether a prepared statement became invalid because the schema
// of a table it selects from has changed (e.g. by a migration). pgx drops such statements from its cache,
// so running the query again succeeds.
func CheckInvalidCachedPlanError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == string(ErrCodeFeatureNotSupported) &&
		strings.Contains(pgErr.Message, "cached plan must not change result type")
}

// IsRetryable reports whether the failed operation can be repeated:
// deadlocks, serialization failures and invalid cached plans.
func IsRetryable(err error) bool {
	return CheckPostgresError(err, ErrCodeDeadlockDetected) ||
		CheckPostgresError(err, ErrCodeSerializationFailure) ||
		CheckInvalidCachedPlanError(err)
}

// ClassifyConstraint returns the kind of the violated constraint by SQLSTATE.
func ClassifyConstraint(err error) schemakit.ConstraintKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return schemakit.ConstraintUnknown
	}
	switch ErrCode(pgErr.Code) {
	case ErrCodeNotNullViolation:
		return schemakit.ConstraintNotNull
	case ErrCodeUniqueViolation:
		return schemakit.ConstraintUnique
	case ErrCodeForeignKeyViolation:
		return schemakit.ConstraintForeignKey
	case ErrCodeCheckViolation:
		return schemakit.ConstraintCheck
	}
	return schemakit.ConstraintUnknown
}
