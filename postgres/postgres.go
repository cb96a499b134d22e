/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package postgres registers PostgreSQL error handling for the github.com/lib/pq driver in schemakit.
// Use the pgx package for the github.com/jackc/pgx driver.
package postgres

import (
	"errors"

	"github.com/lib/pq"

	"github.com/acronis/go-schemakit"
)

// ErrCode is a PostgreSQL SQLSTATE code.
type ErrCode string

// PostgreSQL SQLSTATE codes.
const (
	ErrCodeDeadlockDetected     ErrCode = "40P01"
	ErrCodeSerializationFailure ErrCode = "40001"
	ErrCodeNotNullViolation     ErrCode = "23502"
	ErrCodeForeignKeyViolation  ErrCode = "23503"
	ErrCodeUniqueViolation      ErrCode = "23505"
	ErrCodeCheckViolation       ErrCode = "23514"
)

func init() {
	schemakit.RegisterIsRetryableFunc(&pq.Driver{}, IsRetryable)
	schemakit.RegisterConstraintClassifier(&pq.Driver{}, ClassifyConstraint)
}

// CheckPostgresError checks if the passed error relates to PostgreSQL and its code matches the passed one.
func CheckPostgresError(err error, errCode ErrCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pq.ErrorCode(errCode)
}

// IsRetryable reports whether the transaction failed because of a deadlock or a serialization failure.
func IsRetryable(err error) bool {
	return CheckPostgresError(err, ErrCodeDeadlockDetected) || CheckPostgresError(err, ErrCodeSerializationFailure)
}

// ClassifyConstraint returns the kind of the violated constraint by SQLSTATE.
func ClassifyConstraint(err error) schemakit.ConstraintKind {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return schemakit.ConstraintUnknown
	}
	return constraintKindOf(ErrCode(pqErr.Code))
}

func constraintKindOf(code ErrCode) schemakit.ConstraintKind {
	switch code {
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
