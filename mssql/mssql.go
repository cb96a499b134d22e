/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package mssql registers Microsoft SQL Server error handling (github.com/microsoft/go-mssqldb) in schemakit.
package mssql

import (
	"errors"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/acronis/go-schemakit"
)

// ErrCode is a SQL Server error number.
type ErrCode int32

// SQL Server error numbers.
const (
	ErrCodeDeadlock          ErrCode = 1205
	ErrCodeCannotInsertNull  ErrCode = 515
	ErrCodeUniqueConstraint  ErrCode = 2627
	ErrCodeDuplicateKeyIndex ErrCode = 2601
	// ErrCodeConstraintConflict is reported for both FOREIGN KEY and CHECK constraints.
	ErrCodeConstraintConflict ErrCode = 547
)

func init() {
	schemakit.RegisterIsRetryableFunc(&mssql.Driver{}, IsRetryable)
	schemakit.RegisterConstraintClassifier(&mssql.Driver{}, ClassifyConstraint)
}

func asMSSQLError(err error) (mssql.Error, bool) {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr, true
	}
	var msErrPtr *mssql.Error
	if errors.As(err, &msErrPtr) && msErrPtr != nil {
		return *msErrPtr, true
	}
	return msErr, false
}

// CheckMSSQLError checks if the passed error relates to SQL Server and its number matches the passed code.
func CheckMSSQLError(err error, errCode ErrCode) bool {
	msErr, ok := asMSSQLError(err)
	return ok && msErr.Number == int32(errCode)
}

// IsRetryable reports whether the transaction was chosen as a deadlock victim.
func IsRetryable(err error) bool {
	return CheckMSSQLError(err, ErrCodeDeadlock)
}

// ClassifyConstraint returns the kind of the violated constraint by the error number.
func ClassifyConstraint(err error) schemakit.ConstraintKind {
	msErr, ok := asMSSQLError(err)
	if !ok {
		return schemakit.ConstraintUnknown
	}
	switch ErrCode(msErr.Number) {
	case ErrCodeCannotInsertNull:
		return schemakit.ConstraintNotNull
	case ErrCodeUniqueConstraint, ErrCodeDuplicateKeyIndex:
		return schemakit.ConstraintUnique
	case ErrCodeConstraintConflict:
		if strings.Contains(strings.ToUpper(msErr.Message), "CHECK CONSTRAINT") {
			return schemakit.ConstraintCheck
		}
		return schemakit.ConstraintForeignKey
	}
	return schemakit.ConstraintUnknown
}
