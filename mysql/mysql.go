/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package mysql registers MySQL and MariaDB error handling (github.com/go-sql-driver/mysql) in schemakit.
package mysql

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/acronis/go-schemakit"
)

// ErrCode is a MySQL server error number.
type ErrCode uint16

// MySQL server error numbers.
const (
	ErrCodeLockWaitTimeout         ErrCode = 1205
	ErrCodeDeadlock                ErrCode = 1213
	ErrCodeBadNull                 ErrCode = 1048
	ErrCodeNoDefaultForField       ErrCode = 1364
	ErrCodeDupEntry                ErrCode = 1062
	ErrCodeRowIsReferenced         ErrCode = 1451
	ErrCodeNoReferencedRow         ErrCode = 1452
	ErrCodeCheckConstraintViolated ErrCode = 3819
)

func init() {
	schemakit.RegisterIsRetryableFunc(&mysql.MySQLDriver{}, IsRetryable)
	schemakit.RegisterConstraintClassifier(&mysql.MySQLDriver{}, ClassifyConstraint)
}

// CheckMySQLError checks if the passed error relates to MySQL and its number matches the passed code.
func CheckMySQLError(err error, errCode ErrCode) bool {
	var mySQLError *mysql.MySQLError
	return errors.As(err, &mySQLError) && mySQLError.Number == uint16(errCode)
}

// IsRetryable reports whether the transaction was chosen as a deadlock victim or timed out waiting for a lock.
func IsRetryable(err error) bool {
	return CheckMySQLError(err, ErrCodeDeadlock) || CheckMySQLError(err, ErrCodeLockWaitTimeout)
}

// ClassifyConstraint returns the kind of the violated constraint by the server error number.
func ClassifyConstraint(err error) schemakit.ConstraintKind {
	var mySQLError *mysql.MySQLError
	if !errors.As(err, &mySQLError) {
		return schemakit.ConstraintUnknown
	}
	switch ErrCode(mySQLError.Number) {
	case ErrCodeBadNull, ErrCodeNoDefaultForField:
		return schemakit.ConstraintNotNull
	case ErrCodeDupEntry:
		return schemakit.ConstraintUnique
	case ErrCodeRowIsReferenced, ErrCodeNoReferencedRow:
		return schemakit.ConstraintForeignKey
	case ErrCodeCheckConstraintViolated:
		return schemakit.ConstraintCheck
	}
	return schemakit.ConstraintUnknown
}
