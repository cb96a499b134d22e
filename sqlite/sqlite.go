/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package sqlite registers SQLite error handling (github.com/mattn/go-sqlite3) in schemakit.
// Import it for side effects:
//
//	import _ "github.com/acronis/go-schemakit/sqlite"
package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/acronis/go-schemakit"
)

func init() {
	schemakit.RegisterIsRetryableFunc(&sqlite3.SQLiteDriver{}, IsRetryable)
	schemakit.RegisterConstraintClassifier(&sqlite3.SQLiteDriver{}, ClassifyConstraint)
}

// IsRetryable reports whether the database was busy or locked.
func IsRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// ClassifyConstraint returns the kind of the violated constraint using the extended result code.
func ClassifyConstraint(err error) schemakit.ConstraintKind {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return schemakit.ConstraintUnknown
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintNotNull:
		return schemakit.ConstraintNotNull
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return schemakit.ConstraintUnique
	case sqlite3.ErrConstraintForeignKey:
		return schemakit.ConstraintForeignKey
	case sqlite3.ErrConstraintCheck:
		return schemakit.ConstraintCheck
	}
	return schemakit.ConstraintUnknown
}
