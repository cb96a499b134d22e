/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/internal/catalog"
)

// Execer is implemented by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// VersionStore persists the schema version of named databases in a bookkeeping table.
type VersionStore struct {
	dialect   schemakit.Dialect
	tableName string
	gq        goqu.DialectWrapper
}

// NewVersionStore creates a new VersionStore that keeps versions in the table.
func NewVersionStore(dialect schemakit.Dialect, tableName string) *VersionStore {
	return &VersionStore{dialect: dialect, tableName: tableName, gq: goqu.Dialect(catalog.GoquDialect(dialect))}
}

// TableName returns the name of the bookkeeping table.
func (s *VersionStore) TableName() string {
	return s.tableName
}

// createTableSQL returns the dialect-specific DDL for creating the bookkeeping table.
func (s *VersionStore) createTableSQL() (string, error) {
	switch s.dialect {
	case schemakit.DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			version INT NOT NULL
		)`, s.tableName), nil

	case schemakit.DialectPostgres, schemakit.DialectPgx:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			version INTEGER NOT NULL
		)`, s.tableName), nil

	case schemakit.DialectSQLite:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT NOT NULL PRIMARY KEY,
			version INTEGER NOT NULL
		)`, s.tableName), nil

	case schemakit.DialectMSSQL:
		return fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s')
			CREATE TABLE %s (
				name VARCHAR(255) NOT NULL PRIMARY KEY,
				version INT NOT NULL
			)`, s.tableName, s.tableName), nil

	default:
		return "", fmt.Errorf("unsupported dialect: %s", s.dialect)
	}
}

// Ensure creates the bookkeeping table if it doesn't exist.
func (s *VersionStore) Ensure(ctx context.Context, q Execer) error {
	createSQL, err := s.createTableSQL()
	if err != nil {
		return fmt.Errorf("get create table SQL: %w", err)
	}
	if _, err = q.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	return nil
}

// Get returns the stored version of the named database. ok is false if no version was stored yet.
func (s *VersionStore) Get(ctx context.Context, q Execer, name string) (version int, ok bool, err error) {
	query, _, err := s.gq.From(s.tableName).Select("version").Where(goqu.C("name").Eq(name)).ToSQL()
	if err != nil {
		return 0, false, fmt.Errorf("build select version query: %w", err)
	}
	if err = q.QueryRowContext(ctx, query).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select version: %w", err)
	}
	return version, true, nil
}

// Set stores the version of the named database.
func (s *VersionStore) Set(ctx context.Context, q Execer, name string, version int) error {
	_, exists, err := s.Get(ctx, q, name)
	if err != nil {
		return err
	}
	var query string
	if exists {
		query, _, err = s.gq.Update(s.tableName).
			Set(goqu.Record{"version": version}).
			Where(goqu.C("name").Eq(name)).
			ToSQL()
	} else {
		query, _, err = s.gq.Insert(s.tableName).
			Rows(goqu.Record{"name": name, "version": version}).
			ToSQL()
	}
	if err != nil {
		return fmt.Errorf("build store version query: %w", err)
	}
	if _, err = q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store version: %w", err)
	}
	return nil
}
