/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"database/sql"
	"time"
)

// Dialect defines possible values for planned supported SQL dialects.
type Dialect string

// SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
	DialectMSSQL    Dialect = "mssql"
)

// IsPostgres reports whether the dialect talks to PostgreSQL (either through lib/pq or pgx).
func (d Dialect) IsPostgres() bool {
	return d == DialectPostgres || d == DialectPgx
}

// Supported reports whether the dialect is one of the known dialects.
func (d Dialect) Supported() bool {
	switch d {
	case DialectSQLite, DialectMySQL, DialectPostgres, DialectPgx, DialectMSSQL:
		return true
	}
	return false
}

// PostgresSSLMode defines possible values for Postgres sslmode connection parameter.
type PostgresSSLMode string

// Postgres SSL modes.
const (
	PostgresSSLModeDisable    PostgresSSLMode = "disable"
	PostgresSSLModeRequire    PostgresSSLMode = "require"
	PostgresSSLModeVerifyCA   PostgresSSLMode = "verify-ca"
	PostgresSSLModeVerifyFull PostgresSSLMode = "verify-full"
)

// Default values for connection pool and transaction isolation levels.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 2
	DefaultConnMaxLifetime = 10 * time.Minute

	MySQLDefaultTxLevel    = sql.LevelReadCommitted
	PostgresDefaultTxLevel = sql.LevelReadCommitted
	MSSQLDefaultTxLevel    = sql.LevelReadCommitted
	PostgresDefaultSSLMode = PostgresSSLModeVerifyCA
)

// DefaultVersionTableName is the name of the bookkeeping table that stores the schema version.
// Export, import and downgrade never touch this table.
const DefaultVersionTableName = "schema_version"

// DefaultTempTablePrefix is prepended to table names while a downgrade is in progress.
const DefaultTempTablePrefix = "__"
