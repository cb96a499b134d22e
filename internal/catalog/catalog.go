/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package catalog introspects the live database: which user tables exist and which columns they have.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/doug-martin/goqu/v9"

	// goqu dialects used for building catalog queries.
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver"

	"github.com/acronis/go-schemakit"
)

// Querier is implemented by *sql.DB, *sql.Tx and *dbr.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Catalog builds and runs introspection queries for a dialect.
type Catalog struct {
	dialect schemakit.Dialect
	gq      goqu.DialectWrapper
}

// New creates a new Catalog for the dialect.
func New(dialect schemakit.Dialect) *Catalog {
	return &Catalog{dialect: dialect, gq: goqu.Dialect(GoquDialect(dialect))}
}

// GoquDialect returns the name of the goqu dialect for the SQL dialect.
func GoquDialect(dialect schemakit.Dialect) string {
	switch dialect {
	case schemakit.DialectPostgres, schemakit.DialectPgx:
		return "postgres"
	case schemakit.DialectMSSQL:
		return "sqlserver"
	case schemakit.DialectMySQL:
		return "mysql"
	}
	return "sqlite3"
}

// Goqu returns the goqu dialect wrapper used by the catalog.
func (c *Catalog) Goqu() goqu.DialectWrapper {
	return c.gq
}

// TablesQuery returns the query that lists names of user tables.
func (c *Catalog) TablesQuery() (string, error) {
	var ds *goqu.SelectDataset
	switch c.dialect {
	case schemakit.DialectSQLite:
		ds = c.gq.From("sqlite_master").Select("name").Where(
			goqu.C("type").Eq("table"),
			goqu.C("name").NotLike("sqlite_%"),
		)
	case schemakit.DialectPostgres, schemakit.DialectPgx:
		ds = c.gq.From(goqu.S("information_schema").Table("tables")).Select("table_name").Where(
			goqu.C("table_schema").Eq(goqu.L("current_schema()")),
			goqu.C("table_type").Eq("BASE TABLE"),
		)
	case schemakit.DialectMySQL:
		ds = c.gq.From(goqu.S("information_schema").Table("tables")).Select("table_name").Where(
			goqu.C("table_schema").Eq(goqu.L("DATABASE()")),
			goqu.C("table_type").Eq("BASE TABLE"),
		)
	case schemakit.DialectMSSQL:
		ds = c.gq.From(goqu.S("sys").Table("tables")).Select("name").Where(goqu.C("is_ms_shipped").Eq(0))
	default:
		return "", fmt.Errorf("unsupported dialect: %s", c.dialect)
	}
	query, _, err := ds.ToSQL()
	if err != nil {
		return "", fmt.Errorf("build tables query: %w", err)
	}
	return query, nil
}

// Tables returns names of all user tables sorted by name.
func (c *Catalog) Tables(ctx context.Context, q Querier) ([]string, error) {
	query, err := c.TablesQuery()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close() // nolint: errcheck

	var tables []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	sort.Strings(tables)
	return tables, nil
}

// ColumnsQuery returns the query that selects no rows but reports all columns of the table.
func (c *Catalog) ColumnsQuery(table string) (string, error) {
	query, _, err := c.gq.From(table).Where(goqu.L("1 = 0")).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build columns query: %w", err)
	}
	return query, nil
}

// SelectAllQuery returns the query that selects all rows of the table.
func (c *Catalog) SelectAllQuery(table string) (string, error) {
	query, _, err := c.gq.From(table).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build select query: %w", err)
	}
	return query, nil
}

// Columns returns column names of the table in the order reported by the database.
func (c *Catalog) Columns(ctx context.Context, q Querier, table string) ([]string, error) {
	query, err := c.ColumnsQuery(table)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	defer rows.Close() // nolint: errcheck
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns of %s: %w", table, err)
	}
	return columns, nil
}

// ReferencedTablesQuery returns the query that lists names of tables referenced by foreign keys of the table.
func (c *Catalog) ReferencedTablesQuery(table string) (string, error) {
	var ds *goqu.SelectDataset
	switch c.dialect {
	case schemakit.DialectSQLite:
		ds = c.gq.From(goqu.L("pragma_foreign_key_list(?)", table)).Select(goqu.C("table"))
	case schemakit.DialectPostgres, schemakit.DialectPgx:
		ds = c.gq.From("pg_constraint").Select(goqu.L("confrelid::regclass::text")).Where(
			goqu.C("contype").Eq("f"),
			goqu.C("conrelid").Eq(goqu.L("to_regclass(?)", table)),
		)
	case schemakit.DialectMySQL:
		ds = c.gq.From(goqu.S("information_schema").Table("key_column_usage")).Select("referenced_table_name").Where(
			goqu.C("table_schema").Eq(goqu.L("DATABASE()")),
			goqu.C("table_name").Eq(table),
			goqu.C("referenced_table_name").IsNotNull(),
		)
	case schemakit.DialectMSSQL:
		ds = c.gq.From(goqu.S("sys").Table("foreign_keys")).Select(goqu.L("OBJECT_NAME(referenced_object_id)")).Where(
			goqu.C("parent_object_id").Eq(goqu.L("OBJECT_ID(?)", table)),
		)
	default:
		return "", fmt.Errorf("unsupported dialect: %s", c.dialect)
	}
	query, _, err := ds.Distinct().ToSQL()
	if err != nil {
		return "", fmt.Errorf("build referenced tables query: %w", err)
	}
	return query, nil
}

// ReferencedTables returns names of other tables referenced by foreign keys of the table, sorted by name.
func (c *Catalog) ReferencedTables(ctx context.Context, q Querier, table string) ([]string, error) {
	query, err := c.ReferencedTablesQuery(table)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys of %s: %w", table, err)
	}
	defer rows.Close() // nolint: errcheck

	var tables []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan referenced table of %s: %w", table, err)
		}
		if !strings.EqualFold(name, table) && !Contains(tables, name) {
			tables = append(tables, name)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys of %s: %w", table, err)
	}
	sort.Strings(tables)
	return tables, nil
}

// SortByDependencies orders names so that every name follows the names it depends on.
// deps is keyed by lower-cased names; dependencies outside of names are ignored.
// Independent names keep their relative order, a dependency cycle is broken at its first name.
func SortByDependencies(names []string, deps map[string][]string) []string {
	remaining := append([]string(nil), names...)
	result := make([]string, 0, len(names))
	for len(remaining) != 0 {
		next := 0
		for i, name := range remaining {
			if !dependsOnAny(deps[strings.ToLower(name)], remaining, name) {
				next = i
				break
			}
		}
		result = append(result, remaining[next])
		remaining = append(remaining[:next], remaining[next+1:]...)
	}
	return result
}

func dependsOnAny(deps, remaining []string, self string) bool {
	for _, dep := range deps {
		if !strings.EqualFold(dep, self) && Contains(remaining, dep) {
			return true
		}
	}
	return false
}

// HasTable reports whether the table exists (case-insensitively).
func (c *Catalog) HasTable(ctx context.Context, q Querier, table string) (bool, error) {
	tables, err := c.Tables(ctx, q)
	if err != nil {
		return false, err
	}
	return Contains(tables, table), nil
}

// Contains reports whether names contains name (case-insensitively).
func Contains(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Exclude returns names without the excluded ones and without names starting with any of the prefixes.
// Comparison is case-insensitive.
func Exclude(names []string, excluded []string, prefixes ...string) []string {
	result := make([]string, 0, len(names))
outer:
	for _, name := range names {
		if Contains(excluded, name) {
			continue
		}
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
				continue outer
			}
		}
		result = append(result, name)
	}
	return result
}

