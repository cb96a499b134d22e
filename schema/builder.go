/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schema

import (
	"fmt"
	"strings"

	"github.com/acronis/go-schemakit"
)

// Builder emits DDL statements that materialize versioned tables for a SQL dialect.
type Builder struct {
	dialect schemakit.Dialect
}

// NewBuilder creates a new Builder for the dialect.
func NewBuilder(dialect schemakit.Dialect) *Builder {
	return &Builder{dialect: dialect}
}

// Dialect returns the dialect the builder emits statements for.
func (b *Builder) Dialect() schemakit.Dialect {
	return b.dialect
}

// CreateTable returns the statement that creates the table with all columns introduced
// up to (and including) uptoVersion, followed by the table constraint if it has one.
// ok is false if the table does not exist yet at uptoVersion; callers must skip it.
func (b *Builder) CreateTable(t Table, uptoVersion int) (stmt string, ok bool) {
	if uptoVersion < t.FirstVersion {
		return "", false
	}
	clauses := t.ColumnsAt(uptoVersion)
	if len(clauses) == 0 {
		return "", false
	}
	if t.Constraint != "" {
		clauses = append(clauses, t.Constraint)
	}
	body := fmt.Sprintf("%s (%s);", t.Name, strings.Join(clauses, ", "))
	if b.dialect == schemakit.DialectMSSQL {
		return fmt.Sprintf("IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s') CREATE TABLE %s",
			escapeLiteral(t.Name), body), true
	}
	return "CREATE TABLE IF NOT EXISTS " + body, true
}

// AddColumns returns one statement per column introduced in (fromVersion, toVersion],
// ordered by version and then by declaration order.
func (b *Builder) AddColumns(t Table, fromVersion, toVersion int) []string {
	var stmts []string
	for ver := max(fromVersion+1, t.FirstVersion); ver <= toVersion && ver <= t.MaxVersion(); ver++ {
		delta, _ := t.DeltaAt(ver)
		for _, def := range delta {
			stmts = append(stmts, b.AddColumn(t.Name, def))
		}
	}
	return stmts
}

// AddColumn returns the statement that adds a single column to the table.
func (b *Builder) AddColumn(table, columnDef string) string {
	if b.dialect == schemakit.DialectMSSQL {
		return fmt.Sprintf("ALTER TABLE %s ADD %s;", table, columnDef)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", table, columnDef)
}

// RenameTable returns the statement that renames the table.
func (b *Builder) RenameTable(from, to string) string {
	switch b.dialect {
	case schemakit.DialectMSSQL:
		return fmt.Sprintf("EXEC sp_rename '%s', '%s';", escapeLiteral(from), escapeLiteral(to))
	case schemakit.DialectMySQL:
		return fmt.Sprintf("RENAME TABLE %s TO %s;", from, to)
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", from, to)
}

// DropTable returns the statement that drops the table.
func (b *Builder) DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE %s;", table)
}

// CopyRows returns the statement that copies the listed columns of all rows from src into dst.
func (b *Builder) CopyRows(dst, src string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("copy rows from %s to %s: %w", src, dst, ErrEmptyColumnList)
	}
	cols := strings.Join(columns, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s;", dst, cols, cols, src), nil
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
