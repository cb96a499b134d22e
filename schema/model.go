/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package schema describes a versioned relational schema as a set of tables whose columns are
// introduced version by version, and builds the DDL that materializes a table at any version.
//
// A Model is validated once at construction and is immutable afterwards, so it can be shared
// by the migration engine and any number of readers.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acronis/go-schemakit"
)

// ErrInvalidModel is wrapped by all errors returned when a schema declaration is inconsistent.
var ErrInvalidModel = errors.New("invalid schema model")

// ErrEmptyColumnList is returned when a statement that copies rows gets no columns to copy.
var ErrEmptyColumnList = errors.New("empty column list")

// Table is a versioned table declaration.
// Deltas[i] holds the column definitions introduced at version FirstVersion+i.
// Column definitions are opaque strings passed verbatim to the database, e.g. "first_name TEXT NOT NULL".
type Table struct {
	Name         string
	FirstVersion int
	Constraint   string
	Deltas       [][]string
}

// MaxVersion returns the last version that introduces columns into the table
// (or FirstVersion-1 if the table declares no deltas at all).
func (t Table) MaxVersion() int {
	return t.FirstVersion + len(t.Deltas) - 1
}

// DeltaAt returns the column definitions introduced exactly at version v.
// The result is empty if no columns were added at v (including versions beyond the last delta).
// ok is false if v predates the table.
func (t Table) DeltaAt(v int) (columns []string, ok bool) {
	if v < t.FirstVersion {
		return nil, false
	}
	offset := v - t.FirstVersion
	if offset >= len(t.Deltas) {
		return nil, true
	}
	return t.Deltas[offset], true
}

// ExistsAt reports whether the table has at least one column at version v.
func (t Table) ExistsAt(v int) bool {
	return len(t.ColumnsAt(v)) != 0
}

// ColumnsAt returns all column definitions valid at version v in declaration order.
func (t Table) ColumnsAt(v int) []string {
	var columns []string
	for ver := t.FirstVersion; ver <= v && ver <= t.MaxVersion(); ver++ {
		delta, _ := t.DeltaAt(ver)
		columns = append(columns, delta...)
	}
	return columns
}

// ColumnNamesAt returns names of all columns valid at version v.
func (t Table) ColumnNamesAt(v int) []string {
	defs := t.ColumnsAt(v)
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, ColumnName(def))
	}
	return names
}

// ColumnName extracts the column name from a column definition: the first whitespace-separated token
// with identifier quotes ("", ``, []) stripped.
func ColumnName(def string) string {
	fields := strings.Fields(def)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if len(name) >= 2 {
		switch {
		case name[0] == '"' && name[len(name)-1] == '"',
			name[0] == '`' && name[len(name)-1] == '`',
			name[0] == '[' && name[len(name)-1] == ']':
			name = name[1 : len(name)-1]
		}
	}
	return name
}

func (t Table) clone() Table {
	deltas := make([][]string, len(t.Deltas))
	for i, delta := range t.Deltas {
		deltas[i] = append([]string(nil), delta...)
	}
	t.Deltas = deltas
	return t
}

// Model is an immutable set of versioned tables with the schema version it declares.
type Model struct {
	version int
	tables  []Table
	byName  map[string]int
}

// ModelOption is a functional option for NewModel.
type ModelOption func(*modelOptions)

type modelOptions struct {
	tempTablePrefix string
	reservedNames   []string
}

// WithTempTablePrefix sets the prefix that table names are not allowed to start with
// (it is used for temporary tables during downgrades). Default is schemakit.DefaultTempTablePrefix.
func WithTempTablePrefix(prefix string) ModelOption {
	return func(o *modelOptions) {
		o.tempTablePrefix = prefix
	}
}

// WithReservedNames forbids table names used by the infrastructure (e.g. the version bookkeeping table).
func WithReservedNames(names ...string) ModelOption {
	return func(o *modelOptions) {
		o.reservedNames = append(o.reservedNames, names...)
	}
}

// NewModel validates the tables and creates a new Model of the passed version.
// Tables are deep-copied.
func NewModel(version int, tables []Table, options ...ModelOption) (*Model, error) {
	opts := modelOptions{tempTablePrefix: schemakit.DefaultTempTablePrefix}
	for _, opt := range options {
		opt(&opts)
	}

	if version < 1 {
		return nil, fmt.Errorf("%w: version must be positive, got %d", ErrInvalidModel, version)
	}

	reserved := make(map[string]struct{}, len(opts.reservedNames))
	for _, name := range opts.reservedNames {
		reserved[strings.ToLower(name)] = struct{}{}
	}

	m := &Model{version: version, tables: make([]Table, 0, len(tables)), byName: make(map[string]int, len(tables))}
	for _, t := range tables {
		if err := validateTable(t, opts.tempTablePrefix); err != nil {
			return nil, err
		}
		key := strings.ToLower(t.Name)
		if _, ok := reserved[key]; ok {
			return nil, fmt.Errorf("%w: table name %q is reserved", ErrInvalidModel, t.Name)
		}
		if _, ok := m.byName[key]; ok {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrInvalidModel, t.Name)
		}
		m.byName[key] = len(m.tables)
		m.tables = append(m.tables, t.clone())
	}
	return m, nil
}

func validateTable(t Table, tempPrefix string) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: table name cannot be empty", ErrInvalidModel)
	}
	if tempPrefix != "" && strings.HasPrefix(strings.ToLower(t.Name), strings.ToLower(tempPrefix)) {
		return fmt.Errorf("%w: table %q starts with temporary table prefix %q", ErrInvalidModel, t.Name, tempPrefix)
	}
	if t.FirstVersion < 1 {
		return fmt.Errorf("%w: table %q: first version must be positive, got %d", ErrInvalidModel, t.Name, t.FirstVersion)
	}
	if len(t.Deltas) != 0 && len(t.Deltas[0]) == 0 {
		return fmt.Errorf("%w: table %q: no columns at first version %d", ErrInvalidModel, t.Name, t.FirstVersion)
	}
	seen := make(map[string]struct{})
	for i, delta := range t.Deltas {
		ver := t.FirstVersion + i
		for _, def := range delta {
			name := strings.ToLower(ColumnName(def))
			if name == "" {
				return fmt.Errorf("%w: table %q: empty column definition at version %d", ErrInvalidModel, t.Name, ver)
			}
			if _, ok := seen[name]; ok {
				return fmt.Errorf("%w: table %q: duplicate column %q", ErrInvalidModel, t.Name, ColumnName(def))
			}
			seen[name] = struct{}{}
		}
	}
	return nil
}

// Version returns the schema version declared by the model.
func (m *Model) Version() int {
	return m.version
}

// TableCount returns the number of declared tables.
func (m *Model) TableCount() int {
	return len(m.tables)
}

// TableAt returns the i-th table in declaration order. It panics if i is out of range.
func (m *Model) TableAt(i int) Table {
	if i < 0 || i >= len(m.tables) {
		panic(fmt.Sprintf("schema: table index %d out of range [0, %d)", i, len(m.tables)))
	}
	return m.tables[i]
}

// Tables returns all tables in declaration order.
func (m *Model) Tables() []Table {
	return append([]Table(nil), m.tables...)
}

// Lookup finds a table by name (case-insensitively).
func (m *Model) Lookup(name string) (Table, bool) {
	i, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return m.tables[i], true
}
