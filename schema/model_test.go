/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-schemakit"
)

func TestTable_DeltaAt(t *testing.T) {
	tbl := Table{Name: "notes", FirstVersion: 2, Deltas: [][]string{{"id INTEGER"}, {}, {"body TEXT"}}}

	_, ok := tbl.DeltaAt(1)
	require.False(t, ok)

	delta, ok := tbl.DeltaAt(2)
	require.True(t, ok)
	require.Equal(t, []string{"id INTEGER"}, delta)

	delta, ok = tbl.DeltaAt(3)
	require.True(t, ok)
	require.Empty(t, delta)

	delta, ok = tbl.DeltaAt(7)
	require.True(t, ok)
	require.Empty(t, delta)

	require.Equal(t, 4, tbl.MaxVersion())
	require.False(t, tbl.ExistsAt(1))
	require.True(t, tbl.ExistsAt(2))
	require.Equal(t, []string{"id"}, tbl.ColumnNamesAt(3))
	require.Equal(t, []string{"id", "body"}, tbl.ColumnNamesAt(4))
	require.Equal(t, []string{"id INTEGER", "body TEXT"}, tbl.ColumnsAt(100))
}

func TestColumnName(t *testing.T) {
	require.Equal(t, "first_name", ColumnName("first_name TEXT NOT NULL"))
	require.Equal(t, "first_name", ColumnName("  first_name\tTEXT"))
	require.Equal(t, "order", ColumnName(`"order" INTEGER`))
	require.Equal(t, "order", ColumnName("`order` INT"))
	require.Equal(t, "order", ColumnName("[order] INT"))
	require.Equal(t, "", ColumnName("   "))
}

func TestNewModel(t *testing.T) {
	m, err := NewModel(2, []Table{peopleTable(), {Name: "notes", FirstVersion: 2, Deltas: [][]string{{"body TEXT"}}}})
	require.NoError(t, err)
	require.Equal(t, 2, m.Version())
	require.Equal(t, 2, m.TableCount())
	require.Equal(t, "people", m.TableAt(0).Name)
	require.Equal(t, "notes", m.TableAt(1).Name)
	require.Len(t, m.Tables(), 2)

	tbl, ok := m.Lookup("PEOPLE")
	require.True(t, ok)
	require.Equal(t, "people", tbl.Name)
	_, ok = m.Lookup("absent")
	require.False(t, ok)

	require.Panics(t, func() { m.TableAt(2) })
	require.Panics(t, func() { m.TableAt(-1) })
}

func TestNewModelCopiesTables(t *testing.T) {
	tables := []Table{peopleTable()}
	m, err := NewModel(2, tables)
	require.NoError(t, err)

	tables[0].Deltas[1][0] = "nickname TEXT"
	tables[0].Name = "renamed"
	require.Equal(t, "people", m.TableAt(0).Name)
	require.Equal(t, []string{"middle_init TEXT"}, m.TableAt(0).Deltas[1])
}

func TestNewModelValidation(t *testing.T) {
	tests := []struct {
		name    string
		version int
		tables  []Table
		opts    []ModelOption
		errMsg  string
	}{
		{
			name:    "non-positive version",
			version: 0,
			errMsg:  "invalid schema model: version must be positive, got 0",
		},
		{
			name:    "empty table name",
			version: 1,
			tables:  []Table{{Name: " ", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}}}},
			errMsg:  "invalid schema model: table name cannot be empty",
		},
		{
			name:    "duplicate table name",
			version: 2,
			tables:  []Table{peopleTable(), {Name: "People", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}}}},
			errMsg:  `invalid schema model: duplicate table "People"`,
		},
		{
			name:    "temporary prefix",
			version: 1,
			tables:  []Table{{Name: "__people", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}}}},
			errMsg:  `invalid schema model: table "__people" starts with temporary table prefix "__"`,
		},
		{
			name:    "custom temporary prefix",
			version: 1,
			tables:  []Table{{Name: "tmp_people", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}}}},
			opts:    []ModelOption{WithTempTablePrefix("tmp_")},
			errMsg:  `invalid schema model: table "tmp_people" starts with temporary table prefix "tmp_"`,
		},
		{
			name:    "reserved name",
			version: 1,
			tables:  []Table{{Name: "schema_version", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}}}},
			opts:    []ModelOption{WithReservedNames("schema_version")},
			errMsg:  `invalid schema model: table name "schema_version" is reserved`,
		},
		{
			name:    "non-positive first version",
			version: 1,
			tables:  []Table{{Name: "people", FirstVersion: 0, Deltas: [][]string{{"id INTEGER"}}}},
			errMsg:  `invalid schema model: table "people": first version must be positive, got 0`,
		},
		{
			name:    "empty first delta",
			version: 2,
			tables:  []Table{{Name: "people", FirstVersion: 1, Deltas: [][]string{{}, {"id INTEGER"}}}},
			errMsg:  `invalid schema model: table "people": no columns at first version 1`,
		},
		{
			name:    "empty column definition",
			version: 2,
			tables:  []Table{{Name: "people", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}, {""}}}},
			errMsg:  `invalid schema model: table "people": empty column definition at version 2`,
		},
		{
			name:    "duplicate column",
			version: 2,
			tables:  []Table{{Name: "people", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}, {"ID TEXT"}}}},
			errMsg:  `invalid schema model: table "people": duplicate column "ID"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.version, tt.tables, tt.opts...)
			require.ErrorIs(t, err, ErrInvalidModel)
			require.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestNewModelAllowsColumnsPlannedAhead(t *testing.T) {
	m, err := FromDeclaration(4, [][][]string{
		{
			{"people", "1", "UNIQUE (first_name, last_name) ON CONFLICT IGNORE"},
			{"_id INTEGER PRIMARY KEY AUTOINCREMENT", "first_name TEXT", "last_name TEXT"},
			{"middle_init TEXT"},
			{"company_id INTEGER"},
			{},
			{"salary INTEGER"},
		},
		{
			{"companies", "3"},
			{}, {},
			{"_id INTEGER PRIMARY KEY AUTOINCREMENT", "name TEXT"},
			{"description TEXT"},
		},
		{
			{"projects", "6"},
			{}, {}, {}, {}, {},
			{"_id INTEGER PRIMARY KEY AUTOINCREMENT", "title TEXT"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 4, m.Version())

	people, ok := m.Lookup("people")
	require.True(t, ok)
	require.Equal(t, 5, people.MaxVersion())
	require.Equal(t, []string{"_id", "first_name", "last_name", "middle_init", "company_id"}, people.ColumnNamesAt(m.Version()))

	b := NewBuilder(schemakit.DialectSQLite)
	stmt, ok := b.CreateTable(people, m.Version())
	require.True(t, ok)
	require.Equal(t, "CREATE TABLE IF NOT EXISTS people (_id INTEGER PRIMARY KEY AUTOINCREMENT, first_name TEXT, last_name TEXT, "+
		"middle_init TEXT, company_id INTEGER, UNIQUE (first_name, last_name) ON CONFLICT IGNORE);", stmt)
	require.Equal(t, []string{"ALTER TABLE people ADD COLUMN company_id INTEGER;"}, b.AddColumns(people, 2, m.Version()))

	companies, _ := m.Lookup("companies")
	require.Equal(t, []string{"_id", "name", "description"}, companies.ColumnNamesAt(m.Version()))

	// A table introduced after the model version is not created yet.
	projects, _ := m.Lookup("projects")
	_, ok = b.CreateTable(projects, m.Version())
	require.False(t, ok)
}

func TestNewModelAllowsTrailingEmptyDeltas(t *testing.T) {
	m, err := NewModel(2, []Table{{Name: "people", FirstVersion: 1, Deltas: [][]string{{"id INTEGER"}, {}, {}}}})
	require.NoError(t, err)
	require.Equal(t, 3, m.TableAt(0).MaxVersion())
}
