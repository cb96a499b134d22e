/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schema

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromDeclaration builds a Model from the nested declaration format.
// Every table is declared as a list of string lists:
//
//	[0]    = {name, firstVersion, constraint (optional)}
//	[1..N] = column definitions introduced at version 1..N
//
// Entries for versions before the table's first version are placeholders and must be empty.
func FromDeclaration(version int, decl [][][]string, options ...ModelOption) (*Model, error) {
	tables := make([]Table, 0, len(decl))
	for i, tableDecl := range decl {
		t, err := parseTableDeclaration(tableDecl)
		if err != nil {
			return nil, fmt.Errorf("%w: table declaration #%d: %v", ErrInvalidModel, i, err)
		}
		tables = append(tables, t)
	}
	return NewModel(version, tables, options...)
}

func parseTableDeclaration(decl [][]string) (Table, error) {
	if len(decl) == 0 {
		return Table{}, fmt.Errorf("header is missing")
	}
	header := decl[0]
	if len(header) < 2 || len(header) > 3 {
		return Table{}, fmt.Errorf("header must contain name, first version and optional constraint, got %d values", len(header))
	}
	t := Table{Name: strings.TrimSpace(header[0])}
	firstVersion, err := strconv.Atoi(strings.TrimSpace(header[1]))
	if err != nil {
		return Table{}, fmt.Errorf("table %q: parse first version: %w", t.Name, err)
	}
	t.FirstVersion = firstVersion
	if len(header) == 3 {
		t.Constraint = strings.TrimSpace(header[2])
	}

	versions := decl[1:]
	for i, columns := range versions {
		ver := i + 1
		if ver < firstVersion {
			if len(columns) != 0 {
				return Table{}, fmt.Errorf("table %q: columns at version %d before first version %d", t.Name, ver, firstVersion)
			}
			continue
		}
		t.Deltas = append(t.Deltas, columns)
	}
	return t, nil
}

// Declaration is a file representation of a Model.
// Versions[i] of a table holds the column definitions introduced at version FirstVersion+i.
//
//	version: 2
//	tables:
//	  - name: people
//	    firstVersion: 1
//	    versions:
//	      - ["_id INTEGER PRIMARY KEY", "first_name TEXT", "last_name TEXT"]
//	      - ["middle_init TEXT"]
type Declaration struct {
	Version int                `yaml:"version" json:"version"`
	Tables  []TableDeclaration `yaml:"tables" json:"tables"`
}

// TableDeclaration is a file representation of a Table.
type TableDeclaration struct {
	Name         string     `yaml:"name" json:"name"`
	FirstVersion int        `yaml:"firstVersion" json:"firstVersion"`
	Constraint   string     `yaml:"constraint,omitempty" json:"constraint,omitempty"`
	Versions     [][]string `yaml:"versions" json:"versions"`
}

// Model validates the declaration and converts it into a Model.
func (d *Declaration) Model(options ...ModelOption) (*Model, error) {
	tables := make([]Table, 0, len(d.Tables))
	for _, td := range d.Tables {
		tables = append(tables, Table{
			Name:         td.Name,
			FirstVersion: td.FirstVersion,
			Constraint:   td.Constraint,
			Deltas:       td.Versions,
		})
	}
	return NewModel(d.Version, tables, options...)
}

// Load reads a YAML (or JSON) declaration from the reader and builds a Model.
// Unknown fields are rejected.
func Load(r io.Reader, options ...ModelOption) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var decl Declaration
	if err := dec.Decode(&decl); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: declaration is empty", ErrInvalidModel)
		}
		return nil, fmt.Errorf("decode schema declaration: %w", err)
	}
	return decl.Model(options...)
}

// LoadFile reads a declaration from the file.
func LoadFile(path string, options ...ModelOption) (*Model, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, fmt.Errorf("open schema declaration %s: %w", path, err)
	}
	defer f.Close() // nolint: errcheck
	return Load(f, options...)
}

// LoadFS reads a declaration from the file system (e.g. embed.FS).
func LoadFS(fsys fs.FS, path string, options ...ModelOption) (*Model, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema declaration %s: %w", path, err)
	}
	defer f.Close() // nolint: errcheck
	return Load(f, options...)
}
