/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/acronis/go-schemakit/internal/catalog"
	"github.com/acronis/go-schemakit/schema"
)

// Action is a kind of schema transition.
type Action string

// Schema transitions.
const (
	ActionNone      Action = "none"
	ActionCreate    Action = "create"
	ActionUpgrade   Action = "upgrade"
	ActionDowngrade Action = "downgrade"
)

// Step is a named group of DDL statements executed in order.
type Step struct {
	ID         string
	Statements []string
}

// Plan is a list of steps that moves the database schema from one version to another.
// From is zero for ActionCreate.
type Plan struct {
	Action Action
	From   int
	To     int
	Steps  []Step
}

// StatementsCount returns the total number of statements in the plan.
func (p *Plan) StatementsCount() int {
	var n int
	for _, step := range p.Steps {
		n += len(step.Statements)
	}
	return n
}

// String renders the plan as a human-readable SQL script.
func (p *Plan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "-- %s %d -> %d\n", p.Action, p.From, p.To)
	for _, step := range p.Steps {
		fmt.Fprintf(&sb, "-- %s\n", step.ID)
		for _, stmt := range step.Statements {
			sb.WriteString(stmt)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// planCreate creates every table that exists at the version.
func (e *Engine) planCreate(version int) *Plan {
	p := &Plan{Action: ActionCreate, To: version}
	for _, t := range e.model.Tables() {
		if stmt, ok := e.builder.CreateTable(t, version); ok {
			p.Steps = append(p.Steps, Step{ID: "create/" + t.Name, Statements: []string{stmt}})
		}
	}
	return p
}

// planUpgrade adds columns introduced in (from, to] to tables that existed at from,
// and creates tables introduced later.
func (e *Engine) planUpgrade(from, to int) *Plan {
	p := &Plan{Action: ActionUpgrade, From: from, To: to}
	for _, t := range e.model.Tables() {
		if t.FirstVersion <= from {
			if stmts := e.builder.AddColumns(t, from, to); len(stmts) != 0 {
				p.Steps = append(p.Steps, Step{ID: "upgrade/" + t.Name, Statements: stmts})
			}
			continue
		}
		if stmt, ok := e.builder.CreateTable(t, to); ok {
			p.Steps = append(p.Steps, Step{ID: "create/" + t.Name, Statements: []string{stmt}})
		}
	}
	return p
}

// planDowngrade renames every live table to a temporary name, recreates the tables at the target version,
// copies the columns that survive the downgrade and drops the temporary tables.
// Tables are recreated parents first and temporary tables are dropped children first,
// following the foreign keys of the live tables.
func (e *Engine) planDowngrade(ctx context.Context, q Execer, from, to int) (*Plan, error) {
	allTables, err := e.catalog.Tables(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	liveTables := catalog.Exclude(allTables, append([]string{e.store.TableName()}, e.excluded...))

	p := &Plan{Action: ActionDowngrade, From: from, To: to}

	renames := Step{ID: "rename"}
	liveColumns := make(map[string][]string, len(liveTables))
	references := make(map[string][]string, len(liveTables))
	referencedBy := make(map[string][]string, len(liveTables))
	for _, name := range liveTables {
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(e.tempPrefix)) {
			return nil, fmt.Errorf("table %s: %w", name, ErrTempTableExists)
		}
		tmpName := e.tempPrefix + name
		if catalog.Contains(allTables, tmpName) {
			return nil, fmt.Errorf("table %s: %w", tmpName, ErrTempTableExists)
		}
		columns, colErr := e.catalog.Columns(ctx, q, name)
		if colErr != nil {
			return nil, colErr
		}
		liveColumns[strings.ToLower(name)] = columns
		parents, refErr := e.catalog.ReferencedTables(ctx, q, name)
		if refErr != nil {
			return nil, refErr
		}
		references[strings.ToLower(name)] = parents
		for _, parent := range parents {
			referencedBy[strings.ToLower(parent)] = append(referencedBy[strings.ToLower(parent)], name)
		}
		renames.Statements = append(renames.Statements, e.builder.RenameTable(name, tmpName))
		if _, ok := e.model.Lookup(name); !ok {
			e.logger.Warn(fmt.Sprintf("Table %s is not declared in the schema and will be dropped by the downgrade", name))
		}
	}
	if len(renames.Statements) != 0 {
		p.Steps = append(p.Steps, renames)
	}

	modelTables := make(map[string]schema.Table, len(e.model.Tables()))
	modelNames := make([]string, 0, len(e.model.Tables()))
	for _, t := range e.model.Tables() {
		modelTables[strings.ToLower(t.Name)] = t
		modelNames = append(modelNames, t.Name)
	}
	for _, name := range catalog.SortByDependencies(modelNames, references) {
		t := modelTables[strings.ToLower(name)]
		createStmt, ok := e.builder.CreateTable(t, to)
		if !ok {
			continue
		}
		step := Step{ID: "recreate/" + t.Name, Statements: []string{createStmt}}
		if present, existed := liveColumns[strings.ToLower(t.Name)]; existed {
			columns := intersectColumns(t.ColumnNamesAt(to), present)
			copyStmt, copyErr := e.builder.CopyRows(t.Name, e.tempPrefix+liveTableName(liveTables, t.Name), columns)
			if copyErr != nil {
				return nil, copyErr
			}
			step.Statements = append(step.Statements, copyStmt)
		}
		p.Steps = append(p.Steps, step)
	}

	drops := Step{ID: "drop"}
	for _, name := range catalog.SortByDependencies(liveTables, referencedBy) {
		drops.Statements = append(drops.Statements, e.builder.DropTable(e.tempPrefix+name))
	}
	if len(drops.Statements) != 0 {
		p.Steps = append(p.Steps, drops)
	}
	return p, nil
}

// intersectColumns returns the declared columns that are present in the live table, in declaration order.
func intersectColumns(declared, present []string) []string {
	var result []string
	for _, name := range declared {
		if catalog.Contains(present, name) {
			result = append(result, name)
		}
	}
	return result
}

// liveTableName returns the table name as reported by the database.
func liveTableName(liveTables []string, name string) string {
	for _, t := range liveTables {
		if strings.EqualFold(t, name) {
			return t
		}
	}
	return name
}
