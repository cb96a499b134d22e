/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import "strings"

// Element names of the document tree.
const (
	RootElement   = "Application_Export"
	DataElement   = "Data"
	RecordElement = "record"
)

// Document is an in-memory snapshot of database rows grouped by table.
type Document struct {
	Tables []*Table
}

// Table is a named list of records.
type Table struct {
	Name    string
	Records []Record
}

// Record is one row: an ordered list of named fields.
type Record struct {
	Fields []Field
}

// Field is a column value. A nil Value stands for NULL.
type Field struct {
	Name  string
	Value *string
}

// Value returns a pointer to a copy of s. It is handy for building records by hand.
func Value(s string) *string {
	return &s
}

// Table returns the table with the name. Exact match wins over a case-insensitive one.
func (d *Document) Table(name string) (*Table, bool) {
	var folded *Table
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
		if folded == nil && strings.EqualFold(t.Name, name) {
			folded = t
		}
	}
	return folded, folded != nil
}

// AddTable appends an empty table to the document or returns the existing one with the same name.
func (d *Document) AddTable(name string) *Table {
	for _, t := range d.Tables {
		if t.Name == name {
			return t
		}
	}
	t := &Table{Name: name}
	d.Tables = append(d.Tables, t)
	return t
}

// RecordsCount returns the total number of records in the document.
func (d *Document) RecordsCount() int {
	var n int
	for _, t := range d.Tables {
		n += len(t.Records)
	}
	return n
}

// Lookup returns the value of the first field with the name.
// Exact match wins over a case-insensitive one.
func (r Record) Lookup(name string) (value *string, ok bool) {
	folded := -1
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return r.Fields[i].Value, true
		}
		if folded < 0 && strings.EqualFold(r.Fields[i].Name, name) {
			folded = i
		}
	}
	if folded < 0 {
		return nil, false
	}
	return r.Fields[folded].Value, true
}

// Visitor is called by Walk for every node of the document tree in document order.
// Returning an error stops the walk.
type Visitor interface {
	EnterDocument() error
	EnterTable(name string) error
	EnterRecord() error
	Field(name string, value *string) error
	LeaveRecord() error
	LeaveTable(name string) error
	LeaveDocument() error
}

// Walk traverses the document depth-first.
func Walk(d *Document, v Visitor) error {
	if err := v.EnterDocument(); err != nil {
		return err
	}
	for _, t := range d.Tables {
		if err := v.EnterTable(t.Name); err != nil {
			return err
		}
		for _, r := range t.Records {
			if err := v.EnterRecord(); err != nil {
				return err
			}
			for _, f := range r.Fields {
				if err := v.Field(f.Name, f.Value); err != nil {
					return err
				}
			}
			if err := v.LeaveRecord(); err != nil {
				return err
			}
		}
		if err := v.LeaveTable(t.Name); err != nil {
			return err
		}
	}
	return v.LeaveDocument()
}
