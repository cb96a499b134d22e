/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Elements used for tables and columns whose names are not valid XML names.
// The original name is kept in the NameAttr attribute, e.g. <field name="first name">Ada</field>.
const (
	TableElement = "table"
	FieldElement = "field"
	NameAttr     = "name"
)

type xmlFormat struct{}

func (xmlFormat) Name() string { return "xml" }

func (xmlFormat) Extensions() []string { return []string{".xml"} }

// Encode writes the document as compact XML with the UTF-8 declaration.
// NULL and empty values both become empty elements.
// Tables and columns whose names are not valid XML names are written as TableElement and FieldElement
// elements carrying the name in NameAttr.
// A value or a name that XML 1.0 cannot carry (invalid UTF-8, control characters other than
// tab, newline and carriage return) fails the encoding with ErrNotRepresentable and nothing is written.
func (xmlFormat) Encode(w io.Writer, d *Document) error {
	var buf bytes.Buffer
	if err := Walk(d, &xmlEncoder{enc: xml.NewEncoder(&buf)}); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

type xmlEncoder struct {
	enc   *xml.Encoder
	table string
}

// element returns the element for the table or the column name, fallback is used for invalid XML names.
func element(name, fallback string) xml.StartElement {
	if isXMLName(name) {
		return xml.StartElement{Name: xml.Name{Local: name}}
	}
	return xml.StartElement{Name: xml.Name{Local: fallback}, Attr: []xml.Attr{{Name: xml.Name{Local: NameAttr}, Value: name}}}
}

func (e *xmlEncoder) start(name string) error {
	return e.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}})
}

func (e *xmlEncoder) end(name string) error {
	return e.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (e *xmlEncoder) EnterDocument() error {
	if err := e.enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}); err != nil {
		return err
	}
	if err := e.start(RootElement); err != nil {
		return err
	}
	return e.start(DataElement)
}

func (e *xmlEncoder) EnterTable(name string) error {
	if !isXMLText(name) {
		return fmt.Errorf("table name %q: %w", name, ErrNotRepresentable)
	}
	e.table = name
	return e.enc.EncodeToken(element(name, TableElement))
}

func (e *xmlEncoder) EnterRecord() error { return e.start(RecordElement) }

func (e *xmlEncoder) Field(name string, value *string) error {
	if !isXMLText(name) {
		return fmt.Errorf("table %s: column name %q: %w", e.table, name, ErrNotRepresentable)
	}
	if value != nil && !isXMLText(*value) {
		return fmt.Errorf("table %s: value of column %s: %w", e.table, name, ErrNotRepresentable)
	}
	start := element(name, FieldElement)
	if err := e.enc.EncodeToken(start); err != nil {
		return err
	}
	if value != nil && *value != "" {
		if err := e.enc.EncodeToken(xml.CharData(*value)); err != nil {
			return err
		}
	}
	return e.enc.EncodeToken(start.End())
}

func (e *xmlEncoder) LeaveRecord() error { return e.end(RecordElement) }

func (e *xmlEncoder) LeaveTable(name string) error {
	return e.enc.EncodeToken(element(name, TableElement).End())
}

func (e *xmlEncoder) LeaveDocument() error {
	if err := e.end(DataElement); err != nil {
		return err
	}
	if err := e.end(RootElement); err != nil {
		return err
	}
	return e.enc.Flush()
}

// Decode reads the first Data element found anywhere in the document.
// The whole input must be well-formed XML with a root element.
func (xmlFormat) Decode(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}
	var sawRoot, sawData bool
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Local != DataElement || sawData {
			continue
		}
		sawData = true
		if err = decodeXMLData(dec, doc); err != nil {
			return nil, malformed(err)
		}
	}
	if !sawRoot {
		return nil, malformed(errors.New("no root element"))
	}
	return doc, nil
}

func decodeXMLData(dec *xml.Decoder, doc *Document) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err = decodeXMLTable(dec, doc.AddTable(xmlElementName(t, TableElement))); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func decodeXMLTable(dec *xml.Decoder, table *Table) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != RecordElement {
				if err = dec.Skip(); err != nil {
					return err
				}
				continue
			}
			rec, recErr := decodeXMLRecord(dec)
			if recErr != nil {
				return recErr
			}
			table.Records = append(table.Records, rec)
		case xml.EndElement:
			return nil
		}
	}
}

func decodeXMLRecord(dec *xml.Decoder) (Record, error) {
	var rec Record
	for {
		tok, err := dec.Token()
		if err != nil {
			return rec, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := xmlElementName(t, FieldElement)
			value, valErr := decodeXMLValue(dec)
			if valErr != nil {
				return rec, fmt.Errorf("field %s: %w", name, valErr)
			}
			rec.Fields = append(rec.Fields, Field{Name: name, Value: value})
		case xml.EndElement:
			return rec, nil
		}
	}
}

// decodeXMLValue returns the text of the current element; nested elements are ignored.
func decodeXMLValue(dec *xml.Decoder) (*string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err = dec.Skip(); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if sb.Len() == 0 {
				return nil, nil
			}
			return Value(sb.String()), nil
		}
	}
}

// xmlElementName returns the table or column name of the element: the NameAttr attribute
// of a fallback element, the element name otherwise.
func xmlElementName(start xml.StartElement, fallback string) string {
	if start.Name.Local == fallback {
		for _, attr := range start.Attr {
			if attr.Name.Space == "" && attr.Name.Local == NameAttr {
				return attr.Value
			}
		}
	}
	return start.Name.Local
}

// isXMLName reports whether the name can be used as an element name as is.
// Colons are rejected since they denote namespace prefixes.
func isXMLName(name string) bool {
	if name == "" || !utf8.ValidString(name) {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc)):
		default:
			return false
		}
	}
	return true
}

// isXMLText reports whether every character of s is allowed in XML 1.0 documents.
func isXMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}
