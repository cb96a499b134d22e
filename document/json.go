/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"
)

type jsonFormat struct{}

func (jsonFormat) Name() string { return "json" }

func (jsonFormat) Extensions() []string { return []string{".json"} }

// Encode writes the document as indented JSON. Tables are arrays of objects, NULL is null.
func (jsonFormat) Encode(w io.Writer, d *Document) error {
	enc := &jsonEncoder{}
	if err := Walk(d, enc); err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, enc.buf.Bytes(), "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

// jsonEncoder writes compact JSON. The first element of a container is not preceded by a comma.
type jsonEncoder struct {
	buf   bytes.Buffer
	first bool
}

func (e *jsonEncoder) key(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("name %q: %w", name, ErrNotRepresentable)
	}
	if !e.first {
		e.buf.WriteByte(',')
	}
	e.first = false
	b, err := json.Marshal(name)
	if err != nil {
		return err
	}
	e.buf.Write(b)
	e.buf.WriteByte(':')
	return nil
}

func (e *jsonEncoder) EnterDocument() error {
	e.buf.WriteString(`{"` + RootElement + `":{"` + DataElement + `":{`)
	e.first = true
	return nil
}

func (e *jsonEncoder) EnterTable(name string) error {
	if err := e.key(name); err != nil {
		return err
	}
	e.buf.WriteByte('[')
	e.first = true
	return nil
}

func (e *jsonEncoder) EnterRecord() error {
	if !e.first {
		e.buf.WriteByte(',')
	}
	e.buf.WriteByte('{')
	e.first = true
	return nil
}

func (e *jsonEncoder) Field(name string, value *string) error {
	if err := e.key(name); err != nil {
		return err
	}
	if value == nil {
		e.buf.WriteString("null")
		return nil
	}
	if !utf8.ValidString(*value) {
		return fmt.Errorf("value of column %s: %w", name, ErrNotRepresentable)
	}
	b, err := json.Marshal(*value)
	if err != nil {
		return err
	}
	e.buf.Write(b)
	return nil
}

func (e *jsonEncoder) LeaveRecord() error {
	e.buf.WriteByte('}')
	e.first = false
	return nil
}

func (e *jsonEncoder) LeaveTable(string) error {
	e.buf.WriteByte(']')
	e.first = false
	return nil
}

func (e *jsonEncoder) LeaveDocument() error {
	e.buf.WriteString("}}}")
	return nil
}

// Decode parses the document keeping the order of tables and fields.
// Numbers and booleans are accepted as field values and kept as text.
func (jsonFormat) Decode(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	doc := &Document{}
	err := decodeJSONObject(dec, func(key string) error {
		if key != RootElement {
			return skipJSONValue(dec)
		}
		return decodeJSONRoot(dec, doc)
	})
	if err != nil {
		return nil, malformed(err)
	}
	if _, err = dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed(errors.New("unexpected data after the document"))
	}
	return doc, nil
}

func decodeJSONRoot(dec *json.Decoder, doc *Document) error {
	var sawData bool
	return decodeJSONObject(dec, func(key string) error {
		if key != DataElement || sawData {
			return skipJSONValue(dec)
		}
		sawData = true
		return decodeJSONObject(dec, func(table string) error {
			t := doc.AddTable(table)
			return decodeJSONArray(dec, func() error {
				rec, err := decodeJSONRecord(dec)
				if err != nil {
					return fmt.Errorf("table %s: %w", table, err)
				}
				t.Records = append(t.Records, rec)
				return nil
			})
		})
	})
}

func decodeJSONRecord(dec *json.Decoder) (Record, error) {
	var rec Record
	err := decodeJSONObject(dec, func(key string) error {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		var value *string
		switch v := tok.(type) {
		case nil:
		case string:
			value = Value(v)
		case json.Number:
			value = Value(v.String())
		case bool:
			value = Value(strconv.FormatBool(v))
		default:
			return fmt.Errorf("field %s: scalar value expected", key)
		}
		rec.Fields = append(rec.Fields, Field{Name: key, Value: value})
		return nil
	})
	return rec, err
}

// decodeJSONObject reads an object calling fn for each key; fn must consume the value.
// A null is treated as an empty object.
func decodeJSONObject(dec *json.Decoder, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return jsonEOF(err)
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("object expected, got %v", tok)
	}
	for dec.More() {
		if tok, err = dec.Token(); err != nil {
			return jsonEOF(err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key expected, got %v", tok)
		}
		if err = fn(key); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return jsonEOF(err)
}

// decodeJSONArray reads an array calling fn for each element; fn must consume the element.
// A null is treated as an empty array.
func decodeJSONArray(dec *json.Decoder, fn func() error) error {
	tok, err := dec.Token()
	if err != nil {
		return jsonEOF(err)
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("array expected, got %v", tok)
	}
	for dec.More() {
		if err = fn(); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return jsonEOF(err)
}

func skipJSONValue(dec *json.Decoder) error {
	var depth int
	for {
		tok, err := dec.Token()
		if err != nil {
			return jsonEOF(err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func jsonEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
