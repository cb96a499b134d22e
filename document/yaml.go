/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

type yamlFormat struct{}

func (yamlFormat) Name() string { return "yaml" }

func (yamlFormat) Extensions() []string { return []string{".yaml", ".yml"} }

// Encode writes the document as YAML. Values are always strings, NULL is null.
func (yamlFormat) Encode(w io.Writer, d *Document) error {
	b := &yamlBuilder{}
	if err := Walk(d, b); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b.root); err != nil {
		return err
	}
	return enc.Close()
}

func yamlScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

type yamlBuilder struct {
	root   *yaml.Node
	data   *yaml.Node
	table  *yaml.Node
	record *yaml.Node
}

func (b *yamlBuilder) EnterDocument() error {
	b.data = &yaml.Node{Kind: yaml.MappingNode}
	b.root = &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		yamlScalar("!!str", RootElement),
		{Kind: yaml.MappingNode, Content: []*yaml.Node{yamlScalar("!!str", DataElement), b.data}},
	}}
	return nil
}

func (b *yamlBuilder) EnterTable(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("table name %q: %w", name, ErrNotRepresentable)
	}
	b.table = &yaml.Node{Kind: yaml.SequenceNode}
	b.data.Content = append(b.data.Content, yamlScalar("!!str", name), b.table)
	return nil
}

func (b *yamlBuilder) EnterRecord() error {
	b.record = &yaml.Node{Kind: yaml.MappingNode}
	b.table.Content = append(b.table.Content, b.record)
	return nil
}

func (b *yamlBuilder) Field(name string, value *string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("column name %q: %w", name, ErrNotRepresentable)
	}
	valueNode := yamlScalar("!!null", "null")
	if value != nil {
		if !utf8.ValidString(*value) {
			return fmt.Errorf("value of column %s: %w", name, ErrNotRepresentable)
		}
		valueNode = yamlScalar("!!str", *value)
	}
	b.record.Content = append(b.record.Content, yamlScalar("!!str", name), valueNode)
	return nil
}

func (b *yamlBuilder) LeaveRecord() error { return nil }

func (b *yamlBuilder) LeaveTable(string) error { return nil }

func (b *yamlBuilder) LeaveDocument() error { return nil }

// Decode parses the document keeping the order of tables and fields.
// Scalars of any type are kept as text.
func (yamlFormat) Decode(r io.Reader) (*Document, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, malformed(errors.New("empty document"))
		}
		return nil, malformed(err)
	}
	doc := &Document{}
	root := yamlResolve(&node)
	if root.Kind == yaml.DocumentNode && len(root.Content) != 0 {
		root = yamlResolve(root.Content[0])
	}
	if root.Kind != yaml.MappingNode {
		return nil, malformed(errors.New("mapping expected at the document root"))
	}
	export := yamlLookup(root, RootElement)
	if export == nil || export.Kind != yaml.MappingNode {
		return doc, nil
	}
	data := yamlLookup(export, DataElement)
	if data == nil || yamlIsNull(data) {
		return doc, nil
	}
	if data.Kind != yaml.MappingNode {
		return nil, malformed(fmt.Errorf("line %d: %s must be a mapping", data.Line, DataElement))
	}
	for i := 0; i+1 < len(data.Content); i += 2 {
		name := yamlResolve(data.Content[i]).Value
		table := doc.AddTable(name)
		records := yamlResolve(data.Content[i+1])
		if yamlIsNull(records) {
			continue
		}
		if records.Kind != yaml.SequenceNode {
			return nil, malformed(fmt.Errorf("line %d: table %s must be a sequence", records.Line, name))
		}
		for _, recNode := range records.Content {
			rec, err := decodeYAMLRecord(yamlResolve(recNode))
			if err != nil {
				return nil, malformed(fmt.Errorf("table %s: %w", name, err))
			}
			table.Records = append(table.Records, rec)
		}
	}
	return doc, nil
}

func decodeYAMLRecord(node *yaml.Node) (Record, error) {
	var rec Record
	if node.Kind != yaml.MappingNode {
		return rec, fmt.Errorf("line %d: record must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := yamlResolve(node.Content[i])
		value := yamlResolve(node.Content[i+1])
		if value.Kind != yaml.ScalarNode {
			return rec, fmt.Errorf("line %d: field %s: scalar value expected", value.Line, key.Value)
		}
		field := Field{Name: key.Value}
		if !yamlIsNull(value) {
			field.Value = Value(value.Value)
		}
		rec.Fields = append(rec.Fields, field)
	}
	return rec, nil
}

func yamlResolve(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

func yamlIsNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}

func yamlLookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if yamlResolve(mapping.Content[i]).Value == key {
			return yamlResolve(mapping.Content[i+1])
		}
	}
	return nil
}
