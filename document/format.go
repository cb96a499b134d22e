/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrMalformed is returned when a document cannot be parsed.
var ErrMalformed = errors.New("malformed document")

// ErrNotRepresentable is returned when a table name, a column name or a value cannot be encoded
// in the format without loss, e.g. binary data that is not valid UTF-8.
var ErrNotRepresentable = errors.New("not representable in the document format")

// ErrUnknownFormat is returned when no format is registered under the name or file extension.
var ErrUnknownFormat = errors.New("unknown document format")

// Format serializes documents.
type Format interface {
	// Name is the name the format is registered under (e.g. "xml").
	Name() string
	// Extensions lists file extensions (with the leading dot) the format is chosen for.
	Extensions() []string
	Encode(w io.Writer, d *Document) error
	// Decode parses the document. Documents without a data section decode into an empty Document.
	// Parse errors wrap ErrMalformed.
	Decode(r io.Reader) (*Document, error)
}

// Built-in formats.
var (
	XML  Format = xmlFormat{}
	JSON Format = jsonFormat{}
	YAML Format = yamlFormat{}
)

var formats = struct {
	sync.RWMutex
	byName map[string]Format
}{byName: map[string]Format{}}

func init() {
	RegisterFormat(XML)
	RegisterFormat(JSON)
	RegisterFormat(YAML)
}

// RegisterFormat makes the format available by its name and extensions. It replaces a format with the same name.
func RegisterFormat(f Format) {
	formats.Lock()
	defer formats.Unlock()
	formats.byName[strings.ToLower(f.Name())] = f
}

// FormatByName returns the registered format with the name.
func FormatByName(name string) (Format, error) {
	formats.RLock()
	defer formats.RUnlock()
	if f, ok := formats.byName[strings.ToLower(name)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// FormatForPath returns the registered format for the extension of the file path.
func FormatForPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	formats.RLock()
	defer formats.RUnlock()
	for _, name := range sortedFormatNames() {
		f := formats.byName[name]
		for _, fext := range f.Extensions() {
			if strings.EqualFold(fext, ext) {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: file extension %q", ErrUnknownFormat, ext)
}

// FormatNames returns names of all registered formats sorted alphabetically.
func FormatNames() []string {
	formats.RLock()
	defer formats.RUnlock()
	return sortedFormatNames()
}

func sortedFormatNames() []string {
	names := make([]string, 0, len(formats.byName))
	for name := range formats.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func malformed(err error) error {
	if errors.Is(err, ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}
