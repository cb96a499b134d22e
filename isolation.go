/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acronis/go-appkit/config"
	"gopkg.in/yaml.v3"
)

// IsolationLevel is a transaction isolation level that can be decoded from its human-readable name
// ("Read Committed", "Serializable", ...) in YAML, JSON and mapstructure-based configs.
type IsolationLevel sql.IsolationLevel

var txIsolationLevelsByName = func() map[string]IsolationLevel {
	levels := []sql.IsolationLevel{
		sql.LevelReadUncommitted,
		sql.LevelReadCommitted,
		sql.LevelRepeatableRead,
		sql.LevelSerializable,
	}
	m := make(map[string]IsolationLevel, len(levels))
	for _, level := range levels {
		m[level.String()] = IsolationLevel(level)
	}
	return m
}()

func parseIsolationLevel(s string) (IsolationLevel, error) {
	level, ok := txIsolationLevelsByName[s]
	if !ok {
		return IsolationLevel(sql.LevelDefault), fmt.Errorf("invalid isolation level: %s", s)
	}
	return level, nil
}

func getIsolationLevel(dp config.DataProvider, key string) (IsolationLevel, error) {
	s, err := dp.GetString(key)
	if err != nil {
		return IsolationLevel(sql.LevelDefault), err
	}
	level, err := parseIsolationLevel(s)
	if err != nil {
		return level, dp.WrapKeyErr(key, err)
	}
	return level, nil
}

// String returns the human-readable string representation.
// Implements fmt.Stringer interface.
func (il IsolationLevel) String() string {
	return sql.IsolationLevel(il).String()
}

// UnmarshalJSON allows decoding string representation of isolation level from JSON.
func (il *IsolationLevel) UnmarshalJSON(data []byte) error {
	return il.UnmarshalText([]byte(strings.Trim(string(data), `"`)))
}

// UnmarshalYAML allows decoding from YAML.
func (il *IsolationLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid isolation level: %w", err)
	}
	return il.UnmarshalText([]byte(s))
}

// UnmarshalText allows decoding from text.
// It's used by mapstructure.TextUnmarshallerHookFunc.
func (il *IsolationLevel) UnmarshalText(text []byte) error {
	level, err := parseIsolationLevel(string(text))
	if err != nil {
		return err
	}
	*il = level
	return nil
}

// MarshalJSON encodes as a human-readable string in JSON.
func (il IsolationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(il.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
func (il IsolationLevel) MarshalYAML() (interface{}, error) {
	return il.String(), nil
}

// MarshalText encodes as a human-readable string in text.
func (il IsolationLevel) MarshalText() ([]byte, error) {
	return []byte(il.String()), nil
}
