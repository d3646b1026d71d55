package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value interface{}) error {
	data, ok := scanBytes(value)
	if !ok {
		*s = nil
		return nil
	}
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

// JSONMap stores an opaque JSON object in a TEXT column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 || string(data) == "null" {
		*m = nil
		return nil
	}
	out := make(JSONMap)
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	*m = out
	return nil
}

func scanBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}
