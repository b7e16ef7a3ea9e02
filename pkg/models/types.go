// Package models defines the domain entities shared across the pipeline:
// flows and their inputs/outputs, user mappings, discussions, jobs, and
// created-task records.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SystemIdentity is the reserved literal stamped into created_by/updated_by
// for automated writes.
const SystemIdentity = "system"

// SourceType identifies the upstream platform a discussion originates from.
type SourceType string

// Supported source types.
const (
	SourceTypeChat        SourceType = "chat"
	SourceTypeDesignEmail SourceType = "design-email"
)

// Valid reports whether the source type is one of the supported values.
func (s SourceType) Valid() bool {
	return s == SourceTypeChat || s == SourceTypeDesignEmail
}

// AuditFields carries the bookkeeping columns present on every table.
type AuditFields struct {
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
}

// StringList is a []string stored as a JSONB column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return json.Unmarshal(data, l)
}

// JSONMap is a map[string]any stored as a JSONB column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}

// DecodeInto unmarshals the map into a typed struct via a JSON round-trip.
func (m JSONMap) DecodeInto(v any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// GetString returns the string value for key, or "" when absent or not a string.
func (m JSONMap) GetString(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
