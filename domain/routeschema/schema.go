// Package routeschema provides the route table types published by the REST
// layer and the index used to find the schema governing a resource route.
package routeschema

import (
	"encoding/json"
	"fmt"
)

// JSON schema type names used by the REST layer.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// Formats with dedicated handling.
const (
	FormatURI      = "uri"
	FormatEmail    = "email"
	FormatDateTime = "date-time"
)

// Types is a schema "type" keyword. It accepts either a single type name or
// a list of names in JSON.
type Types []string

// UnmarshalJSON accepts "string" as well as ["string", "null"].
func (t *Types) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = Types{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("schema type must be a string or list of strings: %w", err)
	}
	*t = Types(list)
	return nil
}

// MarshalJSON writes a single type as a plain string.
func (t Types) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Has reports whether the type list contains name.
func (t Types) Has(name string) bool {
	for _, n := range t {
		if n == name {
			return true
		}
	}
	return false
}

// Primary returns the first non-null type, or "" when none is declared.
func (t Types) Primary() string {
	for _, n := range t {
		if n != TypeNull {
			return n
		}
	}
	return ""
}

// FieldSchema describes one resource property.
type FieldSchema struct {
	Type        Types                   `json:"type,omitempty"`
	Format      string                  `json:"format,omitempty"`
	Enum        []string                `json:"enum,omitempty"`
	Pattern     string                  `json:"pattern,omitempty"`
	Minimum     *float64                `json:"minimum,omitempty"`
	Maximum     *float64                `json:"maximum,omitempty"`
	MinLength   *int                    `json:"minLength,omitempty"`
	MaxLength   *int                    `json:"maxLength,omitempty"`
	ReadOnly    bool                    `json:"readonly,omitempty"`
	Default     any                     `json:"default,omitempty"`
	Description string                  `json:"description,omitempty"`
	Context     []string                `json:"context,omitempty"`
	Properties  map[string]*FieldSchema `json:"properties,omitempty"`
	Items       *FieldSchema            `json:"items,omitempty"`
}

// IsDateTime reports whether the field carries a date-time format.
func (f *FieldSchema) IsDateTime() bool {
	return f != nil && f.Format == FormatDateTime
}

// RawSchema returns the "raw" sub-property schema of an object field, or nil.
func (f *FieldSchema) RawSchema() *FieldSchema {
	if f == nil || !f.Type.Has(TypeObject) {
		return nil
	}
	return f.Properties["raw"]
}

// Schema is the item schema of a route.
type Schema struct {
	Schema     string                  `json:"$schema,omitempty"`
	Title      string                  `json:"title,omitempty"`
	Type       Types                   `json:"type,omitempty"`
	Properties map[string]*FieldSchema `json:"properties"`
}

// Field returns the schema of a top-level property.
func (s *Schema) Field(name string) *FieldSchema {
	if s == nil {
		return nil
	}
	return s.Properties[name]
}

// RouteSchema is one entry of the published route table.
type RouteSchema struct {
	Pattern string   `json:"pattern"`
	Methods []string `json:"methods,omitempty"`
	Schema  *Schema  `json:"schema,omitempty"`
}

// RouteTable is the document the REST layer publishes at its index route.
type RouteTable struct {
	Namespaces []string      `json:"namespaces"`
	Routes     []RouteSchema `json:"routes"`
}
