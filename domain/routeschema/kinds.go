package routeschema

import (
	"sort"
	"strings"
)

// Kind tags how a resource property is edited.
type Kind string

const (
	KindPlain       Kind = "plain"        // Edited as-is
	KindRawRendered Kind = "raw-rendered" // Object with raw source and derived rendered form
	KindGMTTwin     Kind = "gmt-twin"     // <base>_gmt derived from a date-time sibling
)

// GMTSuffix marks a property derived from its date-time sibling.
const GMTSuffix = "_gmt"

// FieldDescriptor is the precomputed edit policy for one property.
type FieldDescriptor struct {
	Name   string
	Kind   Kind
	Schema *FieldSchema

	// Raw is the raw sub-schema of a raw/rendered pair.
	Raw *FieldSchema

	// Base is the date-time sibling of a GMT twin.
	Base string
}

// ReadOnly reports whether the property may be edited directly.
func (d FieldDescriptor) ReadOnly() bool {
	if d.Kind == KindGMTTwin {
		return true
	}
	return d.Schema != nil && d.Schema.ReadOnly
}

// Describe tags every property of a schema. Properties are returned sorted by
// name.
func Describe(s *Schema) []FieldDescriptor {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]FieldDescriptor, 0, len(names))
	for _, name := range names {
		fs := s.Properties[name]
		d := FieldDescriptor{Name: name, Kind: KindPlain, Schema: fs}

		if raw := fs.RawSchema(); raw != nil {
			d.Kind = KindRawRendered
			d.Raw = raw
		} else if base, ok := strings.CutSuffix(name, GMTSuffix); ok && base != "" {
			if s.Properties[base].IsDateTime() {
				d.Kind = KindGMTTwin
				d.Base = base
			}
		}
		out = append(out, d)
	}
	return out
}

// DefaultValue derives a property default: its own default when declared,
// otherwise an object of defaults of its nested properties, otherwise nil.
func DefaultValue(fs *FieldSchema) any {
	if fs == nil {
		return nil
	}
	if fs.Default != nil {
		return fs.Default
	}
	if len(fs.Properties) > 0 {
		obj := make(map[string]any, len(fs.Properties))
		for name, sub := range fs.Properties {
			obj[name] = DefaultValue(sub)
		}
		return obj
	}
	return nil
}

// Defaults derives the default value of every top-level property.
func Defaults(s *Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any, len(s.Properties))
	for name, fs := range s.Properties {
		out[name] = DefaultValue(fs)
	}
	return out
}
