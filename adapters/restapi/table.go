package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// ErrInvalidTable is returned for route table files that cannot be served.
var ErrInvalidTable = errors.New("invalid route table")

// Table declares the resource types served under one namespace.
type Table struct {
	Namespace string    `json:"namespace"`
	Types     []TypeDef `json:"types"`
}

// TypeDef is one resource type. It yields a collection route
// /<namespace>/<base> and an item route /<namespace>/<base>/<id>.
type TypeDef struct {
	Base   string             `json:"base"`
	Schema routeschema.Schema `json:"schema"`
	Links  []LinkDef          `json:"links,omitempty"`

	// Seed lists the resources the seed command stores. Each needs a
	// numeric id.
	Seed []resource.Resource `json:"seed,omitempty"`
}

// LinkDef declares a relation from a property holding the id of another
// resource.
type LinkDef struct {
	Rel        string `json:"rel"`
	Base       string `json:"base"`
	Field      string `json:"field"`
	Embeddable bool   `json:"embeddable,omitempty"`
}

// ParseTable parses a route table. The input is JSON extended with comments
// and trailing commas.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(jsonc.ToJSON(data), &t); err != nil {
		return nil, fmt.Errorf("parsing route table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTable reads and parses a route table file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Validate checks the table for structural errors.
func (t *Table) Validate() error {
	t.Namespace = strings.Trim(t.Namespace, "/")
	if t.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidTable)
	}
	if len(t.Types) == 0 {
		return fmt.Errorf("%w: no resource types", ErrInvalidTable)
	}

	bases := make(map[string]bool, len(t.Types))
	for i := range t.Types {
		typ := &t.Types[i]
		typ.Base = strings.Trim(typ.Base, "/")
		if typ.Base == "" || strings.ContainsAny(typ.Base, "/[]()") {
			return fmt.Errorf("%w: type %d has invalid base %q", ErrInvalidTable, i, typ.Base)
		}
		if bases[typ.Base] {
			return fmt.Errorf("%w: duplicate base %q", ErrInvalidTable, typ.Base)
		}
		bases[typ.Base] = true
		if len(typ.Schema.Properties) == 0 {
			return fmt.Errorf("%w: %s: schema has no properties", ErrInvalidTable, typ.Base)
		}
	}

	for _, typ := range t.Types {
		for _, link := range typ.Links {
			if link.Rel == "" || link.Field == "" {
				return fmt.Errorf("%w: %s: link needs rel and field", ErrInvalidTable, typ.Base)
			}
			if !bases[link.Base] {
				return fmt.Errorf("%w: %s: link %s targets unknown base %q", ErrInvalidTable, typ.Base, link.Rel, link.Base)
			}
		}
		for i, r := range typ.Seed {
			if _, ok := seedID(r); !ok {
				return fmt.Errorf("%w: %s: seed %d has no numeric id", ErrInvalidTable, typ.Base, i)
			}
		}
	}
	return nil
}

// Type returns the type with the given base.
func (t *Table) Type(base string) (*TypeDef, bool) {
	for i := range t.Types {
		if t.Types[i].Base == base {
			return &t.Types[i], true
		}
	}
	return nil, false
}

func seedID(r resource.Resource) (int64, bool) {
	switch v := r["id"].(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), true
		}
	case int:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	}
	return 0, false
}
