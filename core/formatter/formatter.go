// Package formatter renders command output as a table, JSON or YAML.
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Formatter writes a list of records in one output format.
type Formatter interface {
	// Name returns the formatter name used on the command line.
	Name() string

	// FormatList writes records restricted to columns, in column order for
	// formats that have one.
	FormatList(w io.Writer, columns []string, records []map[string]any) error
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
}

// NewRegistry creates a registry holding the table, json and yaml formatters.
func NewRegistry() *Registry {
	r := &Registry{formatters: make(map[string]Formatter)}
	for _, f := range []Formatter{Table{}, JSON{}, YAML{}} {
		r.formatters[f.Name()] = f
	}
	return r
}

// Register adds a formatter.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}
	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q", name)
	}
	return f, nil
}

// List returns the registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// project keeps the requested columns of each record.
func project(columns []string, records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			if v, ok := rec[col]; ok {
				row[col] = v
			}
		}
		out[i] = row
	}
	return out
}
