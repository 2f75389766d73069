package formatter

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAML formats records as a YAML document.
type YAML struct{}

// Name returns the formatter name.
func (YAML) Name() string {
	return "yaml"
}

// FormatList writes the same shape as the JSON formatter.
func (YAML) FormatList(w io.Writer, columns []string, records []map[string]any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{
		"count": len(records),
		"data":  project(columns, records),
	}); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	return enc.Close()
}
