package formatter

import (
	"encoding/json"
	"io"
)

// JSON formats records as an indented JSON document.
type JSON struct{}

// Name returns the formatter name.
func (JSON) Name() string {
	return "json"
}

// FormatList writes {"count": n, "data": [...]}.
func (JSON) FormatList(w io.Writer, columns []string, records []map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(map[string]any{
		"count": len(records),
		"data":  project(columns, records),
	})
}
