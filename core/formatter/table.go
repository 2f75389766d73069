package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table formats records as an aligned text table.
type Table struct {
	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

// Name returns the formatter name.
func (Table) Name() string {
	return "table"
}

// FormatList formats records as a table with an upper-case header row.
func (f Table) FormatList(w io.Writer, columns []string, records []map[string]any) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = strings.ToUpper(col)
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, record := range records {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = f.formatValue(record[col])
		}
		fmt.Fprintln(tw, strings.Join(values, "\t"))
	}

	return tw.Flush()
}

// formatValue formats a value for display.
func (f Table) formatValue(val any) string {
	if val == nil {
		return "-"
	}

	var str string
	switch v := val.(type) {
	case string:
		str = v
	case []string:
		str = strings.Join(v, ",")
	case bool:
		if v {
			str = "yes"
		} else {
			str = "no"
		}
	case int:
		str = fmt.Sprintf("%d", v)
	case float64:
		if v == float64(int64(v)) {
			str = fmt.Sprintf("%d", int64(v))
		} else {
			str = fmt.Sprintf("%.2f", v)
		}
	default:
		b, _ := json.Marshal(v)
		str = string(b)
	}

	if f.MaxWidth > 3 && len(str) > f.MaxWidth {
		str = str[:f.MaxWidth-3] + "..."
	}
	return str
}
