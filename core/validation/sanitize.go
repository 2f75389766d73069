package validation

import (
	"math"
	"strconv"
	"strings"

	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// Sanitize coerces value toward the field's declared type. Values that
// cannot be coerced are returned unchanged so that validation reports them.
// This is a PURE function.
func Sanitize(fs *routeschema.FieldSchema, value any) any {
	if fs == nil || value == nil {
		return value
	}

	switch fs.Type.Primary() {
	case routeschema.TypeInteger:
		if n, ok := toNumber(value); ok {
			return math.Trunc(n)
		}
	case routeschema.TypeNumber:
		if n, ok := toNumber(value); ok {
			return n
		}
	case routeschema.TypeBoolean:
		if b, ok := toBool(value); ok {
			return b
		}
	case routeschema.TypeString:
		return sanitizeString(fs, value)
	case routeschema.TypeArray:
		return sanitizeArray(fs, value)
	case routeschema.TypeObject:
		return sanitizeObject(fs, value)
	}
	return value
}

func sanitizeString(fs *routeschema.FieldSchema, value any) any {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			s = "1"
		}
	default:
		return value
	}

	switch fs.Format {
	case routeschema.FormatEmail, routeschema.FormatURI, routeschema.FormatDateTime:
		s = strings.TrimSpace(s)
	}
	return s
}

func sanitizeArray(fs *routeschema.FieldSchema, value any) any {
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case string:
		// Comma separated lists are accepted for array fields.
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		return value
	}

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = Sanitize(fs.Items, item)
	}
	return out
}

func sanitizeObject(fs *routeschema.FieldSchema, value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if sub, ok := fs.Properties[k]; ok {
			out[k] = Sanitize(sub, v)
			continue
		}
		out[k] = v
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		f, err := toFloat64Strict(v)
		return f, err == nil
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off", "":
			return false, true
		}
	case float64:
		return b != 0, true
	}
	return false, false
}
