package validation

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// Constraint names reported in FieldError.Constraint.
const (
	ConstraintType      = "type"
	ConstraintEnum      = "enum"
	ConstraintFormat    = "format"
	ConstraintMin       = "minimum"
	ConstraintMax       = "maximum"
	ConstraintMinLength = "minLength"
	ConstraintMaxLength = "maxLength"
	ConstraintPattern   = "pattern"
	ConstraintReadOnly  = "readonly"
)

// Check validates value against a field schema. Nested object properties are
// checked recursively and reported under the top-level field name. A nil
// value is accepted for nullable types.
// This is a PURE function.
func Check(field string, fs *routeschema.FieldSchema, value any) []FieldError {
	if fs == nil {
		return nil
	}
	return check(field, field, fs, value)
}

func check(field, path string, fs *routeschema.FieldSchema, value any) []FieldError {
	if value == nil {
		if len(fs.Type) == 0 || fs.Type.Has(routeschema.TypeNull) {
			return nil
		}
		return []FieldError{{Field: field, Constraint: ConstraintType, Message: fmt.Sprintf("%s is not of type %s", path, strings.Join(fs.Type, ","))}}
	}

	if len(fs.Type) > 0 && !matchesAnyType(fs.Type, value) {
		return []FieldError{{
			Field:      field,
			Constraint: ConstraintType,
			Value:      value,
			Message:    fmt.Sprintf("%s is not of type %s", path, strings.Join(fs.Type, ",")),
		}}
	}

	var errs []FieldError
	add := func(e *FieldError) {
		if e != nil {
			e.Field = field
			errs = append(errs, *e)
		}
	}

	add(checkEnum(path, fs, value))
	add(checkFormat(path, fs, value))
	add(checkMin(path, fs, value))
	add(checkMax(path, fs, value))
	add(checkMinLength(path, fs, value))
	add(checkMaxLength(path, fs, value))
	add(checkPattern(path, fs, value))

	switch v := value.(type) {
	case map[string]any:
		names := make([]string, 0, len(fs.Properties))
		for name := range fs.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sub, ok := v[name]
			if !ok {
				continue
			}
			errs = append(errs, check(field, path+"["+name+"]", fs.Properties[name], sub)...)
		}
	case []any:
		if fs.Items != nil {
			for i, item := range v {
				errs = append(errs, check(field, fmt.Sprintf("%s[%d]", path, i), fs.Items, item)...)
			}
		}
	}
	return errs
}

func matchesAnyType(types routeschema.Types, value any) bool {
	for _, t := range types {
		if matchesType(t, value) {
			return true
		}
	}
	return false
}

func matchesType(t string, value any) bool {
	switch t {
	case routeschema.TypeString:
		_, ok := value.(string)
		return ok
	case routeschema.TypeInteger:
		n, err := toFloat64Strict(value)
		return err == nil && n == math.Trunc(n)
	case routeschema.TypeNumber:
		_, err := toFloat64Strict(value)
		return err == nil
	case routeschema.TypeBoolean:
		_, ok := value.(bool)
		return ok
	case routeschema.TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case routeschema.TypeArray:
		_, ok := value.([]any)
		return ok
	case routeschema.TypeNull:
		return value == nil
	}
	return true
}

func checkEnum(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	if len(fs.Enum) == 0 {
		return nil
	}
	str := fmt.Sprintf("%v", value)
	for _, allowed := range fs.Enum {
		if allowed == str {
			return nil
		}
	}
	return &FieldError{
		Constraint: ConstraintEnum,
		Value:      value,
		Message:    fmt.Sprintf("%s is not one of %s", path, strings.Join(fs.Enum, ", ")),
	}
}

func checkFormat(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	str, ok := value.(string)
	if !ok || fs.Format == "" {
		return nil
	}

	switch fs.Format {
	case routeschema.FormatEmail:
		if _, err := mail.ParseAddress(str); err != nil || strings.ContainsAny(str, "<> ") {
			return &FieldError{Constraint: ConstraintFormat, Value: value, Message: fmt.Sprintf("%s is not a valid email address", path)}
		}
	case routeschema.FormatURI:
		if str == "" {
			return nil
		}
		u, err := url.ParseRequestURI(str)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &FieldError{Constraint: ConstraintFormat, Value: value, Message: fmt.Sprintf("%s is not a valid URL", path)}
		}
	case routeschema.FormatDateTime:
		if _, _, err := ParseDateTime(str); err != nil {
			return &FieldError{Constraint: ConstraintFormat, Value: value, Message: fmt.Sprintf("%s is not a valid date", path)}
		}
	}
	return nil
}

func checkMin(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	if fs.Minimum == nil {
		return nil
	}
	val, err := toFloat64Strict(value)
	if err != nil {
		return nil // Can't validate non-numeric, skip
	}
	if val < *fs.Minimum {
		return &FieldError{
			Constraint: ConstraintMin,
			Value:      value,
			Message:    fmt.Sprintf("%s must be greater than or equal to %v", path, *fs.Minimum),
		}
	}
	return nil
}

func checkMax(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	if fs.Maximum == nil {
		return nil
	}
	val, err := toFloat64Strict(value)
	if err != nil {
		return nil
	}
	if val > *fs.Maximum {
		return &FieldError{
			Constraint: ConstraintMax,
			Value:      value,
			Message:    fmt.Sprintf("%s must be less than or equal to %v", path, *fs.Maximum),
		}
	}
	return nil
}

func checkMinLength(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	str, ok := value.(string)
	if !ok || fs.MinLength == nil {
		return nil
	}
	if n := utf8.RuneCountInString(str); n < *fs.MinLength {
		return &FieldError{
			Constraint: ConstraintMinLength,
			Value:      n,
			Message:    fmt.Sprintf("%s must be at least %d characters long", path, *fs.MinLength),
		}
	}
	return nil
}

func checkMaxLength(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	str, ok := value.(string)
	if !ok || fs.MaxLength == nil {
		return nil
	}
	if n := utf8.RuneCountInString(str); n > *fs.MaxLength {
		return &FieldError{
			Constraint: ConstraintMaxLength,
			Value:      n,
			Message:    fmt.Sprintf("%s must be at most %d characters long", path, *fs.MaxLength),
		}
	}
	return nil
}

func checkPattern(path string, fs *routeschema.FieldSchema, value any) *FieldError {
	str, ok := value.(string)
	if !ok || fs.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(fs.Pattern)
	if err != nil {
		return nil // Invalid regex, skip
	}
	if !re.MatchString(str) {
		return &FieldError{
			Constraint: ConstraintPattern,
			Value:      value,
			Message:    fmt.Sprintf("%s does not match pattern %s", path, fs.Pattern),
		}
	}
	return nil
}

// toFloat64Strict accepts numeric Go types only; numeric strings are not
// numbers for validation purposes.
func toFloat64Strict(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
