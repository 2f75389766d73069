package validation

import (
	"sort"

	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// SanitizeFunc coerces a submitted argument value.
type SanitizeFunc func(value any) any

// ValidateFunc checks a sanitized argument value.
type ValidateFunc func(value any) []FieldError

// Arg is one writable request argument of a route with its callables.
type Arg struct {
	Name     string
	Schema   *routeschema.FieldSchema
	Sanitize SanitizeFunc
	Validate ValidateFunc
}

// Args maps argument names to their callables.
type Args map[string]Arg

// ArgsFromSchema derives the write arguments of an item schema. Read-only
// properties are not arguments.
func ArgsFromSchema(s *routeschema.Schema) Args {
	args := make(Args)
	if s == nil {
		return args
	}
	for name, fs := range s.Properties {
		if fs == nil || fs.ReadOnly {
			continue
		}
		name, fs := name, fs
		args[name] = Arg{
			Name:     name,
			Schema:   fs,
			Sanitize: func(v any) any { return Sanitize(fs, v) },
			Validate: func(v any) []FieldError { return Check(name, fs, v) },
		}
	}
	return args
}

// Names returns the argument names sorted.
func (a Args) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs the sanitize callable of every argument present in body and,
// when strict, its validate callable. All failures are accumulated.
// Keys that are not arguments are copied through unchanged. body is not
// modified.
func (a Args) Apply(body map[string]any, strict bool) (map[string]any, *Result) {
	result := NewResult()
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}

	for _, name := range a.Names() {
		value, ok := out[name]
		if !ok {
			continue
		}
		arg := a[name]
		if arg.Sanitize != nil {
			value = arg.Sanitize(value)
			out[name] = value
		}
		if strict && arg.Validate != nil {
			result.Add(arg.Validate(value)...)
		}
	}
	return out, result
}
