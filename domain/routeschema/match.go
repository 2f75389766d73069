package routeschema

import (
	"fmt"
	"regexp"
	"strings"
)

// Index matches resource routes against the published route table.
// Entries keep registration order; the first matching pattern wins.
type Index struct {
	entries []entry
}

type entry struct {
	route  RouteSchema
	regex  *regexp.Regexp
	fields []FieldDescriptor
}

// NewIndex compiles the route table. Patterns are compiled in their
// unnamed-group form, the same way a consumer without named-group support
// would compile them.
func NewIndex(routes []RouteSchema) (*Index, error) {
	entries := make([]entry, 0, len(routes))
	for _, r := range routes {
		regex, err := regexp.Compile(anchor(RewriteNamedGroups(r.Pattern)))
		if err != nil {
			return nil, fmt.Errorf("compile route pattern %q: %w", r.Pattern, err)
		}
		var fields []FieldDescriptor
		if r.Schema != nil {
			fields = Describe(r.Schema)
		}
		entries = append(entries, entry{route: r, regex: regex, fields: fields})
	}
	return &Index{entries: entries}, nil
}

// Match returns the first route whose pattern matches the whole path, or nil.
func (ix *Index) Match(path string) *RouteSchema {
	e := ix.find(path)
	if e == nil {
		return nil
	}
	return &e.route
}

// Lookup is Match plus the cached field descriptors of the route schema.
func (ix *Index) Lookup(path string) (*RouteSchema, []FieldDescriptor, bool) {
	e := ix.find(path)
	if e == nil {
		return nil, nil, false
	}
	return &e.route, e.fields, true
}

// Len returns the number of indexed routes.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Routes returns the indexed routes in registration order.
func (ix *Index) Routes() []RouteSchema {
	if ix == nil {
		return nil
	}
	out := make([]RouteSchema, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = e.route
	}
	return out
}

func (ix *Index) find(path string) *entry {
	if ix == nil {
		return nil
	}
	for i := range ix.entries {
		if ix.entries[i].regex.MatchString(path) {
			return &ix.entries[i]
		}
	}
	return nil
}

// CompileNamed compiles a route pattern keeping its named groups, for callers
// that need the captured route arguments.
func CompileNamed(pattern string) (*regexp.Regexp, error) {
	regex, err := regexp.Compile(anchor(pattern))
	if err != nil {
		return nil, fmt.Errorf("compile route pattern %q: %w", pattern, err)
	}
	return regex, nil
}

// Params extracts named captures of a full match. Returns nil on no match.
func Params(regex *regexp.Regexp, path string) map[string]string {
	m := regex.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	params := make(map[string]string)
	for i, name := range regex.SubexpNames() {
		if i > 0 && name != "" {
			params[name] = m[i]
		}
	}
	return params
}

func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

// RewriteNamedGroups turns "(?P<name>...)" and "(?<name>...)" into plain
// capturing groups "(...)". Escaped parentheses and character classes are
// left alone.
func RewriteNamedGroups(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			// A leading "^" or "]" is part of the class.
			j := i + 1
			if j < len(pattern) && pattern[j] == '^' {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			b.WriteString(pattern[i:j])
			i = j - 1
			continue
		case c == '(':
			if n := namedGroupPrefix(pattern[i:]); n > 0 {
				b.WriteByte('(')
				i += n - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// namedGroupPrefix returns the length of a "(?P<name>" or "(?<name>" opener
// at the start of s, or 0.
func namedGroupPrefix(s string) int {
	var rest string
	switch {
	case strings.HasPrefix(s, "(?P<"):
		rest = s[4:]
	case strings.HasPrefix(s, "(?<"):
		rest = s[3:]
	default:
		return 0
	}
	end := strings.IndexByte(rest, '>')
	if end <= 0 || !isGroupName(rest[:end]) {
		return 0
	}
	return len(s) - len(rest) + end + 1
}

func isGroupName(name string) bool {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
