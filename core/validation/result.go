// Package validation provides the per-field sanitize and validate callables
// derived from a route's item schema. Validation accumulates every failure;
// it never stops at the first one.
package validation

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError represents one field validation failure.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result holds all validation errors for one value.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// NewResult returns an empty, valid result.
func NewResult() *Result {
	return &Result{Valid: true}
}

// AddError adds a validation error.
func (r *Result) AddError(field, constraint string, value any, message string) {
	r.Add(FieldError{Field: field, Constraint: constraint, Value: value, Message: message})
}

// Add appends errors.
func (r *Result) Add(errs ...FieldError) {
	if len(errs) == 0 {
		return
	}
	r.Valid = false
	r.Errors = append(r.Errors, errs...)
}

// Merge appends the errors of other.
func (r *Result) Merge(other *Result) {
	if other != nil {
		r.Add(other.Errors...)
	}
}

// Fields returns the distinct failing field names, sorted.
func (r *Result) Fields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, e := range r.Errors {
		if !seen[e.Field] {
			seen[e.Field] = true
			fields = append(fields, e.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Params groups messages by field, the shape REST error responses carry.
func (r *Result) Params() map[string]string {
	params := make(map[string]string)
	for _, e := range r.Errors {
		if prev, ok := params[e.Field]; ok {
			params[e.Field] = prev + " " + e.Message
			continue
		}
		params[e.Field] = e.Message
	}
	return params
}

// Summary returns the single aggregated message reported for a setting.
func (r *Result) Summary() string {
	if r.Valid {
		return ""
	}
	return "Invalid parameter(s): " + strings.Join(r.Fields(), ", ")
}

// Error returns a combined error message.
func (r *Result) Error() string {
	if r.Valid {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Err returns r as an error, or nil when valid.
func (r *Result) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	return r
}
