// Package fields renders the editable fields of a resource from its route
// schema and binds them to the resource's setting.
package fields

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// WidgetKind selects how a field is edited.
type WidgetKind string

const (
	KindJSON     WidgetKind = "json"     // Free-text JSON for objects, arrays and unknown shapes
	KindSelect   WidgetKind = "select"   // Fixed choice from an enum
	KindNumber   WidgetKind = "number"   // Integer or number input
	KindToggle   WidgetKind = "toggle"   // Boolean
	KindURL      WidgetKind = "url"      // String with uri format
	KindEmail    WidgetKind = "email"    // String with email format
	KindDateTime WidgetKind = "datetime" // String with date-time format
	KindText     WidgetKind = "text"     // Plain string
)

var (
	// ErrReadOnly is returned when a read-only widget is edited.
	ErrReadOnly = errors.New("field is read-only")

	// ErrNotObject is returned when the raw JSON fallback widget is given
	// something other than a JSON object.
	ErrNotObject = errors.New("resource value must be a JSON object")
)

// ParseError is a widget input that could not be coerced to the field type.
// The value is not propagated while it is set.
type ParseError struct {
	Field string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid value %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("%s: invalid value %q: %v", e.Field, e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Constraints are the input-level hints a widget applies. They are not
// trusted by the server.
type Constraints struct {
	Min       *float64
	Max       *float64
	Step      float64
	MinLength *int
	MaxLength *int
	Pattern   string
	Options   []string
}

// Widget is one editable field. All methods are safe for concurrent use.
type Widget struct {
	name        string
	kind        WidgetKind
	field       routeschema.FieldDescriptor
	schema      *routeschema.FieldSchema
	hasRaw      bool
	readOnly    bool
	gmt         bool
	constraints Constraints
	form        *Form

	mu      sync.Mutex
	value   any
	text    string
	err     error
	notices []validation.FieldError
}

// Name returns the property name; the raw JSON fallback widget has none.
func (w *Widget) Name() string { return w.name }

// Kind returns the widget kind.
func (w *Widget) Kind() WidgetKind { return w.kind }

// Schema returns the effective field schema (the raw sub-schema when HasRaw).
func (w *Widget) Schema() *routeschema.FieldSchema { return w.schema }

// Descriptor returns the precomputed field descriptor.
func (w *Widget) Descriptor() routeschema.FieldDescriptor { return w.field }

// HasRaw reports whether the widget edits the raw half of a raw/rendered pair.
func (w *Widget) HasRaw() bool { return w.hasRaw }

// ReadOnly reports whether the widget rejects edits.
func (w *Widget) ReadOnly() bool { return w.readOnly }

// Constraints returns the input-level constraints.
func (w *Widget) Constraints() Constraints { return w.constraints }

// Value returns the last valid value.
func (w *Widget) Value() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Text returns the current input text.
func (w *Widget) Text() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.text
}

// Err returns the current parse error, if any.
func (w *Widget) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Notices returns the constraint violations of the last valid value.
func (w *Widget) Notices() []validation.FieldError {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]validation.FieldError(nil), w.notices...)
}

// Set applies operator input. Input that cannot be coerced is kept as the
// widget text with a ParseError and nothing is propagated. Coerced values
// are checked against the schema constraints, recorded as notices, and
// committed to the resource value regardless.
func (w *Widget) Set(ctx context.Context, text string) error {
	if w.readOnly {
		return ErrReadOnly
	}

	v, err := w.coerce(text)
	w.mu.Lock()
	w.text = text
	if err != nil {
		w.err = &ParseError{Field: w.name, Input: text, Err: err}
		perr := w.err
		w.mu.Unlock()
		return perr
	}
	w.err = nil
	w.value = v
	w.notices = w.Validate(v)
	w.mu.Unlock()

	return w.form.commit(ctx, w, v)
}

// Validate checks v against the effective schema.
func (w *Widget) Validate(v any) []validation.FieldError {
	if w.schema == nil {
		return nil
	}
	return validation.Check(w.name, w.schema, v)
}

// refresh shows v unless it equals the last valid value. Input text, parse
// errors and notices survive changes of unrelated fields.
func (w *Widget) refresh(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if equalJSON(w.value, v) {
		return
	}
	w.value = v
	w.text = w.format(v)
	w.err = nil
	w.notices = nil
}
