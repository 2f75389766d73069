package fields

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/core/events"
	"github.com/xwp/wp-customize-rest-resources/core/store"
	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// Form is the set of widgets editing one resource setting.
type Form struct {
	id      resource.ID
	route   *routeschema.RouteSchema
	widgets []*Widget
	loc     *time.Location
	logger  zerolog.Logger

	mu      sync.Mutex
	current resource.Resource
	store   *store.Store
	unbind  func()
	message string
}

// Option configures a Form.
type Option func(*Form)

// WithLocation sets the zone whose offset is appended to local date-times.
func WithLocation(loc *time.Location) Option {
	return func(f *Form) { f.loc = loc }
}

// WithLogger sets the form logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Form) { f.logger = logger }
}

// RenderFields builds one widget per schema property, sorted by name. Without
// a route schema the form has a single raw JSON widget for the whole value.
func RenderFields(id resource.ID, rs *routeschema.RouteSchema, current resource.Resource, opts ...Option) *Form {
	var described []routeschema.FieldDescriptor
	if rs != nil {
		described = routeschema.Describe(rs.Schema)
	}
	return render(id, rs, described, current, opts)
}

// RenderIndexed looks the route of id up in ix and renders with the index's
// cached field descriptors.
func RenderIndexed(ix *routeschema.Index, id resource.ID, current resource.Resource, opts ...Option) *Form {
	rs, described, ok := ix.Lookup(id.Path())
	if !ok {
		return render(id, nil, nil, current, opts)
	}
	return render(id, rs, described, current, opts)
}

func render(id resource.ID, rs *routeschema.RouteSchema, described []routeschema.FieldDescriptor, current resource.Resource, opts []Option) *Form {
	f := &Form{
		id:      id,
		route:   rs,
		loc:     time.UTC,
		logger:  zerolog.Nop(),
		current: current.Clone(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if len(described) == 0 {
		f.widgets = []*Widget{{kind: KindJSON, form: f}}
	} else {
		f.widgets = make([]*Widget, 0, len(described))
		for _, d := range described {
			f.widgets = append(f.widgets, newWidget(f, d, current))
		}
	}

	for _, w := range f.widgets {
		w.refresh(f.subValue(w, f.current))
	}
	return f
}

func newWidget(f *Form, d routeschema.FieldDescriptor, current resource.Resource) *Widget {
	w := &Widget{
		name:  d.Name,
		field: d,
		form:  f,
		gmt:   strings.HasSuffix(d.Name, routeschema.GMTSuffix),
	}

	eff := d.Schema
	if d.Kind == routeschema.KindRawRendered {
		if obj, ok := current[d.Name].(map[string]any); ok {
			if _, ok := obj["raw"]; ok {
				eff = d.Raw
				w.hasRaw = true
			}
		}
	}
	w.schema = eff
	w.kind = kindFor(eff)
	w.readOnly = d.ReadOnly() || (eff != nil && eff.ReadOnly)
	w.constraints = constraintsFor(eff)
	return w
}

func kindFor(fs *routeschema.FieldSchema) WidgetKind {
	if fs == nil {
		return KindJSON
	}
	switch fs.Type.Primary() {
	case routeschema.TypeObject, routeschema.TypeArray, "":
		return KindJSON
	}
	if len(fs.Enum) > 0 {
		return KindSelect
	}
	switch fs.Type.Primary() {
	case routeschema.TypeInteger, routeschema.TypeNumber:
		return KindNumber
	case routeschema.TypeBoolean:
		return KindToggle
	}
	switch fs.Format {
	case routeschema.FormatURI:
		return KindURL
	case routeschema.FormatEmail:
		return KindEmail
	case routeschema.FormatDateTime:
		return KindDateTime
	}
	return KindText
}

func constraintsFor(fs *routeschema.FieldSchema) Constraints {
	if fs == nil {
		return Constraints{}
	}
	c := Constraints{
		Min:       fs.Minimum,
		Max:       fs.Maximum,
		MinLength: fs.MinLength,
		MaxLength: fs.MaxLength,
		Pattern:   fs.Pattern,
		Options:   append([]string(nil), fs.Enum...),
	}
	if fs.Type.Primary() == routeschema.TypeInteger {
		c.Step = 1
	}
	return c
}

// ID returns the setting the form edits.
func (f *Form) ID() resource.ID { return f.id }

// Route returns the matched route, or nil for the raw JSON fallback.
func (f *Form) Route() *routeschema.RouteSchema { return f.route }

// Label is the control label derived from the identifier.
func (f *Form) Label() string { return f.id.Label() }

// Widgets returns the widgets in property order.
func (f *Form) Widgets() []*Widget { return f.widgets }

// Widget returns the widget for a property, or nil.
func (f *Form) Widget(name string) *Widget {
	for _, w := range f.widgets {
		if w.name == name {
			return w
		}
	}
	return nil
}

// Bind connects the form to a store: commits write through st and every
// change of the setting, from any origin, refreshes the widgets.
func (f *Form) Bind(st *store.Store) {
	unsubscribe := st.Bus().Subscribe(events.SettingChanged, func(ctx context.Context, e events.Event) error {
		if e.ID == f.id {
			f.Refresh(e.Value)
		}
		return nil
	})

	f.mu.Lock()
	f.store = st
	f.unbind = unsubscribe
	f.mu.Unlock()

	if entry, ok := st.Get(f.id); ok {
		f.Refresh(entry.Value)
	}
}

// Close detaches the form from its store.
func (f *Form) Close() {
	f.mu.Lock()
	unbind := f.unbind
	f.unbind = nil
	f.store = nil
	f.mu.Unlock()
	if unbind != nil {
		unbind()
	}
}

// Value returns a copy of the composite value the form last saw.
func (f *Form) Value() resource.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

// Refresh pushes a composite value into every widget.
func (f *Form) Refresh(value resource.Resource) {
	f.mu.Lock()
	f.current = value.Clone()
	current := f.current
	f.mu.Unlock()

	for _, w := range f.widgets {
		w.refresh(f.subValue(w, current))
	}
}

// SetMessage sets the setting-level validation message, such as a save
// error reported by the server.
func (f *Form) SetMessage(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
}

// Message returns the setting-level validation message.
func (f *Form) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Err joins the parse errors of all widgets.
func (f *Form) Err() error {
	var errs []error
	for _, w := range f.widgets {
		if err := w.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notices collects the constraint notices of all widgets.
func (f *Form) Notices() []validation.FieldError {
	var out []validation.FieldError
	for _, w := range f.widgets {
		out = append(out, w.Notices()...)
	}
	return out
}

func (f *Form) subValue(w *Widget, value resource.Resource) any {
	if w.name == "" {
		return map[string]any(value)
	}
	v := value[w.name]
	if w.hasRaw {
		obj, _ := v.(map[string]any)
		return obj["raw"]
	}
	return v
}

// commit writes v into its slot of the composite value. The composite is
// re-read from the store first so concurrent edits of other fields survive.
func (f *Form) commit(ctx context.Context, w *Widget, v any) error {
	f.mu.Lock()
	st := f.store
	next := f.current.Clone()
	f.mu.Unlock()

	if st != nil {
		if entry, ok := st.Get(f.id); ok {
			next = entry.Value
		}
	}
	if next == nil {
		next = resource.Resource{}
	}

	switch {
	case w.name == "":
		next = resource.Resource(resource.CloneValue(v).(map[string]any))
	case w.hasRaw:
		obj, _ := resource.CloneValue(next[w.name]).(map[string]any)
		if obj == nil {
			obj = make(map[string]any)
		}
		obj["raw"] = v
		// Pending echo until the server renders it.
		obj["rendered"] = v
		next[w.name] = obj
	default:
		next[w.name] = v
	}

	f.logger.Debug().
		Str("setting", string(f.id)).
		Str("field", w.name).
		Msg("field committed")

	if st != nil {
		return st.Set(ctx, f.id, next)
	}
	f.Refresh(next)
	return nil
}
