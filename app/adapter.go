// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
	"github.com/xwp/wp-customize-rest-resources/domain/setting"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

var (
	// ErrMissingDependency is returned by constructors given a nil
	// collaborator or an empty API root.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrNoRoute is returned when no REST route serves a setting.
	ErrNoRoute = errors.New("no route serves the resource")
)

// CommitError is a write rejected by the REST layer.
type CommitError struct {
	ID      resource.ID
	Status  int
	Code    string
	Message string
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %s", e.ID, e.Message)
}

// AdapterDeps contains dependencies for SettingAdapter.
type AdapterDeps struct {
	Dispatcher ports.Dispatcher
	Logger     zerolog.Logger
}

// SettingAdapter mediates between one resource setting and the REST layer.
// It is built once per id and is safe for concurrent use. Staged values live
// in the request's Overrides only; the adapter itself keeps the committed
// value shared by every request.
type SettingAdapter struct {
	id         resource.ID
	dispatcher ports.Dispatcher
	logger     zerolog.Logger

	mu    sync.Mutex
	state setting.State
	saved resource.Resource
	err   error
}

// NewSettingAdapter creates the adapter of id.
func NewSettingAdapter(id resource.ID, deps AdapterDeps) (*SettingAdapter, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher", ErrMissingDependency)
	}
	if _, err := resource.ParseID(string(id)); err != nil {
		return nil, err
	}
	return &SettingAdapter{
		id:         id,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.With().Str("setting", string(id)).Logger(),
		state:      setting.StateUnbound,
	}, nil
}

// ID returns the setting id.
func (a *SettingAdapter) ID() resource.ID { return a.id }

// State returns the lifecycle state.
func (a *SettingAdapter) State() setting.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastError returns the error of the last failed sanitize or commit.
func (a *SettingAdapter) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Preview stages value in the overrides carried by ctx, so responses
// dispatched for the same request substitute it. Without overrides in ctx
// nothing is staged.
func (a *SettingAdapter) Preview(ctx context.Context, value resource.Resource) {
	a.mu.Lock()
	a.transition(setting.StatePreviewing)
	a.mu.Unlock()

	if o := OverridesFrom(ctx); o != nil {
		o.Stage(a.id, value)
	}
}

// Sanitize runs the write arguments the REST layer declares for a PUT to the
// resource route. Every argument is sanitized; when strict, every argument
// is also validated and all failures come back together as a
// *validation.Result. Success returns the canonical JSON encoding of the
// sanitized value without _embedded and stages it in the overrides of ctx.
func (a *SettingAdapter) Sanitize(ctx context.Context, value resource.Resource, strict bool) (json.RawMessage, error) {
	a.mu.Lock()
	a.transition(setting.StateDirty)
	a.mu.Unlock()

	route, _, ok := a.dispatcher.Resolve(http.MethodPut, a.id.Path())
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoRoute, a.id.Route())
		a.setErr(err)
		return nil, err
	}

	body := map[string]any(value.WithoutEmbedded())
	if body == nil {
		body = map[string]any{}
	}
	clean, result := route.Args.Apply(body, strict)
	if err := result.Err(); err != nil {
		a.setErr(err)
		a.logger.Debug().Strs("fields", result.Fields()).Msg("setting failed validation")
		return nil, err
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode sanitized value: %w", err)
	}
	if o := OverridesFrom(ctx); o != nil {
		sanitized, err := resource.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode sanitized value: %w", err)
		}
		o.Stage(a.id, sanitized)
	}
	a.setErr(nil)
	return data, nil
}

// Commit writes the sanitized value with a PUT to the resource route. The
// post-write body returned by the server becomes the authoritative value.
func (a *SettingAdapter) Commit(ctx context.Context, value json.RawMessage) (resource.Resource, error) {
	req := rest.NewRequest(http.MethodPut, a.id.Path())
	req.Body = value
	req.Header.Set("Content-Type", rest.ContentTypeJSON)
	req.Query.Set("context", rest.EditContext)

	resp := a.dispatcher.Dispatch(ctx, req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.transition(setting.StateDirty)

	if restErr := resp.Err(); restErr != nil {
		a.state = setting.StateErrored
		a.err = &CommitError{ID: a.id, Status: resp.Status, Code: restErr.Code, Message: restErr.Message}
		a.logger.Warn().Int("status", resp.Status).Str("code", restErr.Code).Msg("setting commit failed")
		return nil, a.err
	}

	body, ok := resp.Resource()
	if !ok {
		a.state = setting.StateErrored
		a.err = &CommitError{ID: a.id, Status: resp.Status, Code: rest.CodeInternal, Message: "response is not a resource"}
		return nil, a.err
	}
	a.saved = body.WithoutEmbedded()
	a.err = nil
	a.state = setting.StateSaved
	a.logger.Debug().Msg("setting committed")
	return a.saved.Clone(), nil
}

// Value returns the value staged in the overrides of ctx, else the
// authoritative value cached by the last commit, else the live value read
// with a GET, else the default.
func (a *SettingAdapter) Value(ctx context.Context) (resource.Resource, error) {
	if o := OverridesFrom(ctx); o != nil {
		if v, ok := o.Lookup(a.id.Route()); ok {
			return v, nil
		}
	}

	a.mu.Lock()
	if a.saved != nil {
		v := a.saved.Clone()
		a.mu.Unlock()
		return v, nil
	}
	a.mu.Unlock()

	req := rest.NewRequest(http.MethodGet, a.id.Path())
	req.Query.Set("context", rest.EditContext)
	resp := a.dispatcher.Dispatch(ctx, req)
	if !resp.IsError() {
		if r, ok := resp.Resource(); ok {
			return r.WithoutEmbedded(), nil
		}
	}
	return a.Default(ctx)
}

// Default derives the value of a resource nobody has written yet from the
// route's OPTIONS schema. A nil value means null.
func (a *SettingAdapter) Default(ctx context.Context) (resource.Resource, error) {
	resp := a.dispatcher.Dispatch(ctx, rest.NewRequest(http.MethodOptions, a.id.Path()))
	if restErr := resp.Err(); restErr != nil {
		if resp.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("options %s: %w", a.id.Route(), restErr)
	}

	var doc struct {
		Schema *routeschema.Schema `json:"schema"`
	}
	if err := resp.Decode(&doc); err != nil {
		return nil, err
	}
	defaults := routeschema.Defaults(doc.Schema)
	if defaults == nil {
		return nil, nil
	}
	return resource.Resource(defaults), nil
}

func (a *SettingAdapter) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// transition moves to state when the lifecycle allows it. Callers hold mu.
func (a *SettingAdapter) transition(to setting.State) {
	if a.state == to {
		return
	}
	if !setting.CanTransition(a.state, to) {
		return
	}
	a.state = to
}
