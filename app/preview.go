package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/core/store"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

// ErrUnresolvable is returned when a resource has no self link under the
// API root.
var ErrUnresolvable = errors.New("resource has no self link under the api root")

// LiveModel is an object in the preview that renders a resource and can be
// updated in place, such as a client-side model.
type LiveModel interface {
	// Resource returns the current attributes.
	Resource() resource.Resource

	// Update replaces the attributes.
	Update(r resource.Resource)
}

// PreviewDeps contains dependencies for PreviewManager.
type PreviewDeps struct {
	Endpoint *syncchan.Endpoint
	Store    *store.Store
	Logger   zerolog.Logger
}

// PreviewConfig contains configuration for PreviewManager.
type PreviewConfig struct {
	APIRoot string

	// InitialDirty are staged values known before the channel opens. They
	// make requests issued before the panel answers see staged state.
	InitialDirty map[resource.ID]resource.Resource
}

// PreviewManager runs the preview side: it discovers editable resources in
// REST responses, mirrors them into settings and keeps live models in step
// with staged values.
type PreviewManager struct {
	endpoint *syncchan.Endpoint
	store    *store.Store
	apiRoot  string
	logger   zerolog.Logger

	mu           sync.Mutex
	models       map[resource.ID][]*boundModel
	materialized []func(resource.Resource)
}

type boundModel struct {
	model LiveModel
}

// NewPreviewManager creates a preview manager and registers its message
// handlers on the endpoint.
func NewPreviewManager(ctx context.Context, deps PreviewDeps, cfg PreviewConfig) (*PreviewManager, error) {
	if deps.Endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint", ErrMissingDependency)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if cfg.APIRoot == "" {
		return nil, fmt.Errorf("%w: api root", ErrMissingDependency)
	}

	m := &PreviewManager{
		endpoint: deps.Endpoint,
		store:    deps.Store,
		apiRoot:  cfg.APIRoot,
		logger:   deps.Logger,
		models:   make(map[resource.ID][]*boundModel),
	}

	for id, value := range cfg.InitialDirty {
		if err := m.store.Apply(ctx, id, value); err != nil {
			return nil, fmt.Errorf("seed %s: %w", id, err)
		}
	}

	m.endpoint.On(syncchan.KindFieldChanged, m.handleFieldChanged)
	m.endpoint.On(syncchan.KindDirtyIDs, m.handleDirtyIDs)
	return m, nil
}

// Start announces the preview to the panel.
func (m *PreviewManager) Start(ctx context.Context) error {
	return m.endpoint.Send(ctx, syncchan.KindReady, nil)
}

// Store returns the preview's setting store.
func (m *PreviewManager) Store() *store.Store {
	return m.store
}

// OnMaterialized registers a callback run for every editable resource found
// in a REST response, embedded ones included.
func (m *PreviewManager) OnMaterialized(f func(resource.Resource)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materialized = append(m.materialized, f)
}

// Discover inspects a REST response. Responses without the edit-context
// header are ignored. Every resource in the payload, embedded ones
// included, is mirrored into a setting and announced to the panel the
// first time it is seen. It returns the ids found.
func (m *PreviewManager) Discover(ctx context.Context, header http.Header, data any) []resource.ID {
	if header.Get(rest.HeaderEditContext) != rest.EditContext {
		return nil
	}

	var found []resource.ID
	for _, r := range resourcesOf(data) {
		found = m.discover(ctx, r, found)
	}
	return found
}

func (m *PreviewManager) discover(ctx context.Context, r resource.Resource, found []resource.ID) []resource.ID {
	id, ok := resource.Resolve(r, m.apiRoot)
	if ok {
		entry, created := m.store.Ensure(ctx, id, r)
		found = append(found, id)
		if created {
			payload := syncchan.Discovered{ID: id, Value: entry.Value}
			if err := m.endpoint.Send(ctx, syncchan.KindResourceDiscovered, payload); err != nil {
				m.logger.Error().Err(err).Str("setting", string(id)).Msg("announce resource")
			}
		}

		m.mu.Lock()
		callbacks := append([]func(resource.Resource){}, m.materialized...)
		m.mu.Unlock()
		for _, f := range callbacks {
			f(r)
		}
	}

	for _, group := range r.Embedded() {
		for _, embedded := range group {
			found = m.discover(ctx, embedded, found)
		}
	}
	return found
}

// BindModel keeps model in step with the staged value of the resource it
// renders and tells the panel the setting can be previewed without a
// refresh. The returned function unbinds the model.
func (m *PreviewManager) BindModel(ctx context.Context, model LiveModel) (func(), error) {
	id, ok := resource.Resolve(model.Resource(), m.apiRoot)
	if !ok {
		return nil, ErrUnresolvable
	}

	bound := &boundModel{model: model}
	m.mu.Lock()
	m.models[id] = append(m.models[id], bound)
	m.mu.Unlock()

	if err := m.endpoint.Send(ctx, syncchan.KindPostMessageEligible, syncchan.Eligible{ID: id}); err != nil {
		return nil, err
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.models[id]
		for i, b := range list {
			if b == bound {
				m.models[id] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(m.models[id]) == 0 {
			delete(m.models, id)
		}
	}, nil
}

// Staged returns the overrides formed by the dirty settings.
func (m *PreviewManager) Staged() *Overrides {
	return stagedFrom(m.store, m.apiRoot)
}

// CustomizedQuery encodes the dirty settings as the customized request
// parameter.
func (m *PreviewManager) CustomizedQuery() ([]byte, error) {
	return customizedFrom(m.store)
}

func (m *PreviewManager) handleFieldChanged(ctx context.Context, msg syncchan.Message) error {
	change, err := syncchan.Decode[syncchan.FieldChanged](msg)
	if err != nil {
		return err
	}
	if err := m.store.Apply(ctx, change.ID, change.Value); err != nil {
		return err
	}
	m.refreshModels()
	return nil
}

func (m *PreviewManager) handleDirtyIDs(ctx context.Context, msg syncchan.Message) error {
	dirty, err := syncchan.Decode[syncchan.DirtyIDs](msg)
	if err != nil {
		return err
	}
	listed := make(map[resource.ID]bool, len(dirty.IDs))
	for _, id := range dirty.IDs {
		listed[id] = true
		m.store.MarkDirty(id)
	}
	if dirty.Full {
		for _, id := range m.store.AllDirty() {
			if !listed[id] {
				m.store.MarkClean(ctx, id)
			}
		}
	}
	return nil
}

// refreshModels substitutes staged values into every bound model, embedded
// resources included.
func (m *PreviewManager) refreshModels() {
	staged := m.Staged()

	m.mu.Lock()
	var models []LiveModel
	for _, list := range m.models {
		for _, b := range list {
			models = append(models, b.model)
		}
	}
	m.mu.Unlock()

	for _, model := range models {
		current := model.Resource()
		next, _ := staged.FilterResponse(current).(resource.Resource)
		if next != nil && !reflect.DeepEqual(current, next) {
			model.Update(next)
		}
	}
}

func stagedFrom(st *store.Store, apiRoot string) *Overrides {
	o := NewOverrides(apiRoot)
	for id, value := range st.Values(st.AllDirty()) {
		o.Stage(id, value)
	}
	return o
}

func customizedFrom(st *store.Store) ([]byte, error) {
	data, err := json.Marshal(st.Values(st.AllDirty()))
	if err != nil {
		return nil, fmt.Errorf("encode customized: %w", err)
	}
	return data, nil
}

// resourcesOf lists the top-level resources of a REST payload.
func resourcesOf(data any) []resource.Resource {
	switch v := data.(type) {
	case resource.Resource:
		return []resource.Resource{v}
	case map[string]any:
		return []resource.Resource{v}
	case []resource.Resource:
		return v
	case []any:
		var out []resource.Resource
		for _, item := range v {
			out = append(out, resourcesOf(item)...)
		}
		return out
	}
	return nil
}
