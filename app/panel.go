package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/core/events"
	"github.com/xwp/wp-customize-rest-resources/core/fields"
	"github.com/xwp/wp-customize-rest-resources/core/store"
	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
	"github.com/xwp/wp-customize-rest-resources/domain/setting"
)

// NoticeEmpty is shown in the panel until the preview has loaded a resource.
const NoticeEmpty = "There are no REST API resources loaded in the preview yet."

// Saver commits staged settings. SaveService implements it in-process.
type Saver interface {
	Save(ctx context.Context, staged *Overrides) (*SaveResult, error)
}

// RefreshFunc reloads the preview with the given customized parameter. It
// serves settings that cannot be previewed by message.
type RefreshFunc func(ctx context.Context, id resource.ID, customized []byte)

// PanelDeps contains dependencies for PanelManager.
type PanelDeps struct {
	Endpoint *syncchan.Endpoint
	Store    *store.Store
	Index    *routeschema.Index
	Saver    Saver
	Logger   zerolog.Logger
}

// PanelConfig contains configuration for PanelManager.
type PanelConfig struct {
	APIRoot  string
	Location *time.Location
}

// PanelManager runs the control panel side: it turns discovered resources
// into settings with forms, forwards operator edits to the preview and saves
// the dirty settings.
type PanelManager struct {
	endpoint *syncchan.Endpoint
	store    *store.Store
	index    *routeschema.Index
	saver    Saver
	apiRoot  string
	loc      *time.Location
	logger   zerolog.Logger

	mu        sync.Mutex
	forms     map[resource.ID]*fields.Form
	onRefresh []RefreshFunc
	onForm    []func(*fields.Form)
}

// NewPanelManager creates a panel manager and registers its message and
// store handlers.
func NewPanelManager(deps PanelDeps, cfg PanelConfig) (*PanelManager, error) {
	if deps.Endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint", ErrMissingDependency)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("%w: route index", ErrMissingDependency)
	}
	if cfg.APIRoot == "" {
		return nil, fmt.Errorf("%w: api root", ErrMissingDependency)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	m := &PanelManager{
		endpoint: deps.Endpoint,
		store:    deps.Store,
		index:    deps.Index,
		saver:    deps.Saver,
		apiRoot:  cfg.APIRoot,
		loc:      loc,
		logger:   deps.Logger,
		forms:    make(map[resource.ID]*fields.Form),
	}

	m.endpoint.On(syncchan.KindResourceDiscovered, m.handleDiscovered)
	m.endpoint.On(syncchan.KindPostMessageEligible, m.handleEligible)
	m.endpoint.On(syncchan.KindReady, m.handleReady)
	m.endpoint.On(syncchan.KindSaveErrors, m.handleSaveErrors)
	m.store.Bus().Subscribe(events.SettingChanged, m.handleLocalChange)
	return m, nil
}

// Store returns the panel's setting store.
func (m *PanelManager) Store() *store.Store {
	return m.store
}

// OnRefresh registers a callback for edits of settings that still use the
// refresh transport.
func (m *PanelManager) OnRefresh(f RefreshFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRefresh = append(m.onRefresh, f)
}

// OnForm registers a callback run when the form of a new setting is built.
func (m *PanelManager) OnForm(f func(*fields.Form)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onForm = append(m.onForm, f)
}

// Form returns the form of a setting.
func (m *PanelManager) Form(id resource.ID) (*fields.Form, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[id]
	return f, ok
}

// Forms returns all forms sorted by setting id.
func (m *PanelManager) Forms() []*fields.Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*fields.Form, 0, len(m.forms))
	for _, f := range m.forms {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Notice returns the panel notice, empty once a resource is loaded.
func (m *PanelManager) Notice() string {
	if m.store.Len() == 0 {
		return NoticeEmpty
	}
	return ""
}

// Ensure creates the setting and form of a resource discovered by the
// preview. It is idempotent.
func (m *PanelManager) Ensure(ctx context.Context, id resource.ID, value resource.Resource) *fields.Form {
	entry, _ := m.store.Ensure(ctx, id, value)

	m.mu.Lock()
	if f, ok := m.forms[id]; ok {
		m.mu.Unlock()
		return f
	}
	f := fields.RenderIndexed(m.index, id, entry.Value,
		fields.WithLocation(m.loc),
		fields.WithLogger(m.logger),
	)
	m.forms[id] = f
	callbacks := append([]func(*fields.Form){}, m.onForm...)
	m.mu.Unlock()

	f.Bind(m.store)
	for _, cb := range callbacks {
		cb(f)
	}
	return f
}

// CustomizedQuery encodes the dirty settings as the customized parameter.
func (m *PanelManager) CustomizedQuery() ([]byte, error) {
	return customizedFrom(m.store)
}

// Save commits every dirty setting. Saved settings are marked clean and take
// the server's post-write value; failures are routed to the settings' forms.
func (m *PanelManager) Save(ctx context.Context) (*SaveResult, error) {
	if m.saver == nil {
		return nil, fmt.Errorf("%w: saver", ErrMissingDependency)
	}
	for _, f := range m.Forms() {
		f.SetMessage("")
	}

	result, err := m.saver.Save(ctx, stagedFrom(m.store, m.apiRoot))
	if err != nil {
		return nil, err
	}

	for _, id := range sortedIDs(result.Saved) {
		if err := m.store.Apply(ctx, id, result.Saved[id]); err != nil {
			m.logger.Error().Err(err).Str("setting", string(id)).Msg("apply saved value")
		}
		m.store.MarkClean(ctx, id)
	}
	if len(result.Errors) > 0 {
		if err := m.endpoint.Emit(ctx, syncchan.KindSaveErrors, syncchan.SaveErrors(result.Errors)); err != nil {
			return result, err
		}
	}
	if err := m.replay(ctx); err != nil {
		return result, err
	}
	return result, nil
}

func (m *PanelManager) handleDiscovered(ctx context.Context, msg syncchan.Message) error {
	d, err := syncchan.Decode[syncchan.Discovered](msg)
	if err != nil {
		return err
	}
	if _, err := resource.ParseID(string(d.ID)); err != nil {
		return err
	}
	m.Ensure(ctx, d.ID, d.Value)
	return nil
}

func (m *PanelManager) handleEligible(ctx context.Context, msg syncchan.Message) error {
	e, err := syncchan.Decode[syncchan.Eligible](msg)
	if err != nil {
		return err
	}
	if m.store.UpgradeTransport(ctx, e.ID) {
		m.logger.Debug().Str("setting", string(e.ID)).Msg("setting upgraded to postMessage")
	}
	return nil
}

// handleReady answers the preview with active and replays every dirty
// setting, so a reloaded preview catches up with staged state.
func (m *PanelManager) handleReady(ctx context.Context, _ syncchan.Message) error {
	if err := m.endpoint.Send(ctx, syncchan.KindActive, nil); err != nil {
		return err
	}
	return m.replay(ctx)
}

func (m *PanelManager) replay(ctx context.Context) error {
	dirty := m.store.AllDirty()
	if err := m.endpoint.Send(ctx, syncchan.KindDirtyIDs, syncchan.DirtyIDs{IDs: dirty, Full: true}); err != nil {
		return err
	}
	values := m.store.Values(dirty)
	for _, id := range dirty {
		change := syncchan.FieldChanged{ID: id, Value: values[id]}
		if err := m.endpoint.Send(ctx, syncchan.KindFieldChanged, change); err != nil {
			return err
		}
	}
	return nil
}

func (m *PanelManager) handleSaveErrors(_ context.Context, msg syncchan.Message) error {
	errs, err := syncchan.Decode[syncchan.SaveErrors](msg)
	if err != nil {
		return err
	}
	for id, message := range errs {
		if f, ok := m.Form(id); ok {
			f.SetMessage(message)
		}
	}
	return nil
}

// handleLocalChange forwards operator edits: the dirty id always, the value
// when the setting can be previewed by message, a refresh otherwise.
func (m *PanelManager) handleLocalChange(ctx context.Context, e events.Event) error {
	if e.Origin != setting.OriginLocal {
		return nil
	}
	if err := m.endpoint.Send(ctx, syncchan.KindDirtyIDs, syncchan.DirtyIDs{IDs: []resource.ID{e.ID}}); err != nil {
		return err
	}

	entry, ok := m.store.Get(e.ID)
	if !ok {
		return nil
	}
	if entry.Transport == setting.TransportPostMessage {
		return m.endpoint.Send(ctx, syncchan.KindFieldChanged, syncchan.FieldChanged{ID: e.ID, Value: entry.Value})
	}

	customized, err := m.CustomizedQuery()
	if err != nil {
		return err
	}
	m.mu.Lock()
	callbacks := append([]RefreshFunc{}, m.onRefresh...)
	m.mu.Unlock()
	for _, f := range callbacks {
		f(ctx, e.ID, customized)
	}
	return nil
}

func sortedIDs[V any](m map[resource.ID]V) []resource.ID {
	ids := make([]resource.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
