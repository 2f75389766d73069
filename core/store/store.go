// Package store provides the setting store and dirty tracker of one editing
// context.
//
// Each context (preview, panel) owns its own Store; the two are reconciled
// only by messages over the sync channel. Change notifications are published
// on an events.Bus after the store lock is released.
package store

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/core/events"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/setting"
)

// ErrNilValue is returned when a setting is set to a nil resource.
var ErrNilValue = errors.New("setting value is nil")

// Store maps setting identifiers to staged values.
type Store struct {
	mu      sync.RWMutex
	entries map[resource.ID]*setting.Entry
	order   []resource.ID
	bus     *events.Bus
	logger  zerolog.Logger
}

// New creates an empty store publishing to bus.
func New(bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{
		entries: make(map[resource.ID]*setting.Entry),
		bus:     bus,
		logger:  logger,
	}
}

// Bus returns the bus the store publishes change events to.
func (s *Store) Bus() *events.Bus {
	return s.bus
}

// Ensure returns the entry for id, creating it from initial when absent.
// Embedded sub-resources are stripped before storing. Calling Ensure again
// for an existing id returns the stored entry untouched; created reports
// whether a new entry was made.
func (s *Store) Ensure(ctx context.Context, id resource.ID, initial resource.Resource) (entry setting.Entry, created bool) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		entry = snapshot(e)
		s.mu.Unlock()
		return entry, false
	}

	value := initial.WithoutEmbedded()
	if value == nil {
		value = resource.Resource{}
	}
	e := &setting.Entry{ID: id, Value: value, Transport: setting.TransportRefresh}
	s.entries[id] = e
	s.order = append(s.order, id)
	entry = snapshot(e)
	s.mu.Unlock()

	s.publish(ctx, events.SettingAdded, entry, setting.OriginLocal)
	return entry, true
}

// Set replaces the value of id with an edit made in this context, marks it
// dirty and notifies listeners. Setting an equal value is a no-op.
func (s *Store) Set(ctx context.Context, id resource.ID, value resource.Resource) error {
	return s.update(ctx, id, value, setting.OriginLocal)
}

// Apply is Set for a value received from the other context. Listeners see
// OriginRemote and must not send it back.
func (s *Store) Apply(ctx context.Context, id resource.ID, value resource.Resource) error {
	return s.update(ctx, id, value, setting.OriginRemote)
}

func (s *Store) update(ctx context.Context, id resource.ID, value resource.Resource, origin setting.Origin) error {
	if value == nil {
		return ErrNilValue
	}
	value = value.WithoutEmbedded()

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &setting.Entry{ID: id, Transport: setting.TransportRefresh}
		s.entries[id] = e
		s.order = append(s.order, id)
	} else if reflect.DeepEqual(map[string]any(e.Value), map[string]any(value)) {
		s.mu.Unlock()
		return nil
	}
	e.Value = value
	e.Dirty = true
	entry := snapshot(e)
	s.mu.Unlock()

	s.logger.Debug().
		Str("setting", string(id)).
		Str("origin", string(origin)).
		Msg("setting changed")

	s.publish(ctx, events.SettingChanged, entry, origin)
	return nil
}

// MarkDirty flags id as dirty without changing its value. Used when the other
// context reports an id dirty before its value arrives.
func (s *Store) MarkDirty(id resource.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Dirty = true
	return true
}

// MarkClean clears the dirty flag of id. Returns false if id is unknown.
func (s *Store) MarkClean(ctx context.Context, id resource.ID) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.Dirty {
		s.mu.Unlock()
		return ok
	}
	e.Dirty = false
	entry := snapshot(e)
	s.mu.Unlock()

	s.publish(ctx, events.SettingClean, entry, setting.OriginLocal)
	return true
}

// AllDirty returns the dirty identifiers in insertion order.
func (s *Store) AllDirty() []resource.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []resource.ID
	for _, id := range s.order {
		if s.entries[id].Dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// UpgradeTransport moves id from refresh to postMessage transport. It
// reports whether an upgrade happened; absent or already upgraded entries
// are left alone.
func (s *Store) UpgradeTransport(ctx context.Context, id resource.ID) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.Transport == setting.TransportPostMessage {
		s.mu.Unlock()
		return false
	}
	e.Transport = setting.TransportPostMessage
	entry := snapshot(e)
	s.mu.Unlock()

	s.publish(ctx, events.SettingTransport, entry, setting.OriginLocal)
	return true
}

// Get returns a copy of the entry for id.
func (s *Store) Get(id resource.ID) (setting.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return setting.Entry{}, false
	}
	return snapshot(e), true
}

// Has reports whether id is known.
func (s *Store) Has(id resource.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// IDs returns all identifiers in insertion order.
func (s *Store) IDs() []resource.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]resource.ID(nil), s.order...)
}

// Len returns the number of settings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Values returns copies of the values of the given ids that exist.
func (s *Store) Values(ids []resource.ID) map[resource.ID]resource.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[resource.ID]resource.Resource, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out[id] = e.Value.Clone()
		}
	}
	return out
}

func (s *Store) publish(ctx context.Context, name string, entry setting.Entry, origin setting.Origin) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Name:   name,
		ID:     entry.ID,
		Value:  entry.Value,
		Origin: origin,
		Meta: map[string]any{
			"dirty":     entry.Dirty,
			"transport": string(entry.Transport),
		},
	})
}

func snapshot(e *setting.Entry) setting.Entry {
	c := *e
	c.Value = e.Value.Clone()
	return c
}
