// Package events provides the publish/subscribe bus that carries setting
// change notifications inside one editing context.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/setting"
)

// Setting event names.
const (
	SettingAdded     = "setting.added"
	SettingChanged   = "setting.changed"
	SettingClean     = "setting.clean"
	SettingTransport = "setting.transport"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "setting.changed").
	Name string

	// ID is the setting the event is about.
	ID resource.ID

	// Value is a copy of the setting value after the change.
	Value resource.Resource

	// Origin tells whether the change was made locally or received from
	// the other context.
	Origin setting.Origin

	// Meta contains additional metadata.
	Meta map[string]any
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event and returns a function that
// removes it. Supports wildcard subscriptions:
//   - "setting.changed" - exact match
//   - "setting.*" - all setting events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[event]
		for i, s := range subs {
			if s.id == id {
				b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order (exact, then
// prefix wildcard, then global wildcard) without the bus lock held, so a
// handler may publish or subscribe. Handler errors are logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("setting", string(event.ID)).
		Str("origin", string(event.Origin)).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("setting", string(event.ID)).
				Msg("event handler error")
		}
	}
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.match(event)) > 0
}

func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	add := func(key string) {
		for _, s := range b.handlers[key] {
			matched = append(matched, s.handler)
		}
	}

	add(name)
	if prefix, _, ok := strings.Cut(name, "."); ok && prefix != "" {
		add(prefix + ".*")
	}
	add("*")
	return matched
}
