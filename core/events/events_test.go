package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewBus(t *testing.T) {
	bus := NewBus(testLogger())
	if bus == nil {
		t.Fatal("NewBus returned nil")
	}
	if len(bus.handlers) != 0 {
		t.Error("handlers map should be empty on creation")
	}
}

func TestPublish_Order(t *testing.T) {
	bus := NewBus(testLogger())

	var order []string
	bus.Subscribe("*", func(ctx context.Context, e Event) error {
		order = append(order, "global")
		return nil
	})
	bus.Subscribe("setting.*", func(ctx context.Context, e Event) error {
		order = append(order, "prefix")
		return nil
	})
	bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		order = append(order, "exact-1")
		return nil
	})
	bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		order = append(order, "exact-2")
		return nil
	})

	bus.Publish(context.Background(), Event{Name: SettingChanged, ID: "resource[wp/v2/posts/1]"})

	want := []string{"exact-1", "exact-2", "prefix", "global"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPublish_NoMatch(t *testing.T) {
	bus := NewBus(testLogger())

	called := false
	bus.Subscribe(SettingClean, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	bus.Publish(context.Background(), Event{Name: SettingChanged})

	if called {
		t.Error("handler for another event was called")
	}
}

func TestPublish_ErrorContinues(t *testing.T) {
	bus := NewBus(testLogger())

	second := false
	bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		second = true
		return nil
	})
	bus.Publish(context.Background(), Event{Name: SettingChanged})

	if !second {
		t.Error("second handler not called after error")
	}
}

func TestPublish_Reentrant(t *testing.T) {
	bus := NewBus(testLogger())

	nested := false
	bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		bus.Subscribe(SettingClean, func(ctx context.Context, e Event) error {
			nested = true
			return nil
		})
		bus.Publish(ctx, Event{Name: SettingClean})
		return nil
	})
	bus.Publish(context.Background(), Event{Name: SettingChanged})

	if !nested {
		t.Error("nested publish did not reach handler")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())

	count := 0
	unsubscribe := bus.Subscribe(SettingChanged, func(ctx context.Context, e Event) error {
		count++
		return nil
	})
	bus.Publish(context.Background(), Event{Name: SettingChanged})
	unsubscribe()
	bus.Publish(context.Background(), Event{Name: SettingChanged})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if bus.HasSubscribers(SettingChanged) {
		t.Error("HasSubscribers after unsubscribe")
	}
}

func TestHasSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	if bus.HasSubscribers(SettingAdded) {
		t.Error("empty bus has subscribers")
	}
	bus.Subscribe("setting.*", func(ctx context.Context, e Event) error { return nil })
	if !bus.HasSubscribers(SettingAdded) {
		t.Error("wildcard subscriber not found")
	}
}
