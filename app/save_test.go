package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
)

func newSaveService(t *testing.T, b *backend, strict bool) *app.SaveService {
	t.Helper()
	s, err := app.NewSaveService(app.SaveDeps{
		Dispatcher: b.server,
		Clock:      b.clock,
		Logger:     zerolog.Nop(),
	}, app.SaveConfig{Strict: strict})
	if err != nil {
		t.Fatalf("NewSaveService: %v", err)
	}
	return s
}

func TestNewSaveService_MissingDependency(t *testing.T) {
	b := newBackend(t)

	tests := []struct {
		name string
		deps app.SaveDeps
	}{
		{"no dispatcher", app.SaveDeps{Clock: b.clock}},
		{"no clock", app.SaveDeps{Dispatcher: b.server}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := app.NewSaveService(tt.deps, app.SaveConfig{}); !errors.Is(err, app.ErrMissingDependency) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

// Two invalid fields of one setting produce one aggregated message and two
// structured errors; the setting is not written while the other one is.
func TestSaveService_Save_ValidationErrors(t *testing.T) {
	b := newBackend(t)
	s := newSaveService(t, b, true)
	ctx := context.Background()

	bad := b.live(t, post4)
	bad["status"] = "bogus"
	bad["menu_order"] = -1.0
	good := b.live(t, user1)
	good["name"] = "Bea"

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, bad)
	staged.Stage(user1, good)

	result, err := s.Save(ctx, staged)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if result.OK() {
		t.Fatal("result should carry errors")
	}

	if got := result.Errors[post4]; got != "Invalid parameter(s): menu_order, status" {
		t.Errorf("error message = %q", got)
	}
	if got := len(result.Validity[post4]); got != 2 {
		t.Errorf("validity entries = %d, want 2", got)
	}
	if _, ok := result.Saved[post4]; ok {
		t.Error("invalid setting reported as saved")
	}
	if stored, _ := b.store.Get(ctx, "posts", 4); stored["status"] != "publish" || stored["menu_order"] != 0.0 {
		t.Errorf("invalid setting was written: %v", stored)
	}

	if saved := result.Saved[user1]; saved["name"] != "Bea" {
		t.Errorf("saved user = %v", saved)
	}
	if stored, _ := b.store.Get(ctx, "users", 1); stored["name"] != "Bea" {
		t.Errorf("stored user = %v", stored)
	}

	a, _ := s.Adapter(post4)
	if a.LastError() == nil {
		t.Error("adapter should keep the validation error")
	}
}

func TestSaveService_Save_Encoding(t *testing.T) {
	b := newBackend(t)
	s := newSaveService(t, b, true)

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, resource.Resource{"status": "bogus"})

	result, err := s.Save(context.Background(), staged)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc[app.SaveErrorsKey][string(post4)] != "Invalid parameter(s): status" {
		t.Errorf("save errors = %v", doc[app.SaveErrorsKey])
	}
}

// Without strict validation the server still rejects the write, and its
// message is reported for the setting.
func TestSaveService_Save_Lenient(t *testing.T) {
	b := newBackend(t)
	s := newSaveService(t, b, false)

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, resource.Resource{"status": "bogus"})

	result, err := s.Save(context.Background(), staged)
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Errors[post4]; got != "Invalid parameter(s): status" {
		t.Errorf("error = %q", got)
	}
	if len(result.Validity) != 0 {
		t.Errorf("commit failures carry no structured validity: %v", result.Validity)
	}

	s.UpdateConfig(app.SaveConfig{Strict: true})
	result, _ = s.Save(context.Background(), staged)
	if len(result.Validity[post4]) != 1 {
		t.Errorf("strict validity = %v", result.Validity)
	}
}

func TestSaveService_Validate(t *testing.T) {
	b := newBackend(t)
	s := newSaveService(t, b, false)
	ctx := context.Background()

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, resource.Resource{"status": "draft", "menu_order": "x"})
	staged.Stage(post5, resource.Resource{"status": "draft"})

	result, err := s.Validate(ctx, staged)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result.Errors[post4]; !ok {
		t.Error("Validate is always strict")
	}
	if _, ok := result.Errors[post5]; ok {
		t.Errorf("valid setting reported: %v", result.Errors[post5])
	}
	if len(result.Saved) != 0 {
		t.Error("Validate must not commit")
	}
	if stored, _ := b.store.Get(ctx, "posts", 5); stored["status"] != "publish" {
		t.Error("Validate wrote to the store")
	}
}

// Adapters are shared across requests; a value validated in one request
// must not leak into a read made by another.
func TestSaveService_ValidateDoesNotLeak(t *testing.T) {
	b := newBackend(t)
	s := newSaveService(t, b, true)

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, resource.Resource{"status": "draft", "menu_order": "7"})
	if result, err := s.Validate(context.Background(), staged); err != nil || !result.OK() {
		t.Fatalf("Validate = %+v, %v", result, err)
	}

	if r, _ := staged.Lookup(post4.Route()); r["menu_order"] != 7.0 {
		t.Errorf("staged menu_order = %#v, want sanitized 7", r["menu_order"])
	}

	a, err := s.Adapter(post4)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Value(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got["status"] != "publish" {
		t.Errorf("status = %v, want live publish", got["status"])
	}
}

func TestSaveService_NilOverrides(t *testing.T) {
	s := newSaveService(t, newBackend(t), true)

	result, err := s.Save(context.Background(), nil)
	if err != nil || !result.OK() || len(result.Saved) != 0 {
		t.Errorf("result = %+v, err = %v", result, err)
	}
}

func TestSaveService_Canceled(t *testing.T) {
	s := newSaveService(t, newBackend(t), true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	staged := app.NewOverrides(apiRoot)
	staged.Stage(post4, resource.Resource{"status": "draft"})
	if _, err := s.Save(ctx, staged); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
