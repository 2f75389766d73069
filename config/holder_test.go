package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/config"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", got.Logging.Level)
	}
	if h.Path() != path {
		t.Errorf("Path = %s, want %s", h.Path(), path)
	}
}

func TestHolder_ReloadNotifies(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var got *config.Config
	h.OnChange(func(cfg *config.Config) { got = cfg })

	content := `
logging:
  level: debug
editor:
  strict_validation: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got == nil {
		t.Fatal("OnChange not called")
	}
	if got.Logging.Level != "debug" || got.Editor.Strict() {
		t.Errorf("callback config = %+v", got)
	}
	if h.Get() != got {
		t.Error("Get should return the reloaded config")
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var failures int
	h.OnError(func(error) { failures++ })

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if failures != 1 {
		t.Errorf("OnError calls = %d, want 1", failures)
	}
	if h.Get().Logging.Level != "info" {
		t.Errorf("should keep old config, got level %s", h.Get().Logging.Level)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan struct{}, 8)
	h.OnChange(func(*config.Config) { changed <- struct{}{} })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}

	// A write may fire more than one event; wait for the final state.
	deadline := time.Now().Add(2 * time.Second)
	for h.Get().Logging.Level != "warn" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Get().Logging.Level != "warn" {
		t.Errorf("after file watch, level = %s, want warn", h.Get().Logging.Level)
	}
}

func TestHolder_Static(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	h := config.NewStaticHolder(cfg, zerolog.Nop())
	defer h.Stop()

	if err := h.Reload(); err != nil {
		t.Errorf("static Reload = %v, want nil", err)
	}
	if h.Get() != cfg {
		t.Error("static holder replaced its config")
	}
	if err := h.WatchFile(); err == nil {
		t.Error("static holder has no file to watch")
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	reloadable := config.ReloadableFields()
	restart := config.NonReloadableFields()

	for _, f := range []string{"logging.level", "editor.strict_validation"} {
		if !slices.Contains(reloadable, f) {
			t.Errorf("%s not in ReloadableFields", f)
		}
	}
	for _, f := range []string{"server.port", "api.mount", "database.dsn", "editor.timezone"} {
		if !slices.Contains(restart, f) {
			t.Errorf("%s not in NonReloadableFields", f)
		}
	}
	for _, f := range reloadable {
		if slices.Contains(restart, f) {
			t.Errorf("%s listed as both reloadable and not", f)
		}
	}
}

// Helpers

func validConfig() string {
	return `
server:
  port: 8080
database:
  driver: memory
logging:
  level: info
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
