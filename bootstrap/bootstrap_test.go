package bootstrap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	apihttp "github.com/xwp/wp-customize-rest-resources/adapters/http"
	"github.com/xwp/wp-customize-rest-resources/bootstrap"
)

const routes = `{
  "namespace": "wp/v2",
  "types": [
    {
      "base": "posts",
      "schema": {"properties": {
        "id": {"type": "integer", "readonly": true},
        "status": {"type": "string", "enum": ["draft", "publish"], "default": "draft"},
      }},
      "seed": [{"id": 4, "status": "publish"}, {"id": 5, "status": "draft"}],
    },
  ],
}`

func writeFiles(t *testing.T, db string) string {
	t.Helper()
	dir := t.TempDir()
	routesPath := filepath.Join(dir, "routes.jsonc")
	if err := os.WriteFile(routesPath, []byte(routes), 0o644); err != nil {
		t.Fatal(err)
	}
	if db == "" {
		db = "database:\n  driver: memory\n"
	}
	content := "api:\n  routes_file: " + routesPath + "\n" + db + `
logging:
  level: error
metrics:
  enabled: true
`
	path := filepath.Join(dir, "customize-rest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newApp(t *testing.T, path string) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: path,
		Version:    apihttp.VersionInfo{Version: "test"},
		Registry:   prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return app
}

func TestNew_MemoryServesSeededResources(t *testing.T) {
	app := newApp(t, writeFiles(t, ""))
	defer app.Shutdown()

	if app.DB != nil {
		t.Error("memory driver opened a database")
	}

	srv := httptest.NewServer(app.HTTPServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wp-json/wp/v2/posts/4")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var post map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		t.Fatal(err)
	}
	if post["status"] != "publish" {
		t.Errorf("post = %v", post)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestNew_SQLiteSeedsOnce(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "customize.db")
	path := writeFiles(t, "database:\n  driver: sqlite\n  dsn: "+dsn+"\n")

	app := newApp(t, path)
	if app.DB == nil {
		t.Fatal("sqlite driver has no database")
	}
	ctx := context.Background()
	if n, err := app.Store.Count(ctx, "posts"); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v; want 2", n, err)
	}
	app.Shutdown()

	app = newApp(t, path)
	defer app.Shutdown()
	if n, err := app.Store.Count(ctx, "posts"); err != nil || n != 2 {
		t.Errorf("after restart Count = %d, %v; want 2", n, err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing routes file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "customize-rest.yaml")
		content := "api:\n  routes_file: " + filepath.Join(t.TempDir(), "none.jsonc") + "\ndatabase:\n  driver: memory\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := bootstrap.New(context.Background(), bootstrap.Options{ConfigPath: path})
		if err == nil || !strings.Contains(err.Error(), "load routes") {
			t.Errorf("err = %v, want load routes error", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "customize-rest.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := bootstrap.New(context.Background(), bootstrap.Options{ConfigPath: path}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestApp_ConfigReload(t *testing.T) {
	path := writeFiles(t, "")
	app := newApp(t, path)
	defer app.Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, []byte("editor:\n  strict_validation: false\n")...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := app.Config.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if app.Config.Get().Editor.Strict() {
		t.Error("reloaded config is still strict")
	}
	if got := testutil.ToFloat64(app.Metrics.ConfigReloads); got != 1 {
		t.Errorf("ConfigReloads = %v, want 1", got)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := app.Config.Reload(); err == nil {
		t.Fatal("Reload accepted an invalid config")
	}
	if got := testutil.ToFloat64(app.Metrics.ConfigReloadErrors); got != 1 {
		t.Errorf("ConfigReloadErrors = %v, want 1", got)
	}
}

func TestApp_RunStopsWithContext(t *testing.T) {
	app := newApp(t, writeFiles(t, ""))
	app.HTTPServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := app.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
}
