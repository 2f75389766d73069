package remote_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "github.com/xwp/wp-customize-rest-resources/adapters/http"
	"github.com/xwp/wp-customize-rest-resources/adapters/remote"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/bootstrap"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
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
      "seed": [{"id": 4, "status": "publish"}],
    },
  ],
}`

const apiRoot = "http://localhost:8080/wp-json/"

var post4 = resource.ID("resource[wp/v2/posts/4]")

func newClient(t *testing.T) *remote.Client {
	t.Helper()
	dir := t.TempDir()
	routesPath := filepath.Join(dir, "routes.jsonc")
	if err := os.WriteFile(routesPath, []byte(routes), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "customize-rest.yaml")
	content := "api:\n  routes_file: " + routesPath + "\ndatabase:\n  driver: memory\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: path,
		Version:    apihttp.VersionInfo{Version: "test"},
		Registry:   prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	srv := httptest.NewServer(a.HTTPServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		a.Shutdown()
	})
	return remote.NewClient(remote.ClientConfig{BaseURL: srv.URL})
}

func TestClient_Get(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	header, data, err := c.Get(ctx, "wp/v2/posts/4", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if header.Get(rest.HeaderEditContext) != rest.EditContext {
		t.Errorf("edit context header = %q", header.Get(rest.HeaderEditContext))
	}
	if post, _ := data.(map[string]any); post["status"] != "publish" {
		t.Errorf("post = %v", data)
	}

	_, data, err = c.Get(ctx, "/wp/v2/posts/4/", []byte(`{"resource[wp/v2/posts/4]": {"status": "draft"}}`))
	if err != nil {
		t.Fatalf("Get customized: %v", err)
	}
	if post, _ := data.(map[string]any); post["status"] != "draft" {
		t.Errorf("previewed post = %v", data)
	}

	_, _, err = c.Get(ctx, "wp/v2/posts/99", nil)
	if !remote.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
	var re *remote.RemoteError
	if !errors.As(err, &re) || re.Code == "" {
		t.Errorf("error code not decoded: %v", err)
	}
}

func TestClient_SaveAndValidate(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	bad := app.NewOverrides(apiRoot)
	bad.Stage(post4, resource.Resource{"status": "bogus"})
	result, err := c.Validate(ctx, bad)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.OK() || len(result.Validity[post4]) != 1 {
		t.Errorf("validate result = %+v", result)
	}

	good := app.NewOverrides(apiRoot)
	good.Stage(post4, resource.Resource{"status": "draft"})
	result, err = c.Save(ctx, good)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !result.OK() || result.Saved[post4]["status"] != "draft" {
		t.Errorf("save result = %+v", result)
	}

	_, data, err := c.Get(ctx, "wp/v2/posts/4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if post, _ := data.(map[string]any); post["status"] != "draft" {
		t.Errorf("stored post = %v", data)
	}
}

func TestClient_SessionRelay(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == "" || s.Preview == "" || s.Panel == "" {
		t.Fatalf("session = %+v", s)
	}

	preview, err := c.Dial(ctx, s.Preview)
	if err != nil {
		t.Fatalf("Dial preview: %v", err)
	}
	defer preview.Close()
	panel, err := c.Dial(ctx, s.Panel)
	if err != nil {
		t.Fatalf("Dial panel: %v", err)
	}
	defer panel.Close()

	if err := preview.Send(ctx, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	frame, err := panel.Receive(ctx)
	if err != nil || string(frame) != "hello" {
		t.Errorf("Receive = %q, %v", frame, err)
	}

	if _, err := c.Dial(ctx, s.Panel); err == nil {
		t.Error("second panel attached")
	}
}
