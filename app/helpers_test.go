package app_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/clock"
	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/adapters/restapi"
	"github.com/xwp/wp-customize-rest-resources/app"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

const apiRoot = "http://example.test/wp-json/"

const routeTable = `{
  "namespace": "wp/v2",
  "types": [
    {
      "base": "users",
      "schema": {"properties": {
        "id": {"type": "integer", "readonly": true},
        "name": {"type": "string", "minLength": 1},
      }},
      "seed": [{"id": 1, "name": "Ann"}, {"id": 2, "name": "Bob"}],
    },
    {
      "base": "posts",
      "schema": {"properties": {
        "id": {"type": "integer", "readonly": true},
        "title": {"type": ["object", "string"], "properties": {
          "raw": {"type": "string"},
          "rendered": {"type": "string", "readonly": true},
        }},
        "status": {"type": "string", "enum": ["draft", "publish"], "default": "draft"},
        "menu_order": {"type": "integer", "minimum": 0, "default": 0},
        "meta": {"type": "object", "properties": {
          "color": {"type": "string", "default": "red"},
          "size": {"type": "integer"},
        }},
        "author": {"type": "integer"},
      }},
      "links": [{"rel": "author", "base": "users", "field": "author", "embeddable": true}],
      "seed": [
        {"id": 4, "title": {"raw": "Hello", "rendered": "<p>Hello</p>\n"}, "status": "publish", "menu_order": 0, "author": 1},
        {"id": 5, "title": {"raw": "Other", "rendered": "<p>Other</p>\n"}, "status": "publish", "menu_order": 1, "author": 2},
      ],
    },
  ],
}`

var (
	post4 = resource.ID("resource[wp/v2/posts/4]")
	post5 = resource.ID("resource[wp/v2/posts/5]")
	user1 = resource.ID("resource[wp/v2/users/1]")
)

type backend struct {
	server *restapi.Server
	store  *memory.ResourceStore
	clock  *clock.Fake
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	table, err := restapi.ParseTable([]byte(routeTable))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	b := &backend{
		store: memory.NewResourceStore(),
		clock: clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	b.server, err = restapi.New(restapi.Deps{
		Store:  b.store,
		Clock:  b.clock,
		Logger: zerolog.Nop(),
	}, restapi.Config{APIRoot: apiRoot, Table: table})
	if err != nil {
		t.Fatalf("restapi.New: %v", err)
	}
	if _, err := b.server.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return b
}

// live reads a stored resource as the REST layer serves it in the edit
// context.
func (b *backend) live(t *testing.T, id resource.ID) resource.Resource {
	t.Helper()
	r, ok := b.get(t, id.Path(), "context", "edit")
	if !ok {
		t.Fatalf("GET %s failed", id)
	}
	return r
}

func (b *backend) get(t *testing.T, path string, query ...string) (resource.Resource, bool) {
	t.Helper()
	req := newGet(path, query...)
	resp := b.server.Dispatch(context.Background(), req)
	if resp.IsError() {
		return nil, false
	}
	return resp.Resource()
}

func newGet(path string, query ...string) *rest.Request {
	req := rest.NewRequest(http.MethodGet, path)
	for i := 0; i+1 < len(query); i += 2 {
		req.Query.Set(query[i], query[i+1])
	}
	return req
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func withFilter(ctx context.Context, o *app.Overrides) context.Context {
	return restapi.WithResponseFilter(ctx, o.FilterResponse)
}
