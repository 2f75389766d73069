package restapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/clock"
	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/adapters/restapi"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

const apiRoot = "http://example.test/wp-json/"

var siteZone = time.FixedZone("UTC+2", 2*60*60)

type fixture struct {
	server  *restapi.Server
	store   *memory.ResourceStore
	clock   *clock.Fake
	metrics *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	table, err := restapi.LoadTable("testdata/routes.jsonc")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	f := &fixture{
		store:   memory.NewResourceStore(),
		clock:   clock.NewFake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	f.server, err = restapi.New(restapi.Deps{
		Store:   f.store,
		Clock:   f.clock,
		Metrics: f.metrics,
		Logger:  zerolog.Nop(),
	}, restapi.Config{
		APIRoot:  apiRoot,
		Table:    table,
		Location: siteZone,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.server.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, method, path string, body any, query ...string) *rest.Response {
	t.Helper()
	req := rest.NewRequest(method, path)
	for i := 0; i+1 < len(query); i += 2 {
		req.Query.Set(query[i], query[i+1])
	}
	if body != nil {
		if err := req.SetJSON(body); err != nil {
			t.Fatalf("SetJSON: %v", err)
		}
	}
	return f.server.Dispatch(context.Background(), req)
}

func mustResource(t *testing.T, resp *rest.Response) resource.Resource {
	t.Helper()
	if resp.IsError() {
		t.Fatalf("status = %d, error = %v", resp.Status, resp.Err())
	}
	r, ok := resp.Resource()
	if !ok {
		t.Fatalf("response data %T is not a resource", resp.Data)
	}
	return r
}

func TestNew_MissingDependency(t *testing.T) {
	table, err := restapi.LoadTable("testdata/routes.jsonc")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	tests := []struct {
		name string
		deps restapi.Deps
		cfg  restapi.Config
	}{
		{"no store", restapi.Deps{Clock: clock.NewFake(time.Now())}, restapi.Config{APIRoot: apiRoot, Table: table}},
		{"no clock", restapi.Deps{Store: memory.NewResourceStore()}, restapi.Config{APIRoot: apiRoot, Table: table}},
		{"no table", restapi.Deps{Store: memory.NewResourceStore(), Clock: clock.NewFake(time.Now())}, restapi.Config{APIRoot: apiRoot}},
		{"no root", restapi.Deps{Store: memory.NewResourceStore(), Clock: clock.NewFake(time.Now())}, restapi.Config{Table: table}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := restapi.New(tt.deps, tt.cfg); !errors.Is(err, restapi.ErrMissingDependency) {
				t.Errorf("err = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestDispatch_Index(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, http.MethodGet, "/", nil)
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	var doc struct {
		Namespaces []string `json:"namespaces"`
		Routes     []struct {
			Pattern string   `json:"pattern"`
			Methods []string `json:"methods"`
		} `json:"routes"`
	}
	if err := resp.Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := []string{
		"/",
		"/wp/v2/users",
		`/wp/v2/users/(?P<id>[\d]+)`,
		"/wp/v2/posts",
		`/wp/v2/posts/(?P<id>[\d]+)`,
	}
	if len(doc.Routes) != len(want) {
		t.Fatalf("got %d routes, want %d", len(doc.Routes), len(want))
	}
	for i, p := range want {
		if doc.Routes[i].Pattern != p {
			t.Errorf("route %d = %q, want %q", i, doc.Routes[i].Pattern, p)
		}
	}
	if len(doc.Namespaces) != 1 || doc.Namespaces[0] != "wp/v2" {
		t.Errorf("namespaces = %v", doc.Namespaces)
	}
}

func TestDispatch_Get(t *testing.T) {
	f := newFixture(t)

	t.Run("view context", func(t *testing.T) {
		resp := f.dispatch(t, http.MethodGet, "/wp/v2/posts/4", nil)
		r := mustResource(t, resp)

		if href, _ := r.SelfHref(); href != apiRoot+"wp/v2/posts/4" {
			t.Errorf("self = %q", href)
		}
		if href, _ := r.LinkHref("author"); href != apiRoot+"wp/v2/users/1" {
			t.Errorf("author link = %q", href)
		}
		title := r["title"].(map[string]any)
		if _, ok := title["raw"]; ok {
			t.Error("raw should be hidden outside the edit context")
		}
		if resp.Header.Get(rest.HeaderEditContext) != "" {
			t.Error("edit context header set on a view request")
		}
		if resp.Header.Get("ETag") == "" {
			t.Error("missing ETag")
		}
	})

	t.Run("edit context", func(t *testing.T) {
		resp := f.dispatch(t, http.MethodGet, "/wp/v2/posts/4", nil, "context", "edit")
		r := mustResource(t, resp)

		if r["title"].(map[string]any)["raw"] != "Hello" {
			t.Errorf("title = %v", r["title"])
		}
		if got := resp.Header.Get(rest.HeaderEditContext); got != rest.EditContext {
			t.Errorf("edit context header = %q", got)
		}
	})

	t.Run("embed", func(t *testing.T) {
		r := mustResource(t, f.dispatch(t, http.MethodGet, "/wp/v2/posts/4", nil, "_embed", "1"))

		authors := r.Embedded()["author"]
		if len(authors) != 1 || authors[0]["name"] != "Ann" {
			t.Fatalf("embedded author = %v", authors)
		}
		if href, _ := authors[0].SelfHref(); href != apiRoot+"wp/v2/users/1" {
			t.Errorf("embedded self = %q", href)
		}
	})

	t.Run("collection", func(t *testing.T) {
		resp := f.dispatch(t, http.MethodGet, "/wp/v2/users", nil)
		list, ok := resp.Data.([]resource.Resource)
		if !ok || len(list) != 1 {
			t.Fatalf("data = %#v", resp.Data)
		}
	})
}

func TestDispatch_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown route", http.MethodGet, "/wp/v2/pages/1", http.StatusNotFound, rest.CodeNoRoute},
		{"method not served", http.MethodPut, "/wp/v2/posts", http.StatusNotFound, rest.CodeNoRoute},
		{"missing resource", http.MethodGet, "/wp/v2/posts/999", http.StatusNotFound, rest.CodeInvalidID},
		{"write to missing resource", http.MethodPut, "/wp/v2/posts/999", http.StatusNotFound, rest.CodeInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.dispatch(t, tt.method, tt.path, nil)
			if resp.Status != tt.status {
				t.Errorf("status = %d, want %d", resp.Status, tt.status)
			}
			if e := resp.Err(); e == nil || e.Code != tt.code {
				t.Errorf("error = %+v, want code %s", e, tt.code)
			}
		})
	}
}

func TestDispatch_Options(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, http.MethodOptions, "/wp/v2/posts/4", nil)
	var doc struct {
		Namespace string   `json:"namespace"`
		Methods   []string `json:"methods"`
		Schema    struct {
			Properties map[string]struct {
				Default any `json:"default"`
			} `json:"properties"`
		} `json:"schema"`
	}
	if err := resp.Decode(&doc); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if doc.Namespace != "wp/v2" {
		t.Errorf("namespace = %q", doc.Namespace)
	}
	if doc.Methods[len(doc.Methods)-1] != http.MethodOptions {
		t.Errorf("methods = %v", doc.Methods)
	}
	if doc.Schema.Properties["status"].Default != "draft" {
		t.Errorf("status default = %v", doc.Schema.Properties["status"].Default)
	}
}

func TestDispatch_UpdateInvalid(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, http.MethodPut, "/wp/v2/posts/4", map[string]any{
		"status":     "bogus",
		"menu_order": -1,
		"title":      "Untouched",
	})
	if resp.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.Status)
	}
	e := resp.Err()
	if e.Code != rest.CodeInvalidParam {
		t.Errorf("code = %q", e.Code)
	}
	if e.Message != "Invalid parameter(s): menu_order, status" {
		t.Errorf("message = %q", e.Message)
	}
	if len(e.Data.Params) != 2 || e.Data.Params["status"] == "" || e.Data.Params["menu_order"] == "" {
		t.Errorf("params = %v", e.Data.Params)
	}

	stored, _ := f.store.Get(context.Background(), "posts", 4)
	if stored["title"].(map[string]any)["raw"] != "Hello" {
		t.Error("invalid write must not be stored")
	}
	if got := testutil.ToFloat64(f.metrics.ValidationFailures.WithLabelValues("status")); got != 1 {
		t.Errorf("validation failures for status = %v, want 1", got)
	}
}

func TestDispatch_UpdateInvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := rest.NewRequest(http.MethodPut, "/wp/v2/posts/4")
	req.Body = []byte(`{"title":`)
	resp := f.server.Dispatch(context.Background(), req)

	if e := resp.Err(); resp.Status != http.StatusBadRequest || e.Code != rest.CodeInvalidJSON {
		t.Errorf("status = %d, error = %+v", resp.Status, e)
	}
}

func TestDispatch_Update(t *testing.T) {
	f := newFixture(t)

	resp := f.dispatch(t, http.MethodPut, "/wp/v2/posts/4", map[string]any{
		"title":      "**Hi**",
		"menu_order": "3",
		"date":       "2026-03-01T10:00:00",
		"date_gmt":   "1999-01-01T00:00:00",
		"modified":   "1999-01-01T00:00:00",
	}, "context", "edit")
	r := mustResource(t, resp)

	title := r["title"].(map[string]any)
	if title["raw"] != "**Hi**" || title["rendered"] != "<p><strong>Hi</strong></p>\n" {
		t.Errorf("title = %v", title)
	}
	if r["menu_order"] != 3.0 {
		t.Errorf("menu_order = %#v, want 3", r["menu_order"])
	}
	checks := map[string]string{
		"date":         "2026-03-01T10:00:00",
		"date_gmt":     "2026-03-01T08:00:00",
		"modified":     "2026-05-01T14:00:00",
		"modified_gmt": "2026-05-01T12:00:00",
	}
	for field, want := range checks {
		if r[field] != want {
			t.Errorf("%s = %v, want %s", field, r[field], want)
		}
	}
	if r["status"] != "publish" {
		t.Errorf("unwritten status changed to %v", r["status"])
	}

	stored, _ := f.store.Get(context.Background(), "posts", 4)
	if stored["date_gmt"] != "2026-03-01T08:00:00" {
		t.Errorf("stored date_gmt = %v", stored["date_gmt"])
	}
	if _, ok := stored[resource.KeyLinks]; ok {
		t.Error("links must not be stored")
	}
}

func TestDispatch_UpdateZonedDate(t *testing.T) {
	f := newFixture(t)

	r := mustResource(t, f.dispatch(t, http.MethodPut, "/wp/v2/posts/4", map[string]any{
		"date": "2026-03-01T10:00:00Z",
	}))
	if r["date"] != "2026-03-01T12:00:00" || r["date_gmt"] != "2026-03-01T10:00:00" {
		t.Errorf("date = %v, date_gmt = %v", r["date"], r["date_gmt"])
	}
}

func TestDispatch_MethodOverride(t *testing.T) {
	f := newFixture(t)

	req := rest.NewRequest(http.MethodPost, "/wp/v2/users/1")
	req.Header.Set(rest.HeaderMethodOverride, "put")
	if err := req.SetJSON(map[string]any{"name": "Bea"}); err != nil {
		t.Fatal(err)
	}
	r := mustResource(t, f.server.Dispatch(context.Background(), req))

	if r["name"] != "Bea" {
		t.Errorf("name = %v", r["name"])
	}
}

func TestDispatch_ResponseFilter(t *testing.T) {
	f := newFixture(t)

	ctx := restapi.WithResponseFilter(context.Background(), func(data any) any {
		r := data.(resource.Resource).Clone()
		r["name"] = "first"
		return r
	})
	ctx = restapi.WithResponseFilter(ctx, func(data any) any {
		r := data.(resource.Resource).Clone()
		r["name"] = r["name"].(string) + "+second"
		return r
	})

	r := mustResource(t, f.server.Dispatch(ctx, rest.NewRequest(http.MethodGet, "/wp/v2/users/1")))
	if r["name"] != "first+second" {
		t.Errorf("name = %v", r["name"])
	}

	resp := f.server.Dispatch(ctx, rest.NewRequest(http.MethodGet, "/wp/v2/users/2"))
	if !resp.IsError() {
		t.Error("error responses should not be filtered")
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	route, params, ok := f.server.Resolve(http.MethodPut, "/wp/v2/posts/4")
	if !ok {
		t.Fatal("route not resolved")
	}
	if params["id"] != "4" {
		t.Errorf("params = %v", params)
	}
	if _, ok := route.Args["status"]; !ok {
		t.Error("status should be a write argument")
	}
	if _, ok := route.Args["id"]; ok {
		t.Error("read-only id should not be a write argument")
	}

	if _, _, ok := f.server.Resolve(http.MethodPut, "/wp/v2/posts"); ok {
		t.Error("collections are not writable")
	}
}

func TestServeHTTP(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.StripPrefix("/wp-json", f.server))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wp-json/wp/v2/posts/4?context=edit")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(rest.HeaderEditContext) != rest.EditContext {
		t.Error("missing edit context header")
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != 4.0 {
		t.Errorf("id = %v", body["id"])
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/wp-json/wp/v2/posts/4?context=edit", nil)
	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET: %v", err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", cached.StatusCode)
	}

	put, _ := http.NewRequest(http.MethodPut, srv.URL+"/wp-json/wp/v2/users/1", strings.NewReader(`{"name":""}`))
	put.Header.Set("Content-Type", rest.ContentTypeJSON)
	bad, err := http.DefaultClient.Do(put)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("PUT status = %d, want 400", bad.StatusCode)
	}
}

func TestSeed(t *testing.T) {
	f := newFixture(t)

	n, err := f.server.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded %d, want 2", n)
	}
	if count, _ := f.store.Count(context.Background(), "posts"); count != 1 {
		t.Errorf("posts = %d, want 1 after reseeding", count)
	}
}

func TestETag(t *testing.T) {
	a, err := restapi.ETag(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := restapi.ETag(map[string]any{"b": 2, "a": 1})
	c, _ := restapi.ETag(map[string]any{"a": 1})

	if a != b {
		t.Error("equal values should have equal tags")
	}
	if a == c {
		t.Error("different values should have different tags")
	}
	if !strings.HasPrefix(a, `"`) || !strings.HasSuffix(a, `"`) {
		t.Errorf("tag %s is not quoted", a)
	}
}
