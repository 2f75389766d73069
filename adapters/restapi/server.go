// Package restapi is a schema-driven REST resource server. Its routes come
// from a route table file; every resource carries self links, write
// arguments are derived from the item schema, and it can be dispatched
// in-process as well as served over HTTP.
package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// ErrMissingDependency is returned by New for nil collaborators.
var ErrMissingDependency = errors.New("missing dependency")

type routeKind int

const (
	kindIndex routeKind = iota
	kindCollection
	kindItem
)

type route struct {
	schema routeschema.RouteSchema
	regex  *regexp.Regexp
	kind   routeKind
	typ    *TypeDef
	args   validation.Args
	fields []routeschema.FieldDescriptor
}

// Deps contains dependencies for Server.
type Deps struct {
	Store    ports.ResourceStore
	Clock    ports.Clock
	Renderer Renderer
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
}

// Config contains configuration for Server.
type Config struct {
	// APIRoot is the absolute URL the API is mounted at, with a trailing
	// slash, such as "http://localhost:8080/wp-json/".
	APIRoot string

	Table *Table

	// Location is the site timezone of local date-times.
	Location *time.Location
}

// Server serves the resources of a route table.
type Server struct {
	apiRoot  string
	table    *Table
	routes   []*route
	store    ports.ResourceStore
	clock    ports.Clock
	renderer Renderer
	metrics  *metrics.Collector
	loc      *time.Location
	logger   zerolog.Logger
}

// New creates a server and compiles its routes.
func New(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: resource store", ErrMissingDependency)
	case deps.Clock == nil:
		return nil, fmt.Errorf("%w: clock", ErrMissingDependency)
	case cfg.Table == nil:
		return nil, fmt.Errorf("%w: route table", ErrMissingDependency)
	case cfg.APIRoot == "":
		return nil, fmt.Errorf("%w: api root", ErrMissingDependency)
	}

	s := &Server{
		apiRoot:  strings.TrimSuffix(cfg.APIRoot, "/") + "/",
		table:    cfg.Table,
		store:    deps.Store,
		clock:    deps.Clock,
		renderer: deps.Renderer,
		metrics:  deps.Metrics,
		loc:      cfg.Location,
		logger:   deps.Logger,
	}
	if s.renderer == nil {
		s.renderer = NewMarkdown()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) compile() error {
	add := func(kind routeKind, typ *TypeDef, pattern string, methods []string) error {
		regex, err := routeschema.CompileNamed(pattern)
		if err != nil {
			return fmt.Errorf("compile route %s: %w", pattern, err)
		}
		rt := &route{
			schema: routeschema.RouteSchema{Pattern: pattern, Methods: methods},
			regex:  regex,
			kind:   kind,
			typ:    typ,
		}
		if typ != nil {
			rt.schema.Schema = &typ.Schema
			if kind == kindItem {
				rt.args = validation.ArgsFromSchema(&typ.Schema)
				rt.fields = routeschema.Describe(&typ.Schema)
			}
		}
		s.routes = append(s.routes, rt)
		return nil
	}

	if err := add(kindIndex, nil, "/", []string{http.MethodGet}); err != nil {
		return err
	}
	for i := range s.table.Types {
		typ := &s.table.Types[i]
		base := "/" + s.table.Namespace + "/" + typ.Base
		if err := add(kindCollection, typ, base, []string{http.MethodGet}); err != nil {
			return err
		}
		item := []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch}
		if err := add(kindItem, typ, base+`/(?P<id>[\d]+)`, item); err != nil {
			return err
		}
	}
	return nil
}

// APIRoot returns the absolute URL prefix of every self link.
func (s *Server) APIRoot() string {
	return s.apiRoot
}

// Table returns the served route table.
func (s *Server) Table() *Table {
	return s.table
}

// RouteTable returns the route table document published at the index.
func (s *Server) RouteTable() routeschema.RouteTable {
	rt := routeschema.RouteTable{Namespaces: []string{s.table.Namespace}}
	for _, r := range s.routes {
		rt.Routes = append(rt.Routes, r.schema)
	}
	return rt
}

// Resolve finds the route serving method on path.
func (s *Server) Resolve(method, path string) (ports.Route, map[string]string, bool) {
	rt, params := s.match(path)
	if rt == nil || !allows(rt, strings.ToUpper(method)) {
		return ports.Route{}, nil, false
	}
	return ports.Route{
		Pattern: rt.schema.Pattern,
		Methods: rt.schema.Methods,
		Schema:  rt.schema.Schema,
		Args:    rt.args,
	}, params, true
}

func (s *Server) match(path string) (*route, map[string]string) {
	if path == "" {
		path = "/"
	}
	for _, rt := range s.routes {
		if rt.regex.MatchString(path) {
			return rt, routeschema.Params(rt.regex, path)
		}
	}
	return nil, nil
}

func allows(rt *route, method string) bool {
	return method == http.MethodOptions || slices.Contains(rt.schema.Methods, method)
}

// Dispatch serves a request in-process. The response filter of ctx, if any,
// is applied to successful responses.
func (s *Server) Dispatch(ctx context.Context, req *rest.Request) *rest.Response {
	start := s.clock.Now()
	method := effectiveMethod(req)

	resp := s.serve(ctx, method, req)
	if !resp.IsError() {
		if f := ResponseFilterFrom(ctx); f != nil {
			resp.Data = f(resp.Data)
		}
		if req.IsEditContext() {
			resp.Header.Set(rest.HeaderEditContext, rest.EditContext)
		}
	}
	if method == http.MethodGet && !resp.IsError() {
		if etag, err := ETag(resp.Data); err == nil {
			resp.Header.Set("ETag", etag)
		}
	}
	resp.Header.Set("Content-Type", rest.ContentTypeJSON)

	elapsed := s.clock.Now().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordDispatch(method, resp.Status, elapsed)
	}
	s.logger.Debug().
		Str("method", method).
		Str("path", req.Path).
		Int("status", resp.Status).
		Dur("duration", elapsed).
		Msg("rest dispatch")
	return resp
}

// effectiveMethod honors X-HTTP-Method-Override on POST.
func effectiveMethod(req *rest.Request) string {
	method := strings.ToUpper(req.Method)
	if method == http.MethodPost && req.Header != nil {
		if override := req.Header.Get(rest.HeaderMethodOverride); override != "" {
			method = strings.ToUpper(override)
		}
	}
	return method
}

func (s *Server) serve(ctx context.Context, method string, req *rest.Request) *rest.Response {
	rt, params := s.match(req.Path)
	if rt == nil || !allows(rt, method) {
		return rest.NewError(http.StatusNotFound, rest.CodeNoRoute,
			"No route was found matching the URL and request method.")
	}

	if method == http.MethodOptions {
		return s.options(rt)
	}

	switch rt.kind {
	case kindIndex:
		return rest.NewResponse(http.StatusOK, s.RouteTable())
	case kindCollection:
		return s.list(ctx, rt, req)
	}

	id, err := strconv.ParseInt(params["id"], 10, 64)
	if err != nil || id <= 0 {
		return rest.NewError(http.StatusNotFound, rest.CodeInvalidID, "Invalid resource ID.")
	}
	if method == http.MethodGet {
		return s.get(ctx, rt, id, req)
	}
	return s.update(ctx, rt, id, req)
}

func (s *Server) options(rt *route) *rest.Response {
	methods := append(slices.Clone(rt.schema.Methods), http.MethodOptions)
	doc := map[string]any{
		"namespace": s.table.Namespace,
		"methods":   methods,
	}
	if rt.schema.Schema != nil {
		doc["schema"] = rt.schema.Schema
	}
	return rest.NewResponse(http.StatusOK, doc)
}

func (s *Server) list(ctx context.Context, rt *route, req *rest.Request) *rest.Response {
	items, err := s.store.List(ctx, rt.typ.Base)
	if err != nil {
		return s.internal(err)
	}
	out := make([]resource.Resource, 0, len(items))
	for _, r := range items {
		out = append(out, s.prepare(ctx, rt.typ, r, req, true))
	}
	return rest.NewResponse(http.StatusOK, out)
}

func (s *Server) get(ctx context.Context, rt *route, id int64, req *rest.Request) *rest.Response {
	r, err := s.store.Get(ctx, rt.typ.Base, id)
	if errors.Is(err, ports.ErrNotFound) {
		return rest.NewError(http.StatusNotFound, rest.CodeInvalidID, "Invalid resource ID.")
	}
	if err != nil {
		return s.internal(err)
	}
	return rest.NewResponse(http.StatusOK, s.prepare(ctx, rt.typ, r, req, true))
}

func (s *Server) internal(err error) *rest.Response {
	s.logger.Error().Err(err).Msg("rest dispatch failed")
	return rest.NewError(http.StatusInternalServerError, rest.CodeInternal, "Internal server error.")
}

// prepare decorates a stored resource for a response: links, embeds when
// requested, and the raw halves of raw/rendered pairs only in the edit
// context.
func (s *Server) prepare(ctx context.Context, typ *TypeDef, r resource.Resource, req *rest.Request, embed bool) resource.Resource {
	out := r.Clone()
	id, _ := seedID(out)
	route := s.table.Namespace + "/" + typ.Base
	links := map[string]any{
		"self":       []any{map[string]any{"href": s.apiRoot + route + "/" + strconv.FormatInt(id, 10)}},
		"collection": []any{map[string]any{"href": s.apiRoot + route}},
	}

	var embedded map[string]any
	wantEmbed := embed && req.Query != nil && req.Query.Has("_embed")
	for _, link := range typ.Links {
		target, ok := seedID(resource.Resource{"id": out[link.Field]})
		if !ok {
			continue
		}
		href := s.apiRoot + s.table.Namespace + "/" + link.Base + "/" + strconv.FormatInt(target, 10)
		l := map[string]any{"href": href}
		if link.Embeddable {
			l["embeddable"] = true
		}
		links[link.Rel] = []any{l}

		if !wantEmbed || !link.Embeddable {
			continue
		}
		linked, ok := s.table.Type(link.Base)
		if !ok {
			continue
		}
		sub, err := s.store.Get(ctx, linked.Base, target)
		if err != nil {
			continue
		}
		if embedded == nil {
			embedded = make(map[string]any)
		}
		embedded[link.Rel] = []any{map[string]any(s.prepare(ctx, linked, sub, req, false))}
	}
	out[resource.KeyLinks] = links
	if embedded != nil {
		out[resource.KeyEmbedded] = embedded
	}

	if !req.IsEditContext() {
		for _, d := range routeschema.Describe(&typ.Schema) {
			if d.Kind != routeschema.KindRawRendered {
				continue
			}
			if obj, ok := out[d.Name].(map[string]any); ok {
				delete(obj, "raw")
			}
		}
	}
	return out
}
