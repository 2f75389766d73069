package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
)

// Overrides is the request-scoped map of staged resource values keyed by
// route. It is rebuilt from the customized parameter on every request and is
// never persisted.
type Overrides struct {
	apiRoot string

	mu     sync.RWMutex
	staged map[string]resource.Resource
}

// NewOverrides creates an empty override map for resources under apiRoot.
func NewOverrides(apiRoot string) *Overrides {
	return &Overrides{
		apiRoot: apiRoot,
		staged:  make(map[string]resource.Resource),
	}
}

// ParseCustomized builds overrides from the customized parameter: a JSON
// object mapping setting ids to JSON objects, or to strings holding JSON
// objects. Keys without the resource prefix belong to other settings and are
// skipped, as are values that do not decode to objects. A key with the
// resource prefix that is not a valid id is an error.
func ParseCustomized(raw []byte, apiRoot string) (*Overrides, error) {
	o := NewOverrides(apiRoot)
	if len(raw) == 0 {
		return o, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode customized: %w", err)
	}
	for key, value := range entries {
		if !strings.HasPrefix(key, resource.IDPrefix+"[") {
			continue
		}
		id, err := resource.ParseID(key)
		if err != nil {
			return nil, fmt.Errorf("decode customized: %w", err)
		}
		r, ok := decodeStaged(value)
		if !ok {
			continue
		}
		o.Stage(id, r)
	}
	return o, nil
}

func decodeStaged(value json.RawMessage) (resource.Resource, bool) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		value = json.RawMessage(s)
	}
	r, err := resource.Decode(value)
	if err != nil || r == nil {
		return nil, false
	}
	return r, true
}

// Stage registers value as the staged state of id.
func (o *Overrides) Stage(id resource.ID, value resource.Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.staged[id.Route()] = value.WithoutEmbedded()
}

// Lookup returns the staged value of a route.
func (o *Overrides) Lookup(route string) (resource.Resource, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.staged[route]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Len returns the number of staged resources.
func (o *Overrides) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.staged)
}

// IDs returns the staged ids in sorted order.
func (o *Overrides) IDs() []resource.ID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]resource.ID, 0, len(o.staged))
	for route := range o.staged {
		if id, err := resource.NewID(route); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON encodes the staged values as a customized document keyed by
// setting id.
func (o *Overrides) MarshalJSON() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	doc := make(map[resource.ID]resource.Resource, len(o.staged))
	for route, value := range o.staged {
		if id, err := resource.NewID(route); err == nil {
			doc[id] = value
		}
	}
	return json.Marshal(doc)
}

// FilterResponse substitutes staged values into a response payload. Lists are
// filtered item by item. A staged resource replaces the live one; the live
// _links and _embedded are kept when the staged value lacks them. Embedded
// resources are filtered recursively and unstaged ones are left untouched.
func (o *Overrides) FilterResponse(data any) any {
	if o == nil || o.Len() == 0 {
		return data
	}
	switch v := data.(type) {
	case resource.Resource:
		return o.filterOne(v)
	case map[string]any:
		return map[string]any(o.filterOne(resource.Resource(v)))
	case []resource.Resource:
		out := make([]resource.Resource, len(v))
		for i, r := range v {
			out[i] = o.filterOne(r)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = o.FilterResponse(item)
		}
		return out
	default:
		return data
	}
}

func (o *Overrides) filterOne(r resource.Resource) resource.Resource {
	out, replaced := r, false
	if href, ok := r.SelfHref(); ok {
		if route, err := resource.RouteFromHref(href, o.apiRoot); err == nil {
			if staged, ok := o.Lookup(route); ok {
				for _, key := range []string{resource.KeyLinks, resource.KeyEmbedded} {
					if _, has := staged[key]; !has {
						if live, ok := r[key]; ok {
							staged[key] = resource.CloneValue(live)
						}
					}
				}
				out, replaced = staged, true
			}
		}
	}

	groups, ok := out[resource.KeyEmbedded].(map[string]any)
	if !ok {
		return out
	}
	filtered := make(map[string]any, len(groups))
	for rel, group := range groups {
		filtered[rel] = o.FilterResponse(group)
	}
	if !replaced {
		out = r.Clone()
	}
	out[resource.KeyEmbedded] = filtered
	return out
}

type overridesKey struct{}

// WithOverrides returns a context carrying the request's overrides.
func WithOverrides(ctx context.Context, o *Overrides) context.Context {
	return context.WithValue(ctx, overridesKey{}, o)
}

// OverridesFrom returns the overrides of the request context, or nil.
func OverridesFrom(ctx context.Context) *Overrides {
	o, _ := ctx.Value(overridesKey{}).(*Overrides)
	return o
}
