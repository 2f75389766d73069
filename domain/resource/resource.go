// Package resource provides the value types for REST resources and the pure
// functions that derive their editing identifiers.
package resource

import (
	"encoding/json"
	"fmt"
)

// Resource is a decoded JSON resource document as served by the REST API.
// It may carry "_links" and an "_embedded" map of sub-resource groups.
type Resource map[string]any

// Reserved resource keys.
const (
	KeyLinks    = "_links"
	KeyEmbedded = "_embedded"
)

// Decode parses a single JSON object into a Resource.
func Decode(data []byte) (Resource, error) {
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("decode resource: not a JSON object")
	}
	return r, nil
}

// DecodeAll parses a response body that is either a single resource or a
// list of resources. Non-object list items are skipped.
func DecodeAll(data []byte) ([]Resource, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return []Resource{Resource(v)}, nil
	case []any:
		list := make([]Resource, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				list = append(list, Resource(m))
			}
		}
		return list, nil
	default:
		return nil, nil
	}
}

// SelfHref returns the href of the first "self" link.
func (r Resource) SelfHref() (string, bool) {
	return r.LinkHref("self")
}

// LinkHref returns the href of the first link with the given relation.
func (r Resource) LinkHref(rel string) (string, bool) {
	links, ok := r[KeyLinks].(map[string]any)
	if !ok {
		return "", false
	}

	var first any
	switch l := links[rel].(type) {
	case []any:
		if len(l) == 0 {
			return "", false
		}
		first = l[0]
	case []map[string]any:
		if len(l) == 0 {
			return "", false
		}
		first = l[0]
	default:
		return "", false
	}

	link, ok := first.(map[string]any)
	if !ok {
		return "", false
	}
	href, ok := link["href"].(string)
	if !ok || href == "" {
		return "", false
	}
	return href, true
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return Resource(cloneMap(r))
}

// WithoutEmbedded returns a deep copy with the "_embedded" payload removed.
// Embedded resources are tracked as settings of their own.
func (r Resource) WithoutEmbedded() Resource {
	c := r.Clone()
	if c != nil {
		delete(c, KeyEmbedded)
	}
	return c
}

// Embedded returns the embedded groups keyed by relation. Each group is a
// list of sub-resources; entries that are not JSON objects are left out.
func (r Resource) Embedded() map[string][]Resource {
	groups, ok := r[KeyEmbedded].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]Resource, len(groups))
	for rel, group := range groups {
		items, ok := group.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out[rel] = append(out[rel], Resource(m))
			}
		}
	}
	return out
}

// JSON encodes the resource. Map keys come out sorted, which makes the
// encoding canonical for equal values.
func (r Resource) JSON() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}

// CloneValue deep-copies a decoded JSON value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Resource:
		return Resource(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return t
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}
