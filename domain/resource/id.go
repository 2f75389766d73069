package resource

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ID identifies the editable setting for a resource: "resource[<route>]",
// where route is the self-link path relative to the API root.
type ID string

// IDPrefix is the setting type prefix of every resource identifier.
const IDPrefix = "resource"

var (
	// ErrInvalidID is returned for identifiers that do not follow the
	// resource[<route>] syntax.
	ErrInvalidID = errors.New("invalid resource identifier")

	// ErrOutsideRoot is returned when a self link does not live under the
	// configured API root.
	ErrOutsideRoot = errors.New("link is outside the api root")
)

// NewID builds the identifier for a route path. Leading and trailing slashes
// are trimmed; empty routes and routes containing brackets are rejected.
func NewID(route string) (ID, error) {
	route = strings.Trim(route, "/")
	if route == "" {
		return "", fmt.Errorf("%w: empty route", ErrInvalidID)
	}
	if strings.ContainsAny(route, "[]") {
		return "", fmt.Errorf("%w: route %q contains brackets", ErrInvalidID, route)
	}
	return ID(IDPrefix + "[" + route + "]"), nil
}

// ParseID validates an identifier string.
func ParseID(s string) (ID, error) {
	if !strings.HasPrefix(s, IDPrefix+"[") || !strings.HasSuffix(s, "]") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	route := s[len(IDPrefix)+1 : len(s)-1]
	id, err := NewID(route)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if string(id) != s {
		// Slashes around the route are not part of the canonical form.
		return "", fmt.Errorf("%w: %q is not canonical", ErrInvalidID, s)
	}
	return id, nil
}

// Route returns the route path (no leading slash) of a valid identifier.
func (id ID) Route() string {
	s := string(id)
	if len(s) < len(IDPrefix)+2 {
		return ""
	}
	return s[len(IDPrefix)+1 : len(s)-1]
}

// Path returns the route as a request path with a leading slash.
func (id ID) Path() string {
	return "/" + id.Route()
}

// Label is the human readable form of the identifier used as a control label.
func (id ID) Label() string {
	return id.Route()
}

func (id ID) String() string {
	return string(id)
}

// Resolve derives the identifier of a top-level resource from its self link.
// It reports false when the resource has no self link or the link is not
// under apiRoot. Embedded sub-resources must be resolved separately.
func Resolve(r Resource, apiRoot string) (ID, bool) {
	href, ok := r.SelfHref()
	if !ok {
		return "", false
	}
	route, err := RouteFromHref(href, apiRoot)
	if err != nil {
		return "", false
	}
	id, err := NewID(route)
	if err != nil {
		return "", false
	}
	return id, true
}

// RouteFromHref strips apiRoot from a link href and returns the route path
// without surrounding slashes, query or fragment.
func RouteFromHref(href, apiRoot string) (string, error) {
	var rest string
	switch {
	case apiRoot != "" && strings.HasPrefix(href, apiRoot) && onBoundary(href, apiRoot):
		rest = href[len(apiRoot):]
	default:
		// Fall back to comparing URL paths so that scheme or host spelling
		// differences (http vs https, default ports) do not matter.
		hu, err := url.Parse(href)
		if err != nil {
			return "", fmt.Errorf("parse href: %w", err)
		}
		ru, err := url.Parse(apiRoot)
		if err != nil {
			return "", fmt.Errorf("parse api root: %w", err)
		}
		rootPath := strings.TrimSuffix(ru.Path, "/")
		if hu.Path != rootPath && !strings.HasPrefix(hu.Path, rootPath+"/") {
			return "", fmt.Errorf("%w: %s not under %s", ErrOutsideRoot, href, apiRoot)
		}
		rest = hu.Path[len(rootPath):]
	}

	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.Trim(rest, "/"), nil
}

// onBoundary reports whether the prefix root of href ends a path segment.
func onBoundary(href, root string) bool {
	if strings.HasSuffix(root, "/") || len(href) == len(root) {
		return true
	}
	return strings.ContainsRune("/?#", rune(href[len(root)]))
}
