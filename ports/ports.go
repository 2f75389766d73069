// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/xwp/wp-customize-rest-resources/core/validation"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// REST Layer Ports
// -----------------------------------------------------------------------------

// Route is a resolved REST route with the write arguments declared for it.
type Route struct {
	Pattern string
	Methods []string
	Schema  *routeschema.Schema
	Args    validation.Args
}

// Dispatcher executes REST requests in-process.
type Dispatcher interface {
	// Dispatch serves a request and never returns nil.
	Dispatch(ctx context.Context, req *rest.Request) *rest.Response

	// Resolve finds the route serving method on path and the arguments
	// captured from the path.
	Resolve(method, path string) (Route, map[string]string, bool)

	// APIRoot is the absolute URL prefix of every self link.
	APIRoot() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ResourceStore persists the resources served by the REST layer, keyed by
// resource type and numeric id.
type ResourceStore interface {
	// Get retrieves one resource.
	Get(ctx context.Context, typ string, id int64) (resource.Resource, error)

	// List returns all resources of a type ordered by id.
	List(ctx context.Context, typ string) ([]resource.Resource, error)

	// Put creates or replaces a resource.
	Put(ctx context.Context, typ string, id int64, r resource.Resource) error

	// Count returns the number of resources of a type.
	Count(ctx context.Context, typ string) (int, error)
}
