package restapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ResponseFilter rewrites the payload of a successful response.
type ResponseFilter func(data any) any

type filterKey struct{}

// WithResponseFilter returns a context whose dispatches pass their payload
// through f. Filters of one context compose in registration order.
func WithResponseFilter(ctx context.Context, f ResponseFilter) context.Context {
	if prev := ResponseFilterFrom(ctx); prev != nil {
		next := f
		f = func(data any) any { return next(prev(data)) }
	}
	return context.WithValue(ctx, filterKey{}, f)
}

// ResponseFilterFrom returns the response filter of ctx, or nil.
func ResponseFilterFrom(ctx context.Context) ResponseFilter {
	f, _ := ctx.Value(filterKey{}).(ResponseFilter)
	return f
}

// ETag returns a strong entity tag of the JSON encoding of data.
func ETag(data any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode etag body: %w", err)
	}
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}
