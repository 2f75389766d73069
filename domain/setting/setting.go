// Package setting provides the value types for editable resource settings.
package setting

import (
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
)

// Transport defines how a setting change reaches the preview.
type Transport string

const (
	TransportRefresh     Transport = "refresh"     // Preview re-requests resources with staged overrides
	TransportPostMessage Transport = "postMessage" // Value is pushed to bound live models
)

// Origin tells listeners where a value change came from.
type Origin string

const (
	OriginLocal  Origin = "local"  // Edited in this context
	OriginRemote Origin = "remote" // Received from the other context
)

// Entry is the staged representation of one resource (immutable value type).
type Entry struct {
	ID        resource.ID
	Value     resource.Resource
	Dirty     bool
	Transport Transport
}

// State is the server-side lifecycle of a setting within one request.
type State string

const (
	StateUnbound    State = "unbound"    // No staged or saved value
	StatePreviewing State = "previewing" // Staged override registered for this request
	StateDirty      State = "dirty"      // Value proposed, not yet committed
	StateSaved      State = "saved"      // Committed; server body is authoritative
	StateErrored    State = "errored"    // Commit rejected by the server
)

// CanTransition reports whether the adapter may move from one state to another.
func CanTransition(from, to State) bool {
	switch from {
	case StateUnbound:
		return to == StatePreviewing || to == StateDirty
	case StatePreviewing:
		return to == StateDirty || to == StatePreviewing
	case StateDirty:
		return to == StateDirty || to == StateSaved || to == StateErrored
	case StateSaved, StateErrored:
		return to == StateDirty
	}
	return false
}
