// Package syncchan implements the ordered, asynchronous message channel
// between the preview context and the control panel context.
package syncchan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
)

// Kind names a message type.
type Kind string

const (
	// KindResourceDiscovered carries a newly fetched editable resource
	// (preview -> panel).
	KindResourceDiscovered Kind = "resource-discovered"

	// KindDirtyIDs carries a full or incremental dirty set (both ways).
	KindDirtyIDs Kind = "dirty-ids"

	// KindFieldChanged carries the authoritative new value of a setting.
	KindFieldChanged Kind = "field-changed"

	// KindPostMessageEligible asks the panel to upgrade a setting's
	// transport (preview -> panel).
	KindPostMessageEligible Kind = "postmessage-eligible"

	// KindSaveErrors carries per-setting save errors. Panel-internal.
	KindSaveErrors Kind = "save-errors"

	// KindReady is sent by the preview once it can receive.
	KindReady Kind = "ready"

	// KindActive is the panel's answer to ready. It opens the preview's
	// send buffer.
	KindActive Kind = "active"
)

// Side identifies an endpoint.
type Side string

const (
	SidePreview Side = "preview"
	SidePanel   Side = "panel"
)

// ErrInvalidSide is returned for unknown endpoint names.
var ErrInvalidSide = errors.New("invalid sync side")

// ParseSide validates an endpoint name.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SidePreview, SidePanel:
		return Side(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Peer returns the opposite side.
func (s Side) Peer() Side {
	if s == SidePreview {
		return SidePanel
	}
	return SidePreview
}

// Message is one frame on the channel.
type Message struct {
	Seq     ulid.ULID       `json:"seq"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DirtyIDs is the payload of KindDirtyIDs. Full marks a replay of the whole
// dirty set rather than an increment.
type DirtyIDs struct {
	IDs  []resource.ID `json:"ids"`
	Full bool          `json:"full,omitempty"`
}

// Discovered is the payload of KindResourceDiscovered.
type Discovered struct {
	ID    resource.ID       `json:"id"`
	Value resource.Resource `json:"value"`
}

// FieldChanged is the payload of KindFieldChanged.
type FieldChanged struct {
	ID    resource.ID       `json:"id"`
	Value resource.Resource `json:"value"`
}

// Eligible is the payload of KindPostMessageEligible.
type Eligible struct {
	ID resource.ID `json:"id"`
}

// SaveErrors is the payload of KindSaveErrors.
type SaveErrors map[resource.ID]string

// NewMessage builds a message with a fresh sequence id.
func NewMessage(kind Kind, payload any) (Message, error) {
	m := Message{Seq: ulid.Make(), Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		m.Payload = data
	}
	return m, nil
}

// Decode unmarshals the payload of m into a T.
func Decode[T any](m Message) (T, error) {
	var v T
	if len(m.Payload) == 0 {
		return v, fmt.Errorf("decode %s payload: empty", m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return v, nil
}
