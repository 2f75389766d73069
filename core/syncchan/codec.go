package syncchan

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
)

// Codec turns messages into frames and back.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// Codec names accepted by CodecByName.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// CodecByName returns the codec registered under name. An empty name selects
// JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	}
	return nil, fmt.Errorf("unknown sync codec %q", name)
}

// JSONCodec encodes frames as JSON text.
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Unmarshal(data []byte, m *Message) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("decode json frame: %w", err)
	}
	return nil
}

// CBORCodec encodes frames with CBOR Core Deterministic Encoding. The payload
// travels as a native CBOR item, not as embedded JSON text.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborFrame struct {
	Seq     ulid.ULID `cbor:"seq"`
	Kind    Kind      `cbor:"kind"`
	Payload any       `cbor:"payload,omitempty"`
}

// NewCBORCodec builds the deterministic CBOR codec.
func NewCBORCodec() (*CBORCodec, error) {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		// Decoded payload objects must be usable with encoding/json.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string { return CodecCBOR }

func (c *CBORCodec) Marshal(m Message) ([]byte, error) {
	f := cborFrame{Seq: m.Seq, Kind: m.Kind}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &f.Payload); err != nil {
			return nil, fmt.Errorf("encode cbor frame payload: %w", err)
		}
	}
	data, err := c.enc.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode cbor frame: %w", err)
	}
	return data, nil
}

func (c *CBORCodec) Unmarshal(data []byte, m *Message) error {
	var f cborFrame
	if err := c.dec.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode cbor frame: %w", err)
	}
	m.Seq = f.Seq
	m.Kind = f.Kind
	m.Payload = nil
	if f.Payload != nil {
		payload, err := json.Marshal(f.Payload)
		if err != nil {
			return fmt.Errorf("decode cbor frame payload: %w", err)
		}
		m.Payload = payload
	}
	return nil
}
