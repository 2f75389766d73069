package syncchan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrMissingTransport is returned when an endpoint is built without a
// transport.
var ErrMissingTransport = errors.New("sync endpoint requires a transport")

// Handler processes one received or emitted message.
type Handler func(ctx context.Context, m Message) error

// Observer is notified of every frame an endpoint sends or receives.
type Observer interface {
	ObserveFrame(side Side, kind Kind, direction string)
}

// Frame directions reported to an Observer.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionBuffered = "buffered"
)

// Endpoint is one side of the channel. Handlers run on the goroutine
// executing Run, one message at a time in arrival order.
//
// The preview side starts inactive: every Send except ready is buffered
// until the panel's active message arrives, then flushed in order.
type Endpoint struct {
	side      Side
	transport Transport
	codec     Codec
	logger    zerolog.Logger
	observer  Observer

	// sendMu keeps buffered and direct sends in order while flushing.
	sendMu sync.Mutex

	mu       sync.Mutex
	active   bool
	pending  []Message
	handlers map[Kind][]Handler
	onActive []func(ctx context.Context)
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithCodec sets the frame codec. JSON is the default.
func WithCodec(c Codec) Option {
	return func(e *Endpoint) { e.codec = c }
}

// WithObserver reports frames to o.
func WithObserver(o Observer) Option {
	return func(e *Endpoint) { e.observer = o }
}

// NewEndpoint creates an endpoint for side over t.
func NewEndpoint(side Side, t Transport, logger zerolog.Logger, opts ...Option) (*Endpoint, error) {
	if t == nil {
		return nil, ErrMissingTransport
	}
	if _, err := ParseSide(string(side)); err != nil {
		return nil, err
	}
	e := &Endpoint{
		side:      side,
		transport: t,
		codec:     JSONCodec{},
		logger:    logger.With().Str("side", string(side)).Logger(),
		handlers:  make(map[Kind][]Handler),
		active:    side == SidePanel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Side returns the endpoint side.
func (e *Endpoint) Side() Side {
	return e.side
}

// On registers a handler for a message kind. Handlers of one kind run in
// registration order.
func (e *Endpoint) On(kind Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], h)
}

// OnActive registers a callback run once the preview side becomes active.
// On the panel side it never fires.
func (e *Endpoint) OnActive(f func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onActive = append(e.onActive, f)
}

// Active reports whether sends go straight to the transport.
func (e *Endpoint) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Send encodes payload and sends it to the peer. On an inactive preview
// endpoint the message is buffered instead.
func (e *Endpoint) Send(ctx context.Context, kind Kind, payload any) error {
	m, err := NewMessage(kind, payload)
	if err != nil {
		return err
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	if !e.active && kind != KindReady {
		e.pending = append(e.pending, m)
		e.mu.Unlock()
		e.observe(kind, DirectionBuffered)
		return nil
	}
	e.mu.Unlock()

	return e.write(ctx, m)
}

// Emit delivers a message to this endpoint's own handlers without touching
// the transport.
func (e *Endpoint) Emit(ctx context.Context, kind Kind, payload any) error {
	m, err := NewMessage(kind, payload)
	if err != nil {
		return err
	}
	e.dispatch(ctx, m)
	return nil
}

// Activate opens the send buffer and flushes it in order. Calling it again
// is a no-op.
func (e *Endpoint) Activate(ctx context.Context) error {
	e.sendMu.Lock()
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		e.sendMu.Unlock()
		return nil
	}
	e.active = true
	pending := e.pending
	e.pending = nil
	callbacks := append([]func(context.Context){}, e.onActive...)
	e.mu.Unlock()

	e.logger.Debug().Int("buffered", len(pending)).Msg("sync channel active")

	var errs []error
	for _, m := range pending {
		if err := e.write(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	e.sendMu.Unlock()

	for _, f := range callbacks {
		f(ctx)
	}
	return errors.Join(errs...)
}

// Run receives messages until ctx ends or the transport closes. A closed
// transport ends Run with a nil error.
func (e *Endpoint) Run(ctx context.Context) error {
	for {
		frame, err := e.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		var m Message
		if err := e.codec.Unmarshal(frame, &m); err != nil {
			e.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		e.observe(m.Kind, DirectionReceived)

		if m.Kind == KindActive && e.side == SidePreview {
			if err := e.Activate(ctx); err != nil {
				e.logger.Error().Err(err).Msg("flush buffered messages")
			}
		}
		e.dispatch(ctx, m)
	}
}

// Close closes the transport.
func (e *Endpoint) Close() error {
	return e.transport.Close()
}

func (e *Endpoint) write(ctx context.Context, m Message) error {
	frame, err := e.codec.Marshal(m)
	if err != nil {
		return err
	}
	if err := e.transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind, err)
	}
	e.observe(m.Kind, DirectionSent)
	return nil
}

func (e *Endpoint) dispatch(ctx context.Context, m Message) {
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers[m.Kind]...)
	e.mu.Unlock()

	if len(handlers) == 0 {
		e.logger.Debug().Str("kind", string(m.Kind)).Msg("no handler for message")
		return
	}
	for _, h := range handlers {
		if err := h(ctx, m); err != nil {
			e.logger.Error().
				Err(err).
				Str("kind", string(m.Kind)).
				Msg("sync handler error")
		}
	}
}

func (e *Endpoint) observe(kind Kind, direction string) {
	if e.observer != nil {
		e.observer.ObserveFrame(e.side, kind, direction)
	}
}
