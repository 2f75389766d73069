// Package websocket carries the editor sync channel over websockets. Conn
// adapts a gorilla/websocket connection to syncchan.Transport; Hub relays
// frames between the preview and panel peers of an editing session.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/xwp/wp-customize-rest-resources/core/syncchan"
)

// Settings holds connection timeouts.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration

	// PingInterval is how often an empty frame is written to keep the
	// peer's read deadline from expiring. It must be below ReadTimeout.
	PingInterval time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// Conn is a sync transport over one websocket. Frames travel as binary
// messages; empty messages are pings and never surface from Receive.
type Conn struct {
	ws       *ws.Conn
	settings Settings

	writeMu sync.Mutex
	frames  chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ syncchan.Transport = (*Conn)(nil)

// NewConn wraps an established websocket and starts its read and ping
// loops.
func NewConn(c *ws.Conn, settings Settings) *Conn {
	conn := &Conn{
		ws:       c,
		settings: settings,
		frames:   make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go conn.readLoop()
	if settings.PingInterval > 0 {
		go conn.pingLoop()
	}
	return conn
}

// Dial connects to a sync endpoint such as
// ws://host/customize/sessions/<id>/sync/preview.
func Dial(ctx context.Context, url string, settings Settings) (*Conn, error) {
	dialer := ws.Dialer{HandshakeTimeout: settings.HandshakeTimeout}
	c, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(c, settings), nil
}

// Send writes one frame.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return syncchan.ErrClosed
	default:
	}
	return c.write(frame)
}

// Receive returns the next frame.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, syncchan.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close message and closes the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(c.settings.WriteTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the connection is closed by either side.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.settings.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	}
	if err := c.ws.WriteMessage(ws.BinaryMessage, frame); err != nil {
		// A failed write leaves the websocket unusable.
		go c.Close()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		if c.settings.ReadTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		}
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != ws.BinaryMessage && messageType != ws.TextMessage {
			continue
		}
		if len(message) == 0 {
			continue
		}
		select {
		case c.frames <- message:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(nil); err != nil {
				return
			}
		}
	}
}
