package syncchan

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("sync transport closed")

// Transport moves encoded frames between the two contexts. Send must not
// block on the peer; Receive blocks until a frame arrives, the context ends
// or the transport is closed.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// NewPipe returns two connected in-process transports. Frames sent on one
// are received on the other in order. Queues are unbounded.
func NewPipe() (Transport, Transport) {
	ab, ba := newQueue(), newQueue()
	return &pipeEnd{in: ba, out: ab}, &pipeEnd{in: ab, out: ba}
}

type pipeEnd struct {
	in  *queue
	out *queue
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	return p.out.push(append([]byte(nil), frame...))
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	return p.in.pop(ctx)
}

func (p *pipeEnd) Close() error {
	p.in.close()
	p.out.close()
	return nil
}

type queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(item []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *queue) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
