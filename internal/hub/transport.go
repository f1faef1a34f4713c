// ABOUTME: Transport abstraction carrying frames for a single connection
// ABOUTME: Includes an in-memory pipe used by tests and embedded clients

package hub

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by a Transport after Close.
var ErrTransportClosed = errors.New("transport closed")

// pipeBufferSize is the per-direction frame buffer of a Pipe.
const pipeBufferSize = 64

// Transport moves frames for one connection. Send and Recv may be called
// from different goroutines, but each of them from only one at a time.
type Transport interface {
	Send(ctx context.Context, f *Frame) error
	Recv(ctx context.Context) (*Frame, error)
	// Close tears the connection down. The reason is surfaced to the peer
	// where the transport supports it.
	Close(reason string) error
}

// pipeState is shared by both ends of a pipe.
type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	state *pipeState
	in    <-chan *Frame
	out   chan<- *Frame
}

// Pipe returns two connected in-memory transports. Closing either end
// closes both; frames already buffered remain readable.
func Pipe() (Transport, Transport) {
	a := make(chan *Frame, pipeBufferSize)
	b := make(chan *Frame, pipeBufferSize)
	state := &pipeState{done: make(chan struct{})}
	return &pipeEnd{state: state, in: a, out: b}, &pipeEnd{state: state, in: b, out: a}
}

func (p *pipeEnd) Send(ctx context.Context, f *Frame) error {
	select {
	case <-p.state.done:
		return ErrTransportClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.state.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (*Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	default:
	}
	select {
	case f := <-p.in:
		return f, nil
	case <-p.state.done:
		// Drain anything written before the close.
		select {
		case f := <-p.in:
			return f, nil
		default:
			return nil, ErrTransportClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close(string) error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
