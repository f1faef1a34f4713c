// ABOUTME: Client side of the hub protocol over any Transport
// ABOUTME: Correlates acks, auto-acknowledges server requests, and exposes inbound events

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// clientEventBuffer is the inbound event buffer of a Client.
const clientEventBuffer = 64

// ErrClientClosed is returned once the client's transport has closed.
var ErrClientClosed = errors.New("client closed")

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithManualAck disables automatic acknowledgment of server requests;
// callers must use Ack.
func WithManualAck() ClientOption {
	return func(c *Client) { c.autoAck = false }
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client speaks the hub protocol from the connecting side.
type Client struct {
	t       Transport
	logger  *slog.Logger
	autoAck bool

	events      chan *Frame
	connected   chan struct{}
	connectOnce sync.Once
	done        chan struct{}

	mu      sync.Mutex
	id      string
	pending map[uint64]chan *Frame
	nextAck uint64
	reason  string
	closed  bool
}

// NewClient starts a client on an established transport.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		t:         t,
		logger:    slog.Default(),
		autoAck:   true,
		events:    make(chan *Frame, clientEventBuffer),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan *Frame),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Dial connects to a hub websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, opts ...ClientOption) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing hub: %w", err)
	}
	return NewClient(NewWebSocketTransport(conn), opts...), nil
}

// WaitConnected blocks until the server has announced the socket id.
func (c *Client) WaitConnected(ctx context.Context) (string, error) {
	select {
	case <-c.connected:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.id, nil
	case <-c.done:
		return "", ErrClientClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed when the transport has closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Reason returns the disconnect reason announced by the server, if any.
func (c *Client) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Emit sends an event on a namespace without waiting for an ack.
func (c *Client) Emit(ctx context.Context, namespace, event string, payload any) error {
	data, err := marshalData(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return c.t.Send(ctx, &Frame{Kind: KindEvent, Namespace: NormalizeNamespace(namespace), Event: event, Data: data})
}

// Request sends a root-namespace event and waits for the ack.
// A reply carrying an error is returned as a *RemoteError.
func (c *Client) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return c.roundTrip(ctx, &Frame{Kind: KindEvent, Namespace: RootNamespace, Event: event, Data: data})
}

// Publish sends an event to a namespace and waits for the hub to confirm
// the fan-out, returning the number of recipients.
func (c *Client) Publish(ctx context.Context, namespace, event string, payload any) (int, error) {
	data, err := marshalData(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	reply, err := c.roundTrip(ctx, &Frame{Kind: KindEvent, Namespace: NormalizeNamespace(namespace), Event: event, Data: data})
	if err != nil {
		return 0, err
	}
	var n int
	if len(reply) > 0 {
		if err := json.Unmarshal(reply, &n); err != nil {
			return 0, fmt.Errorf("decoding publish reply: %w", err)
		}
	}
	return n, nil
}

// Authenticate runs the handshake and returns the success payload.
func (c *Client) Authenticate(ctx context.Context, credentials any) (json.RawMessage, error) {
	return c.Request(ctx, "authentication", credentials)
}

// Join joins a namespace.
func (c *Client) Join(ctx context.Context, namespace string) error {
	_, err := c.roundTrip(ctx, &Frame{Kind: KindJoin, Namespace: NormalizeNamespace(namespace)})
	return err
}

// Leave leaves a namespace.
func (c *Client) Leave(ctx context.Context, namespace string) error {
	_, err := c.roundTrip(ctx, &Frame{Kind: KindLeave, Namespace: NormalizeNamespace(namespace)})
	return err
}

// Next returns the next inbound event.
func (c *Client) Next(ctx context.Context) (*Frame, error) {
	select {
	case f := <-c.events:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// Events that arrived before the close are still delivered.
		select {
		case f := <-c.events:
			return f, nil
		default:
			return nil, ErrClientClosed
		}
	}
}

// Ack acknowledges a server request received through Next.
func (c *Client) Ack(ctx context.Context, f *Frame) error {
	if f.AckID == 0 {
		return nil
	}
	return c.t.Send(ctx, &Frame{Kind: KindAck, Namespace: f.Namespace, AckID: f.AckID})
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.t.Close("")
}

func (c *Client) roundTrip(ctx context.Context, f *Frame) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.nextAck++
	f.AckID = c.nextAck
	ch := make(chan *Frame, 1)
	c.pending[f.AckID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.AckID)
		c.mu.Unlock()
	}()

	if err := c.t.Send(ctx, f); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if err := reply.Err(); err != nil {
			return nil, err
		}
		return reply.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The ack may have been delivered just before the close.
		select {
		case reply := <-ch:
			if err := reply.Err(); err != nil {
				return nil, err
			}
			return reply.Data, nil
		default:
			return nil, ErrClientClosed
		}
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	}()

	ctx := context.Background()
	for {
		f, err := c.t.Recv(ctx)
		if err != nil {
			if !errors.Is(err, ErrTransportClosed) {
				c.logger.Debug("client read failed", "error", err)
			}
			return
		}

		switch f.Kind {
		case KindConnect:
			var info ConnectInfo
			_ = json.Unmarshal(f.Data, &info)
			c.mu.Lock()
			c.id = info.ID
			c.mu.Unlock()
			c.connectOnce.Do(func() { close(c.connected) })
		case KindAck:
			c.mu.Lock()
			ch, ok := c.pending[f.AckID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
		case KindDisconnect:
			var reason string
			_ = json.Unmarshal(f.Data, &reason)
			c.mu.Lock()
			c.reason = reason
			c.mu.Unlock()
			_ = c.t.Close(reason)
		case KindEvent:
			c.handleEvent(f)
		}
	}
}

func (c *Client) handleEvent(f *Frame) {
	if c.autoAck && f.AckID != 0 {
		if err := c.Ack(context.Background(), f); err != nil {
			c.logger.Debug("client ack failed", "event", f.Event, "error", err)
		}
	}
	select {
	case c.events <- f:
	default:
		c.logger.Debug("client event buffer full, dropping", "event", f.Event)
	}
}
