// ABOUTME: Socket is the server side of one multiplexed client connection
// ABOUTME: Dispatches inbound frames, tracks pending acks, and owns the graceful close sequence

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/quartz"
)

const (
	// outboxSize is the outbound frame buffer for each socket.
	// Matches the broadcaster subscriber buffer (64 frames).
	outboxSize = 64
)

var (
	// ErrSocketClosed is returned when emitting on a disconnected socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrUnknownEvent is replied to requests for events without a handler.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNotPermitted is replied when a socket publishes to a namespace it
	// is not receiving from.
	ErrNotPermitted = errors.New("not permitted")
)

// ReplyFunc answers an inbound frame that requested an acknowledgment.
// Only the first call has an effect.
type ReplyFunc func(err error, payload any)

// Handler reacts to an inbound event on the root namespace. Handlers run on
// the socket's read loop and must not block; reply may be nil when the
// client did not ask for an acknowledgment.
type Handler func(ctx context.Context, data json.RawMessage, reply ReplyFunc)

// Socket represents one client connection.
type Socket struct {
	id        string
	server    *Server
	transport Transport
	clock     quartz.Clock
	logger    *slog.Logger

	authenticated atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan *Frame

	mu         sync.Mutex
	handlers   map[string]Handler
	pending    map[uint64]chan *Frame
	nextAck    uint64
	namespaces map[string]*Namespace
	values     map[string]any
	inflight   int
	closing    bool
	reason     string
	closeOnce  sync.Once
	writerDone chan struct{}
}

func newSocket(ctx context.Context, srv *Server, id string, t Transport) *Socket {
	ctx, cancel := context.WithCancel(ctx)
	return &Socket{
		id:         id,
		server:     srv,
		transport:  t,
		clock:      srv.clock,
		logger:     srv.logger.With("socket_id", id),
		ctx:        ctx,
		cancel:     cancel,
		outbox:     make(chan *Frame, outboxSize),
		handlers:   make(map[string]Handler),
		pending:    make(map[uint64]chan *Frame),
		namespaces: make(map[string]*Namespace),
		values:     make(map[string]any),
		writerDone: make(chan struct{}),
	}
}

// ID returns the socket's unique id.
func (s *Socket) ID() string {
	return s.id
}

// Authenticated reports the socket's authorization flag.
func (s *Socket) Authenticated() bool {
	return s.authenticated.Load()
}

// SetAuthenticated sets the socket's authorization flag.
func (s *Socket) SetAuthenticated(v bool) {
	s.authenticated.Store(v)
}

// Context is cancelled once the underlying transport has closed.
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Reason returns the disconnect reason, or "" while connected.
func (s *Socket) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Connected reports whether Disconnect has not been requested yet.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

// On registers the handler for an inbound root-namespace event,
// replacing any previous one.
func (s *Socket) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Set stores a per-socket value.
func (s *Socket) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Delete removes a per-socket value.
func (s *Socket) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Value returns a per-socket value.
func (s *Socket) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Namespaces returns the namespaces the socket has joined.
func (s *Socket) Namespaces() []*Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	return out
}

func (s *Socket) track(ns *Namespace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[ns.Name()] = ns
}

func (s *Socket) untrack(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, name)
}

// Emit sends an event on the given namespace without waiting for an ack.
func (s *Socket) Emit(ctx context.Context, namespace, event string, payload any) error {
	data, err := marshalData(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return ErrSocketClosed
	}

	return s.enqueue(ctx, &Frame{
		Kind:      KindEvent,
		Namespace: NormalizeNamespace(namespace),
		Event:     event,
		Data:      data,
	})
}

// EmitWithAck sends a root-namespace event and blocks until the client
// acknowledges it, ctx is done, or the socket closes.
func (s *Socket) EmitWithAck(ctx context.Context, event string, payload any) (*Frame, error) {
	data, err := marshalData(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	s.nextAck++
	ackID := s.nextAck
	ch := make(chan *Frame, 1)
	s.pending[ackID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, ackID)
		s.mu.Unlock()
	}()

	f := &Frame{Kind: KindEvent, Namespace: RootNamespace, Event: event, AckID: ackID, Data: data}
	if err := s.enqueue(ctx, f); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrSocketClosed
	}
}

// Disconnect takes the socket out of every namespace and closes the
// transport with the given reason. Replies still owed to the client are
// flushed first, bounded by the server's close grace period.
func (s *Socket) Disconnect(reason string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.reason = reason
	inflight := s.inflight
	s.mu.Unlock()

	s.leaveAll()
	s.logger.Info("disconnecting socket", "reason", reason, "pending_replies", inflight)

	if inflight == 0 {
		s.startClose()
		return
	}
	s.clock.AfterFunc(s.server.closeGrace, s.startClose, "hub", "close-grace")
}

// startClose queues the disconnect frame; the writer closes the transport
// once it has been written.
func (s *Socket) startClose() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		reason := s.reason
		s.mu.Unlock()

		data, _ := json.Marshal(reason)
		select {
		case s.outbox <- &Frame{Kind: KindDisconnect, Data: data}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Socket) leaveAll() {
	for _, ns := range s.Namespaces() {
		ns.Leave(s.id)
		s.untrack(ns.Name())
	}
}

// enqueue blocks until the frame is queued for the writer.
func (s *Socket) enqueue(ctx context.Context, f *Frame) error {
	select {
	case s.outbox <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSocketClosed
	}
}

// deliver queues a broadcast frame without blocking.
func (s *Socket) deliver(f *Frame) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.outbox <- f:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbox into the transport. Writing a disconnect
// frame ends the loop and closes the transport.
func (s *Socket) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case f := <-s.outbox:
			if err := s.transport.Send(s.ctx, f); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.cancel()
				return
			}
			if f.Kind == KindDisconnect {
				if err := s.transport.Close(s.Reason()); err != nil {
					s.logger.Debug("transport close failed", "error", err)
				}
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// readLoop dispatches inbound frames until the transport fails.
func (s *Socket) readLoop() error {
	for {
		f, err := s.transport.Recv(s.ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.dispatch(f)
	}
}

func (s *Socket) dispatch(f *Frame) {
	if f.Kind == KindAck {
		s.routeAck(f)
		return
	}

	if !s.Connected() {
		return
	}

	switch f.Kind {
	case KindEvent:
		s.handleEvent(f)
	case KindJoin:
		reply := s.replyFunc(f)
		ns, err := s.server.resolve(f.Namespace)
		if err != nil {
			reply(err, nil)
			return
		}
		ns.Join(s)
		reply(nil, nil)
	case KindLeave:
		reply := s.replyFunc(f)
		name := NormalizeNamespace(f.Namespace)
		if ns, ok := s.server.Lookup(name); ok && name != RootNamespace {
			ns.Leave(s.id)
			s.untrack(name)
		}
		reply(nil, nil)
	default:
		s.logger.Debug("ignoring frame", "kind", f.Kind)
	}
}

func (s *Socket) handleEvent(f *Frame) {
	name := NormalizeNamespace(f.Namespace)
	if name != RootNamespace {
		s.publish(name, f)
		return
	}

	s.mu.Lock()
	h, ok := s.handlers[f.Event]
	s.mu.Unlock()

	var reply ReplyFunc
	if f.AckID != 0 {
		reply = s.replyFunc(f)
	}
	if !ok {
		if reply != nil {
			reply(fmt.Errorf("%w: %s", ErrUnknownEvent, f.Event), nil)
		}
		return
	}
	h(s.ctx, f.Data, reply)
}

// publish fans a client event out to a namespace. Only sockets in the
// namespace's delivery mapping may publish to it.
func (s *Socket) publish(name string, f *Frame) {
	var reply ReplyFunc
	if f.AckID != 0 {
		reply = s.replyFunc(f)
	}

	ns, ok := s.server.Lookup(name)
	if !ok || !ns.IsConnected(s.id) {
		s.logger.Debug("publish refused", "namespace", name, "event", f.Event)
		if reply != nil {
			reply(ErrNotPermitted, nil)
		}
		return
	}

	n, err := ns.Broadcast(f.Event, f.Data, s.id)
	if reply != nil {
		reply(err, n)
	}
}

func (s *Socket) routeAck(f *Frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.AckID]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("ack for unknown request", "ack_id", f.AckID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// replyFunc builds the ack sender for an inbound frame. A frame without an
// ack id gets a no-op reply.
func (s *Socket) replyFunc(f *Frame) ReplyFunc {
	if f.AckID == 0 {
		return func(error, any) {}
	}

	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	var once sync.Once
	return func(err error, payload any) {
		once.Do(func() {
			ack := &Frame{Kind: KindAck, Namespace: f.Namespace, AckID: f.AckID, Error: errorPayload(err)}
			if err == nil {
				data, merr := marshalData(payload)
				if merr != nil {
					ack.Error = errorPayload(fmt.Errorf("encoding reply: %w", merr))
				} else {
					ack.Data = data
				}
			}
			if qerr := s.enqueue(context.Background(), ack); qerr != nil {
				s.logger.Debug("reply dropped", "ack_id", f.AckID, "error", qerr)
			}

			s.mu.Lock()
			s.inflight--
			flush := s.closing && s.inflight == 0
			s.mu.Unlock()
			if flush {
				s.startClose()
			}
		})
	}
}

// finish runs once the read loop has ended.
func (s *Socket) finish() {
	s.mu.Lock()
	s.closing = true
	if s.reason == "" {
		s.reason = "transport closed"
	}
	s.mu.Unlock()

	s.leaveAll()
	s.cancel()
	_ = s.transport.Close(s.Reason())
	<-s.writerDone
}
