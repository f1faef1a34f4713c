// ABOUTME: Hub server: namespace registry, socket lifecycle, and lifecycle observers
// ABOUTME: Serves one Transport per connection and notifies observers of new namespaces and sockets

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// DefaultCloseGrace bounds how long a disconnecting socket waits for
// replies it still owes the client.
const DefaultCloseGrace = 2 * time.Second

var (
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("hub closed")

	// ErrUnknownNamespace is replied to joins of unregistered namespaces.
	ErrUnknownNamespace = errors.New("unknown namespace")
)

// Config configures a Server.
type Config struct {
	// Namespaces are created at startup in addition to the root namespace.
	Namespaces []string

	// DynamicNamespaces lets clients create namespaces by joining them.
	DynamicNamespaces bool

	// CloseGrace overrides DefaultCloseGrace.
	CloseGrace time.Duration

	// NewID generates socket ids. Defaults to random UUIDs.
	NewID func() string

	// Clock defaults to the real clock.
	Clock quartz.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the hub: a registry of namespaces and connected sockets.
type Server struct {
	logger     *slog.Logger
	clock      quartz.Clock
	closeGrace time.Duration
	newID      func() string
	dynamic    bool

	// createMu serializes namespace creation with observer registration.
	createMu sync.Mutex

	mu            sync.RWMutex
	namespaces    map[string]*Namespace
	sockets       map[string]*Socket
	nsObservers   []func(*Namespace)
	connObservers []func(*Socket)
	discObservers []func(*Socket)
	closed        bool
	wg            sync.WaitGroup
}

// NewServer creates a hub with the root namespace and any configured ones.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	grace := cfg.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	s := &Server{
		logger:     logger.With("component", "hub"),
		clock:      clock,
		closeGrace: grace,
		newID:      newID,
		dynamic:    cfg.DynamicNamespaces,
		namespaces: make(map[string]*Namespace),
		sockets:    make(map[string]*Socket),
	}
	s.Of(RootNamespace)
	for _, name := range cfg.Namespaces {
		s.Of(name)
	}
	return s
}

// Of returns the named namespace, creating it if needed. Namespace
// observers run before the namespace becomes visible to Lookup, so no
// socket can join it ahead of them. Observers must not create namespaces.
func (s *Server) Of(name string) *Namespace {
	name = NormalizeNamespace(name)
	if ns, ok := s.Lookup(name); ok {
		return ns
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	s.mu.RLock()
	ns, ok := s.namespaces[name]
	observers := make([]func(*Namespace), len(s.nsObservers))
	copy(observers, s.nsObservers)
	s.mu.RUnlock()
	if ok {
		return ns
	}

	ns = newNamespace(name, s.logger)
	for _, fn := range observers {
		fn(ns)
	}

	s.mu.Lock()
	s.namespaces[name] = ns
	s.mu.Unlock()

	s.logger.Info("namespace created", "namespace", name)
	return ns
}

// Lookup returns an existing namespace.
func (s *Server) Lookup(name string) (*Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[NormalizeNamespace(name)]
	return ns, ok
}

// Namespaces returns every registered namespace, sorted by name.
func (s *Server) Namespaces() []*Namespace {
	s.mu.RLock()
	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// OnNamespace registers fn for namespaces created after this call.
func (s *Server) OnNamespace(fn func(*Namespace)) {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nsObservers = append(s.nsObservers, fn)
}

// OnConnection registers fn for every new socket. It runs before the
// socket joins the root namespace and before any inbound frame is read.
func (s *Server) OnConnection(fn func(*Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connObservers = append(s.connObservers, fn)
}

// OnDisconnect registers fn to run after a socket's transport has closed.
func (s *Server) OnDisconnect(fn func(*Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discObservers = append(s.discObservers, fn)
}

// Socket returns a connected socket by id.
func (s *Server) Socket(id string) (*Socket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sock, ok := s.sockets[id]
	return sock, ok
}

// SocketCount returns the number of live sockets.
func (s *Server) SocketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sockets)
}

// AuthenticatedCount returns the number of live sockets whose
// authorization flag is set.
func (s *Server) AuthenticatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sock := range s.sockets {
		if sock.Authenticated() {
			n++
		}
	}
	return n
}

// resolve finds the namespace a client asked to join.
func (s *Server) resolve(name string) (*Namespace, error) {
	if ns, ok := s.Lookup(name); ok {
		return ns, nil
	}
	if !s.dynamic {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, NormalizeNamespace(name))
	}
	return s.Of(name), nil
}

// Serve runs a socket on the transport and blocks until it closes.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close(ReasonServerShutdown)
		return ErrServerClosed
	}
	sock := newSocket(ctx, s, s.newID(), t)
	s.sockets[sock.ID()] = sock
	connObservers := make([]func(*Socket), len(s.connObservers))
	copy(connObservers, s.connObservers)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	go sock.writeLoop()

	s.logger.Info("socket connected", "socket_id", sock.ID(), "total_sockets", s.SocketCount())

	for _, fn := range connObservers {
		fn(sock)
	}
	s.Of(RootNamespace).Join(sock)

	info, _ := json.Marshal(ConnectInfo{ID: sock.ID()})
	if err := sock.enqueue(sock.ctx, &Frame{Kind: KindConnect, Namespace: RootNamespace, Data: info}); err != nil {
		s.logger.Debug("connect frame not sent", "socket_id", sock.ID(), "error", err)
	}

	err := sock.readLoop()
	sock.finish()

	s.mu.Lock()
	delete(s.sockets, sock.ID())
	discObservers := make([]func(*Socket), len(s.discObservers))
	copy(discObservers, s.discObservers)
	remaining := len(s.sockets)
	s.mu.Unlock()

	s.logger.Info("socket disconnected",
		"socket_id", sock.ID(),
		"reason", sock.Reason(),
		"total_sockets", remaining,
	)
	for _, fn := range discObservers {
		fn(sock)
	}

	if err != nil {
		return fmt.Errorf("reading frames: %w", err)
	}
	return nil
}

// Close disconnects every socket and waits for them to finish.
// Serve returns ErrServerClosed afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sockets := make([]*Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.Disconnect(ReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := s.clock.NewTimer(2*s.closeGrace, "hub", "close")
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		// Peers that stopped reading never see the disconnect frame.
		for _, sock := range sockets {
			sock.cancel()
		}
		<-done
	}
	s.logger.Debug("hub closed")
}
