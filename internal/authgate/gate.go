// ABOUTME: Installs the authentication gate on a hub and hides unauthenticated sockets
// ABOUTME: Suppression guards each namespace once; restoration re-admits authenticated sockets

package authgate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/2389/hubgate/internal/hub"
)

// Event and disconnect names of the handshake.
const (
	EventAuthentication = "authentication"
	EventAuthenticated  = "authenticated"
	EventUnauthorized   = "unauthorized"

	ReasonUnauthorized = "unauthorized"
)

const (
	// DefaultTimeout is the watchdog bound when Config.Timeout is zero.
	DefaultTimeout = time.Second

	// NoTimeout disables the watchdog.
	NoTimeout time.Duration = -1
)

// AuthenticateFunc verifies credentials. A nil error means success; the
// returned payload is sent to the client (true when nil). Return
// ErrMissingCredentials or ErrAuthenticationFailure for the generic cases;
// any other error's message is forwarded to the client verbatim.
type AuthenticateFunc func(ctx context.Context, conn *hub.Socket, credentials json.RawMessage) (any, error)

// PostAuthenticateFunc runs after the client acknowledged "authenticated"
// and before the completion callback. Errors are logged only.
type PostAuthenticateFunc func(ctx context.Context, conn *hub.Socket, credentials json.RawMessage) error

// Done receives the outcome of a handshake: (nil, payload) on success,
// (*Failure, nil) on rejection.
type Done func(err error, payload any)

// Outcome describes one finished handshake attempt.
type Outcome struct {
	SocketID      string
	Authenticated bool
	Payload       any
	Err           error
	At            time.Time
}

// OutcomeRecorder observes handshake outcomes, including watchdog timeouts.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, conn *hub.Socket, o Outcome)
}

// Registry is the part of the hub the gate depends on.
type Registry interface {
	Namespaces() []*hub.Namespace
	OnNamespace(fn func(*hub.Namespace))
	OnConnection(fn func(*hub.Socket))
}

// Config configures the gate.
type Config struct {
	// Authenticate is required.
	Authenticate AuthenticateFunc

	// PostAuthenticate defaults to a no-op.
	PostAuthenticate PostAuthenticateFunc

	// Timeout bounds how long a connection may stay unauthenticated.
	// Zero means DefaultTimeout; NoTimeout disables the watchdog.
	Timeout time.Duration

	// Recorder is optional.
	Recorder OutcomeRecorder

	// Clock defaults to the real clock.
	Clock quartz.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Gate enforces authentication on every namespace of a hub.
type Gate struct {
	registry         Registry
	authenticate     AuthenticateFunc
	postAuthenticate PostAuthenticateFunc
	recorder         OutcomeRecorder
	timeout          time.Duration
	clock            quartz.Clock
	logger           *slog.Logger

	mu         sync.Mutex
	suppressed map[*hub.Namespace]struct{}
}

// Install attaches the gate to the registry: every namespace, current and
// future, hides unauthenticated sockets, and every new connection gets the
// handshake handler and a watchdog.
func Install(registry Registry, cfg Config) (*Gate, error) {
	if cfg.Authenticate == nil {
		return nil, errors.New("authgate: Authenticate is required")
	}

	g := &Gate{
		registry:         registry,
		authenticate:     cfg.Authenticate,
		postAuthenticate: cfg.PostAuthenticate,
		recorder:         cfg.Recorder,
		timeout:          cfg.Timeout,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		suppressed:       make(map[*hub.Namespace]struct{}),
	}
	if g.postAuthenticate == nil {
		g.postAuthenticate = func(context.Context, *hub.Socket, json.RawMessage) error { return nil }
	}
	if g.timeout == 0 {
		g.timeout = DefaultTimeout
	}
	if g.clock == nil {
		g.clock = quartz.NewReal()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "authgate")

	// Observe first so a namespace created while we iterate is not missed;
	// suppress is idempotent.
	registry.OnNamespace(g.suppress)
	for _, ns := range registry.Namespaces() {
		g.suppress(ns)
	}
	registry.OnConnection(g.attach)

	g.logger.Info("authentication gate installed", "timeout", g.timeout)
	return g, nil
}

// suppress installs the admission guard that keeps unauthenticated sockets
// out of the namespace's delivery mapping. The guard is evaluated under the
// namespace lock as the socket joins, so a concurrent broadcast never sees
// an unauthenticated entry. Installing twice is a no-op.
func (g *Gate) suppress(ns *hub.Namespace) {
	g.mu.Lock()
	if _, ok := g.suppressed[ns]; ok {
		g.mu.Unlock()
		return
	}
	g.suppressed[ns] = struct{}{}
	g.mu.Unlock()

	ns.Guard(func(s *hub.Socket) bool {
		if s.Authenticated() {
			return true
		}
		g.logger.Debug("holding socket out of namespace", "socket_id", s.ID(), "namespace", ns.Name())
		return false
	})
}

// evict removes the socket from delivery if it is still unauthenticated.
func (g *Gate) evict(ns *hub.Namespace, s *hub.Socket) {
	removed := ns.RemoveIf(s.ID(), func() bool { return !s.Authenticated() })
	if removed {
		g.logger.Debug("removing socket from namespace", "socket_id", s.ID(), "namespace", ns.Name())
	}
}

// restore re-admits the socket to the namespace's delivery mapping if it is
// a transport member. Repeated calls leave the mapping unchanged.
func (g *Gate) restore(ns *hub.Namespace, s *hub.Socket) {
	if ns.Admit(s) {
		g.logger.Debug("restoring socket to namespace", "socket_id", s.ID(), "namespace", ns.Name())
	}
}

// Suppressed reports whether the namespace carries the gate's guard.
func (g *Gate) Suppressed(ns *hub.Namespace) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.suppressed[ns]
	return ok
}
