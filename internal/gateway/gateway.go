// ABOUTME: Gateway orchestrator that coordinates the hub, HTTP and gRPC servers
// ABOUTME: Wires the authentication gate, store and listeners and owns their lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/hubgate/internal/auth"
	"github.com/2389/hubgate/internal/authgate"
	"github.com/2389/hubgate/internal/config"
	"github.com/2389/hubgate/internal/dedupe"
	"github.com/2389/hubgate/internal/hub"
	"github.com/2389/hubgate/internal/store"
)

// Gateway orchestrates the hubgate server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	hub           *hub.Server
	gate          *authgate.Gate
	authenticator *auth.TokenAuthenticator
	published     *dedupe.Cache // idempotency keys of recent publishes
	grpcServer    *grpc.Server
	health        *health.Server
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	clock         quartz.Clock
	logger        *slog.Logger
}

// Option customizes a Gateway built by NewWithStore.
type Option func(*Gateway)

// WithClock replaces the real clock, which drives the handshake watchdog
// and audit timestamps.
func WithClock(c quartz.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HUBGATE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// handshakeTimeout maps the configured timeout onto the gate's conventions.
func handshakeTimeout(cfg config.AuthConfig) time.Duration {
	if cfg.HandshakeTimeoutDisabled {
		return authgate.NoTimeout
	}
	return cfg.HandshakeTimeout
}

// New creates a new Gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway around an existing store. The gateway
// closes the store on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		config: cfg,
		store:  s,
		clock:  quartz.NewReal(),
		logger: logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}

	gw.hub = hub.NewServer(hub.Config{
		Namespaces:        cfg.Hub.Namespaces,
		DynamicNamespaces: cfg.Hub.DynamicNamespaces,
		CloseGrace:        cfg.Hub.CloseGrace,
		Clock:             gw.clock,
		Logger:            logger,
	})

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	var principals auth.PrincipalLookup
	if cfg.Auth.RequirePrincipal {
		principals = s
	}
	gw.authenticator = auth.NewTokenAuthenticator(verifier, principals, logger)

	gw.gate, err = authgate.Install(gw.hub, authgate.Config{
		Authenticate:     gw.authenticator.Authenticate,
		PostAuthenticate: gw.postAuthenticate,
		Timeout:          handshakeTimeout(cfg.Auth),
		Recorder:         &auditRecorder{store: s, logger: gw.logger},
		Clock:            gw.clock,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("installing authentication gate: %w", err)
	}

	gw.published = dedupe.New(10*time.Minute, 100_000, gw.clock)

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newGRPCServer()
		gw.logger.Info("gRPC health service enabled")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP mux: the hub endpoint, health checks and the API.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(g.config.Hub.WSPath, g.hub.Handler(&websocket.AcceptOptions{
		OriginPatterns: g.config.Hub.AllowedOrigins,
	}))

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/namespaces", g.handleListNamespaces)

	publish := http.Handler(http.HandlerFunc(g.handlePublish))
	if g.config.Auth.RequirePrincipal {
		publish = auth.RequireService()(publish)
	}
	mux.Handle("POST /api/publish", auth.HTTPAuthMiddleware(g.authenticator)(publish))

	return mux
}

// Hub exposes the hub server, for embedding and tests.
func (g *Gateway) Hub() *hub.Server {
	return g.hub
}

// Handler returns the HTTP handler serving the hub endpoint and the API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when enabled, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "ws_path", g.config.Hub.WSPath)
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		select {
		case additionalErr := <-errCh:
			g.logger.Error("additional server error", "error", additionalErr)
		default:
		}
		return err
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	// The caller's context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown disconnects every socket, stops the servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "sockets", g.hub.SocketCount())

	// Websocket connections are hijacked, so http.Server.Shutdown does not
	// wait for them; the hub closes them itself.
	g.hub.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())
	g.published.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
