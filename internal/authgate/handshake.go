// ABOUTME: Per-connection handshake: verify, announce, post-authenticate, report
// ABOUTME: Attempts on one connection run one at a time on a dedicated worker goroutine

package authgate

import (
	"context"
	"encoding/json"

	"github.com/2389/hubgate/internal/hub"
)

// attempt is one inbound authentication message waiting for the worker.
type attempt struct {
	credentials json.RawMessage
	done        Done
}

// attach prepares a new connection: unauthenticated, listening for
// handshake messages, and watched.
func (g *Gate) attach(conn *hub.Socket) {
	conn.SetAuthenticated(false)

	// One attempt runs while at most one more waits.
	attempts := make(chan attempt, 1)
	conn.On(EventAuthentication, func(_ context.Context, data json.RawMessage, reply hub.ReplyFunc) {
		var done Done
		if reply != nil {
			done = Done(reply)
		}
		select {
		case attempts <- attempt{credentials: data, done: done}:
		default:
			g.logger.Warn("handshake rejected, attempt already queued", "socket_id", conn.ID())
			if done != nil {
				done(ErrHandshakeInProgress, nil)
			}
		}
	})
	go g.work(conn, attempts)

	g.arm(conn)
}

func (g *Gate) work(conn *hub.Socket, attempts <-chan attempt) {
	ctx := conn.Context()
	for {
		select {
		case a := <-attempts:
			g.handshake(ctx, conn, a.credentials, a.done)
		case <-ctx.Done():
			return
		}
	}
}

// handshake runs one authentication attempt to completion. done may be nil.
// Only the connection's worker calls it, so attempts never overlap.
// The connection is suppressed from every namespace on entry, so an
// already-authenticated connection starts over.
func (g *Gate) handshake(ctx context.Context, conn *hub.Socket, credentials json.RawMessage, done Done) {
	conn.SetAuthenticated(false)
	for _, ns := range g.registry.Namespaces() {
		g.evict(ns, conn)
	}

	payload, err := g.verify(ctx, conn, credentials)
	if err != nil {
		g.reject(ctx, conn, err, done)
		return
	}
	g.accept(ctx, conn, credentials, payload, done)
}

// verify calls the authenticator. A panic counts as a failed attempt.
func (g *Gate) verify(ctx context.Context, conn *hub.Socket, credentials json.RawMessage) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("authenticator panicked", "socket_id", conn.ID(), "panic", r)
			payload, err = nil, ErrAuthenticationFailure
		}
	}()

	payload, err = g.authenticate(ctx, conn, credentials)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = true
	}
	return payload, nil
}

func (g *Gate) accept(ctx context.Context, conn *hub.Socket, credentials json.RawMessage, payload any, done Done) {
	// The flag goes up before any namespace sees the socket again, so a
	// namespace joined concurrently admits it through the guard.
	conn.SetAuthenticated(true)
	for _, ns := range g.registry.Namespaces() {
		g.restore(ns, conn)
	}
	g.logger.Info("socket authenticated", "socket_id", conn.ID())

	if _, err := conn.EmitWithAck(ctx, EventAuthenticated, payload); err != nil {
		g.logger.Warn("handshake abandoned", "socket_id", conn.ID(), "step", EventAuthenticated, "error", err)
		complete(done, err, nil)
		return
	}

	if err := g.postAuthenticate(ctx, conn, credentials); err != nil {
		g.logger.Warn("post-authenticate hook failed", "socket_id", conn.ID(), "error", err)
	}

	g.record(ctx, conn, Outcome{SocketID: conn.ID(), Authenticated: true, Payload: payload})
	complete(done, nil, payload)
}

func (g *Gate) reject(ctx context.Context, conn *hub.Socket, cause error, done Done) {
	failure := &Failure{Message: failureMessage(cause), Err: cause}
	g.logger.Info("socket rejected", "socket_id", conn.ID(), "message", failure.Message)
	g.record(ctx, conn, Outcome{SocketID: conn.ID(), Err: failure})

	if _, err := conn.EmitWithAck(ctx, EventUnauthorized, hub.ErrorPayload{Message: failure.Message}); err != nil {
		g.logger.Debug("unauthorized notice not acknowledged", "socket_id", conn.ID(), "error", err)
	}
	conn.Disconnect(ReasonUnauthorized)
	complete(done, failure, nil)
}

func (g *Gate) record(ctx context.Context, conn *hub.Socket, o Outcome) {
	if g.recorder == nil {
		return
	}
	o.At = g.clock.Now()
	g.recorder.RecordOutcome(ctx, conn, o)
}

func complete(done Done, err error, payload any) {
	if done != nil {
		done(err, payload)
	}
}
