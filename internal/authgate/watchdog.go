// ABOUTME: Disconnects connections that stay unauthenticated past the configured bound
// ABOUTME: The timer checks the flag when it fires and is stopped when the socket closes

package authgate

import (
	"context"

	"github.com/2389/hubgate/internal/hub"
)

func (g *Gate) arm(conn *hub.Socket) {
	if g.timeout < 0 {
		return
	}

	t := g.clock.AfterFunc(g.timeout, func() { g.expire(conn) }, "authgate", "watchdog")
	context.AfterFunc(conn.Context(), func() { t.Stop() })
}

func (g *Gate) expire(conn *hub.Socket) {
	if conn.Authenticated() || !conn.Connected() {
		return
	}

	g.logger.Info("handshake timed out", "socket_id", conn.ID(), "timeout", g.timeout)
	g.record(conn.Context(), conn, Outcome{SocketID: conn.ID(), Err: ErrHandshakeTimeout})
	conn.Disconnect(ReasonUnauthorized)
}
