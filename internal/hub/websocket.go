// ABOUTME: WebSocket transport and HTTP upgrade handler for the hub
// ABOUTME: Frames are JSON text messages encoded with coder/websocket wsjson

package hub

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ReasonServerShutdown is the disconnect reason used when the hub closes.
const ReasonServerShutdown = "server shutting down"

// readLimit caps a single inbound frame.
const readLimit = 1 << 20

type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport adapts an accepted or dialed websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(readLimit)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, f *Frame) error {
	return wsjson.Write(ctx, t.conn, f)
}

func (t *wsTransport) Recv(ctx context.Context) (*Frame, error) {
	var f Frame
	if err := wsjson.Read(ctx, t.conn, &f); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return nil, ErrTransportClosed
		}
		return nil, err
	}
	return &f, nil
}

func (t *wsTransport) Close(reason string) error {
	code := websocket.StatusNormalClosure
	switch reason {
	case "":
	case ReasonServerShutdown:
		code = websocket.StatusGoingAway
	default:
		code = websocket.StatusPolicyViolation
	}
	return t.conn.Close(code, reason)
}

// Handler returns an http.Handler that upgrades requests to websockets and
// serves them on the hub until the connection ends.
func (s *Server) Handler(opts *websocket.AcceptOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
		if err := s.Serve(r.Context(), NewWebSocketTransport(conn)); err != nil {
			s.logger.Debug("websocket session ended", "remote_addr", r.RemoteAddr, "error", err)
		}
	})
}
