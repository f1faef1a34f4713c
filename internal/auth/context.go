// ABOUTME: Authentication context for tracking identity through handlers and sockets
// ABOUTME: Provides WithAuth/FromContext for requests and FromSocket for hub connections

package auth

import (
	"context"

	"github.com/2389/hubgate/internal/hub"
)

// AuthContext holds the authenticated identity of a request or socket.
type AuthContext struct {
	PrincipalID   string
	PrincipalType string // "client" | "service", empty when no principal record was consulted
	DisplayName   string
}

// IsService reports whether the identity is a server-side publisher.
func (a *AuthContext) IsService() bool {
	return a.PrincipalType == "service"
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// SocketKey is the hub.Socket value key holding the socket's *AuthContext.
const SocketKey = "auth"

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// FromSocket returns the identity a successful handshake stored on the
// socket, or nil.
func FromSocket(conn *hub.Socket) *AuthContext {
	v, ok := conn.Value(SocketKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*AuthContext)
	return auth
}
