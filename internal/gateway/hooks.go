// ABOUTME: Gate hooks that persist handshake results
// ABOUTME: Successful sessions touch the principal; failures and timeouts land in the audit log

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/hubgate/internal/auth"
	"github.com/2389/hubgate/internal/authgate"
	"github.com/2389/hubgate/internal/hub"
	"github.com/2389/hubgate/internal/store"
)

// storeTimeout bounds audit writes made on behalf of a socket that may
// already be closing.
const storeTimeout = 5 * time.Second

func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// postAuthenticate marks the principal as seen and audits the session.
func (g *Gateway) postAuthenticate(ctx context.Context, conn *hub.Socket, _ json.RawMessage) error {
	identity := auth.FromSocket(conn)
	if identity == nil {
		return nil
	}

	ctx, cancel := detachedContext(ctx)
	defer cancel()

	err := g.store.TouchPrincipal(ctx, identity.PrincipalID, g.clock.Now())
	if err != nil && !errors.Is(err, store.ErrPrincipalNotFound) {
		return err
	}

	return g.store.AppendAuditLog(ctx, &store.AuditEntry{
		ActorPrincipalID: identity.PrincipalID,
		Action:           store.AuditSessionAuthenticated,
		TargetType:       store.TargetSocket,
		TargetID:         conn.ID(),
		Timestamp:        g.clock.Now(),
		Detail:           map[string]any{"namespaces": namespaceNames(conn)},
	})
}

// auditRecorder writes failed handshakes to the audit log.
type auditRecorder struct {
	store  store.Store
	logger *slog.Logger
}

func (r *auditRecorder) RecordOutcome(ctx context.Context, conn *hub.Socket, o authgate.Outcome) {
	if o.Authenticated {
		return
	}

	action := store.AuditHandshakeRejected
	if errors.Is(o.Err, authgate.ErrHandshakeTimeout) {
		action = store.AuditHandshakeTimeout
	}

	ctx, cancel := detachedContext(ctx)
	defer cancel()

	entry := &store.AuditEntry{
		Action:     action,
		TargetType: store.TargetSocket,
		TargetID:   o.SocketID,
		Timestamp:  o.At,
		Detail:     map[string]any{"message": o.Err.Error()},
	}
	if err := r.store.AppendAuditLog(ctx, entry); err != nil {
		r.logger.Warn("recording handshake outcome", "socket_id", o.SocketID, "error", err)
	}
}

func namespaceNames(conn *hub.Socket) []string {
	var names []string
	for _, ns := range conn.Namespaces() {
		names = append(names, ns.Name())
	}
	return names
}
