// Package gateway orchestrates the hubgate server components.
//
// # Overview
//
// Gateway owns the hub server, the authentication gate installed on it,
// the store, and the listeners serving them. New opens the configured
// SQLite database; NewWithStore accepts any store.Store.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown disconnects every socket with reason "server shutdown" before
// stopping the HTTP and gRPC servers and closing the store.
//
// # HTTP Endpoints
//
//	GET  <hub.ws_path>     websocket endpoint of the hub (default /ws)
//	GET  /health           liveness, always 200
//	GET  /health/ready     socket counts; 503 when the store is unreachable
//	GET  /api/namespaces   namespaces with member and delivery counts
//	POST /api/publish      broadcast into a namespace (bearer token required)
//
// With auth.require_principal set, /api/publish additionally requires a
// service principal. A publish carrying an Idempotency-Key header that the
// same caller already used in the last ten minutes is acknowledged with
// {"duplicate": true} and not delivered again.
//
// # Handshake Hooks
//
// After a socket authenticates, its principal's last-seen time is updated
// and a session_authenticated audit entry is written. Rejected and timed-out
// handshakes are written as handshake_rejected and handshake_timeout.
//
// # gRPC
//
// When server.grpc_addr is set, the standard grpc.health.v1 service is
// served there for the empty service name and "hubgate.Hub".
//
// # Tailscale
//
// With tailscale.enabled, listeners come from a tsnet node instead of
// server.http_addr: HTTP on :80, or TLS on :443 with tailnet certificates
// when tailscale.https is set, and gRPC on :50051.
package gateway
