// ABOUTME: HTTP handlers for health checks, namespace listing and server-side publishing
// ABOUTME: Publishing goes through the namespace delivery mapping, so only authenticated sockets receive it

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/hubgate/internal/auth"
	"github.com/2389/hubgate/internal/authgate"
	"github.com/2389/hubgate/internal/hub"
	"github.com/2389/hubgate/internal/store"
)

// maxPublishBody bounds /api/publish request bodies.
const maxPublishBody = 1 << 20

// IdempotencyHeader lets API callers retry a publish without delivering it twice.
const IdempotencyHeader = "Idempotency-Key"

// NamespaceInfo describes one namespace in /api/namespaces.
type NamespaceInfo struct {
	Name      string `json:"name"`
	Members   int    `json:"members"`
	Delivered int    `json:"delivered"`
}

// ReadyResponse is the body of /health/ready.
type ReadyResponse struct {
	Status        string `json:"status"`
	Sockets       int    `json:"sockets"`
	Authenticated int    `json:"authenticated"`
	Error         string `json:"error,omitempty"`
}

// PublishRequest is the body of /api/publish.
type PublishRequest struct {
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PublishResponse reports how many sockets received the event.
type PublishResponse struct {
	Delivered int  `json:"delivered"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// reservedEvents cannot be published from the API.
var reservedEvents = map[string]bool{
	authgate.EventAuthentication: true,
	authgate.EventAuthenticated:  true,
	authgate.EventUnauthorized:   true,
	string(hub.KindConnect):      true,
	string(hub.KindDisconnect):   true,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports socket counts, and 503 when the store is unreachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:        "ready",
		Sockets:       g.hub.SocketCount(),
		Authenticated: g.hub.AuthenticatedCount(),
	}
	if err := g.store.Ping(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces := g.hub.Namespaces()
	out := make([]NamespaceInfo, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, NamespaceInfo{
			Name:      ns.Name(),
			Members:   len(ns.Members()),
			Delivered: len(ns.Delivered()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// parsePublishRequest decodes and validates a publish body.
func parsePublishRequest(r io.Reader) (*PublishRequest, error) {
	var req PublishRequest
	if err := json.NewDecoder(io.LimitReader(r, maxPublishBody)).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Event) == "" {
		return nil, errors.New("event is required")
	}
	if reservedEvents[req.Event] {
		return nil, errors.New("event name is reserved")
	}
	req.Namespace = hub.NormalizeNamespace(req.Namespace)
	return &req, nil
}

// handlePublish broadcasts an event into a namespace on behalf of an
// authenticated API caller.
func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request) {
	req, err := parsePublishRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ns, ok := g.hub.Lookup(req.Namespace)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown namespace: "+req.Namespace)
		return
	}

	var actor string
	if identity := auth.FromContext(r.Context()); identity != nil {
		actor = identity.PrincipalID
	}

	// Keys are scoped to the caller.
	var dedupeKey string
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		dedupeKey = actor + "\x00" + key
		if g.published.CheckAndMark(dedupeKey) {
			g.logger.Debug("duplicate publish ignored", "namespace", req.Namespace, "event", req.Event, "actor", actor)
			writeJSON(w, http.StatusOK, PublishResponse{Duplicate: true})
			return
		}
	}

	var payload any
	if len(req.Data) > 0 {
		payload = req.Data
	}
	delivered, err := ns.Broadcast(req.Event, payload, "")
	if err != nil {
		if dedupeKey != "" {
			g.published.Forget(dedupeKey)
		}
		g.logger.Error("publish failed", "namespace", req.Namespace, "event", req.Event, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	entry := &store.AuditEntry{
		ActorPrincipalID: actor,
		Action:           store.AuditPublish,
		TargetType:       store.TargetNamespace,
		TargetID:         req.Namespace,
		Timestamp:        g.clock.Now(),
		Detail:           map[string]any{"event": req.Event, "delivered": delivered},
	}
	if err := g.store.AppendAuditLog(r.Context(), entry); err != nil {
		g.logger.Warn("auditing publish", "error", err)
	}

	g.logger.Debug("published", "namespace", req.Namespace, "event", req.Event, "delivered", delivered, "actor", actor)
	writeJSON(w, http.StatusOK, PublishResponse{Delivered: delivered})
}
