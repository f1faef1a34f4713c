// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, principal status, and the service gate

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2389/hubgate/internal/store"
)

func newTestMiddlewareStack(t *testing.T) (*JWTVerifier, *store.MockStore, func(http.Handler) http.Handler) {
	t.Helper()
	verifier := newTestVerifier(t)
	principals := store.NewMockStore()
	return verifier, principals, HTTPAuthMiddleware(NewTokenAuthenticator(verifier, principals, nil))
}

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/publish", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier, principals, middleware := newTestMiddlewareStack(t)
	err := principals.CreatePrincipal(context.Background(), &store.Principal{
		ID:     "svc-1",
		Type:   store.PrincipalTypeService,
		Status: store.PrincipalStatusApproved,
	})
	if err != nil {
		t.Fatalf("CreatePrincipal() error = %v", err)
	}
	token, _ := verifier.Generate("svc-1", time.Hour)

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := serve(middleware(handler), "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if gotAuthCtx.PrincipalID != "svc-1" {
		t.Errorf("expected principal ID 'svc-1', got '%s'", gotAuthCtx.PrincipalID)
	}
	if !gotAuthCtx.IsService() {
		t.Errorf("expected service principal, got type '%s'", gotAuthCtx.PrincipalType)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier, principals, middleware := newTestMiddlewareStack(t)
	ctx := context.Background()
	for id, status := range map[string]store.PrincipalStatus{
		"pending-1": store.PrincipalStatusPending,
		"revoked-1": store.PrincipalStatusRevoked,
	} {
		if err := principals.CreatePrincipal(ctx, &store.Principal{ID: id, Type: store.PrincipalTypeClient, Status: status}); err != nil {
			t.Fatalf("CreatePrincipal(%s) error = %v", id, err)
		}
	}
	tokenFor := func(id string) string {
		token, _ := verifier.Generate(id, time.Hour)
		return "Bearer " + token
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "empty token"},
		{"invalid token", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"unknown principal", tokenFor("ghost"), http.StatusUnauthorized, "invalid token"},
		{"pending principal", tokenFor("pending-1"), http.StatusForbidden, "Principal pending approval"},
		{"revoked principal", tokenFor("revoked-1"), http.StatusForbidden, "Principal revoked"},
	}

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
	if called {
		t.Error("handler should not be called for rejected requests")
	}
}

func TestRequireService(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	gate := RequireService()(ok)

	tests := []struct {
		name       string
		auth       *AuthContext
		wantStatus int
	}{
		{"no auth context", nil, http.StatusUnauthorized},
		{"client principal", &AuthContext{PrincipalID: "c", PrincipalType: "client"}, http.StatusForbidden},
		{"service principal", &AuthContext{PrincipalID: "s", PrincipalType: "service"}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/publish", nil)
			if tt.auth != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.auth))
			}
			rec := httptest.NewRecorder()
			gate.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
