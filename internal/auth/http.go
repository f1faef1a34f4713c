// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds principal to context

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/hubgate/internal/authgate"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that authenticates the bearer
// token with the same rules as the socket handshake and adds the AuthContext
// to the request context.
func HTTPAuthMiddleware(authenticator *TokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			creds, _ := json.Marshal(Credentials{Token: token})
			identity, err := authenticator.Verify(r.Context(), creds)
			switch {
			case err == nil:
			case errors.Is(err, ErrPrincipalPending), errors.Is(err, ErrPrincipalRevoked):
				writeError(w, http.StatusForbidden, err.Error())
				return
			case errors.Is(err, authgate.ErrAuthenticationFailure), errors.Is(err, authgate.ErrMissingCredentials):
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			default:
				writeError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), identity)))
		})
	}
}

// RequireService creates an HTTP middleware that only admits service
// principals. Must be used after HTTPAuthMiddleware.
func RequireService() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !authCtx.IsService() {
				writeError(w, http.StatusForbidden, "service principal required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
