// ABOUTME: Token-based credential verification for the hub authentication handshake
// ABOUTME: Accepts {"token": "<jwt>"} and optionally checks the principal's status in the store

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/2389/hubgate/internal/authgate"
	"github.com/2389/hubgate/internal/hub"
	"github.com/2389/hubgate/internal/store"
)

// Client-visible rejections beyond the gate's generic ones.
var (
	ErrPrincipalPending = errors.New("Principal pending approval")
	ErrPrincipalRevoked = errors.New("Principal revoked")
)

// PrincipalLookup is the part of the store the authenticator reads.
type PrincipalLookup interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
}

// Credentials is the body of an "authentication" message.
type Credentials struct {
	Token string `json:"token"`
}

// Session is the payload sent with "authenticated".
type Session struct {
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// TokenAuthenticator verifies handshake credentials carrying a JWT.
type TokenAuthenticator struct {
	verifier   TokenVerifier
	principals PrincipalLookup
	logger     *slog.Logger
}

// NewTokenAuthenticator creates an authenticator. With a nil principals
// lookup any validly signed token is accepted; otherwise the token's
// subject must be an approved principal.
func NewTokenAuthenticator(verifier TokenVerifier, principals PrincipalLookup, logger *slog.Logger) *TokenAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenAuthenticator{
		verifier:   verifier,
		principals: principals,
		logger:     logger.With("component", "auth"),
	}
}

// Verify checks credentials and resolves the identity they carry.
func (a *TokenAuthenticator) Verify(ctx context.Context, credentials json.RawMessage) (*AuthContext, error) {
	var creds Credentials
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &creds); err != nil {
			a.logger.Debug("undecodable credentials", "error", err)
			return nil, authgate.ErrMissingCredentials
		}
	}
	if creds.Token == "" {
		return nil, authgate.ErrMissingCredentials
	}

	principalID, err := a.verifier.Verify(creds.Token)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return nil, authgate.ErrAuthenticationFailure
	}

	identity := &AuthContext{PrincipalID: principalID}
	if a.principals == nil {
		return identity, nil
	}

	p, err := a.principals.GetPrincipal(ctx, principalID)
	if errors.Is(err, store.ErrPrincipalNotFound) {
		a.logger.Debug("token subject is not a principal", "principal_id", principalID)
		return nil, authgate.ErrAuthenticationFailure
	}
	if err != nil {
		// Store errors stay server-side; the client sees the generic failure.
		a.logger.Error("looking up principal", "principal_id", principalID, "error", err)
		return nil, authgate.ErrAuthenticationFailure
	}
	if err := checkPrincipalStatus(p.Status); err != nil {
		return nil, err
	}

	identity.PrincipalType = string(p.Type)
	identity.DisplayName = p.DisplayName
	return identity, nil
}

// Authenticate satisfies authgate.AuthenticateFunc. The resolved identity
// is stored on the socket under SocketKey; any identity from an earlier
// handshake is dropped first.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, conn *hub.Socket, credentials json.RawMessage) (any, error) {
	conn.Delete(SocketKey)
	identity, err := a.Verify(ctx, credentials)
	if err != nil {
		return nil, err
	}
	conn.Set(SocketKey, identity)
	return Session{PrincipalID: identity.PrincipalID, DisplayName: identity.DisplayName}, nil
}

// checkPrincipalStatus maps a principal status to a rejection, or nil when allowed.
func checkPrincipalStatus(status store.PrincipalStatus) error {
	switch status {
	case store.PrincipalStatusApproved:
		return nil
	case store.PrincipalStatusPending:
		return ErrPrincipalPending
	case store.PrincipalStatusRevoked:
		return ErrPrincipalRevoked
	default:
		return authgate.ErrAuthenticationFailure
	}
}
