// Package auth verifies the credentials clients present to hubgate.
//
// # Socket Handshake
//
// TokenAuthenticator plugs into the authentication gate as its
// AuthenticateFunc. Clients send
//
//	{"token": "<jwt>"}
//
// on the "authentication" event. A missing token is reported as
// "Missing credentials"; a token that fails verification as
// "Authentication failure". On success the socket carries an *AuthContext
// (see FromSocket) and the client receives
//
//	{"principal_id": "...", "display_name": "..."}
//
// # Tokens
//
// Tokens are HS256 JWTs whose "sub" claim names the principal. The signing
// secret must be at least MinSecretLength bytes.
//
// # Principals
//
// With a principal lookup configured (auth.require_principal), the subject
// must exist in the store and be approved. Pending and revoked principals
// are rejected with their own messages.
//
// # HTTP
//
// HTTPAuthMiddleware applies the same rules to "Authorization: Bearer"
// headers and stores the identity in the request context. RequireService
// restricts a route to service principals.
package auth
