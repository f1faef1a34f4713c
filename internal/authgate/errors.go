// ABOUTME: Authentication-domain errors reported to clients and completion callbacks
// ABOUTME: Failure carries the client-visible message while keeping the cause for errors.Is

package authgate

import (
	"errors"
)

var (
	// ErrMissingCredentials is returned by authenticators when the
	// credentials lack a required field.
	ErrMissingCredentials = errors.New("Missing credentials")

	// ErrAuthenticationFailure is the generic rejection.
	ErrAuthenticationFailure = errors.New("Authentication failure")

	// ErrHandshakeTimeout marks connections dropped by the watchdog.
	ErrHandshakeTimeout = errors.New("Authentication timeout")

	// ErrHandshakeInProgress is replied to an authentication message that
	// arrives while another one is already queued.
	ErrHandshakeInProgress = errors.New("Authentication already in progress")
)

// Failure is the error reported for a rejected handshake. Message is what
// the client sees; Err is the authenticator's original error.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// failureMessage picks the client-visible message for an authenticator error.
func failureMessage(err error) string {
	if err == nil || err.Error() == "" {
		return ErrAuthenticationFailure.Error()
	}
	return err.Error()
}
