// ABOUTME: Store interface and data types for hubgate persistence
// ABOUTME: Defines principals allowed to authenticate and the audit trail of handshakes

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPrincipalNotFound is returned when a principal does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrDuplicatePrincipal is returned when creating a principal whose id exists.
	ErrDuplicatePrincipal = errors.New("principal already exists")

	// ErrInvalidStatus is returned for status values outside PrincipalStatus.
	ErrInvalidStatus = errors.New("invalid principal status")

	// ErrInvalidType is returned for type values outside PrincipalType.
	ErrInvalidType = errors.New("invalid principal type")

	// ErrMetadataTooLarge is returned when encoded metadata exceeds MaxMetadataSize.
	ErrMetadataTooLarge = errors.New("metadata too large")
)

// MaxMetadataSize bounds the JSON-encoded principal metadata.
const MaxMetadataSize = 64 * 1024

// PrincipalType classifies an identity.
type PrincipalType string

const (
	PrincipalTypeClient  PrincipalType = "client"  // end-user client
	PrincipalTypeService PrincipalType = "service" // server-side publisher
)

// Valid reports whether t is a known principal type.
func (t PrincipalType) Valid() bool {
	return t == PrincipalTypeClient || t == PrincipalTypeService
}

// PrincipalStatus is the lifecycle state of a principal.
type PrincipalStatus string

const (
	PrincipalStatusPending  PrincipalStatus = "pending"
	PrincipalStatusApproved PrincipalStatus = "approved"
	PrincipalStatusRevoked  PrincipalStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s PrincipalStatus) Valid() bool {
	switch s {
	case PrincipalStatusPending, PrincipalStatusApproved, PrincipalStatusRevoked:
		return true
	}
	return false
}

// Principal is an identity that may authenticate to the hub. Tokens carry
// the principal id in their "sub" claim.
type Principal struct {
	ID          string
	Type        PrincipalType
	DisplayName string
	Status      PrincipalStatus
	CreatedAt   time.Time
	LastSeen    *time.Time
	Metadata    map[string]any
}

// PrincipalFilter narrows ListPrincipals and CountPrincipals.
type PrincipalFilter struct {
	Type   *PrincipalType
	Status *PrincipalStatus
	Limit  int // default 100, max 1000
	Offset int
}

// Store defines the persistence hubgate needs.
type Store interface {
	// Principals
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	ListPrincipals(ctx context.Context, f PrincipalFilter) ([]Principal, error)
	CountPrincipals(ctx context.Context, f PrincipalFilter) (int, error)
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
	TouchPrincipal(ctx context.Context, id string, at time.Time) error
	DeletePrincipal(ctx context.Context, id string) error

	// Audit log
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Ping checks the database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
