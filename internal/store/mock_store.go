// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal // keyed by principal ID
	audit      []AuditEntry          // append order
	closed     bool
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		principals: make(map[string]*Principal),
	}
}

func copyPrincipal(p *Principal) *Principal {
	c := *p
	if p.LastSeen != nil {
		ts := *p.LastSeen
		c.LastSeen = &ts
	}
	return &c
}

// CreatePrincipal stores a new principal.
func (m *MockStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if _, err := encodeMetadata(p.Metadata); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.principals[p.ID]; ok {
		return ErrDuplicatePrincipal
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.principals[p.ID] = copyPrincipal(p)
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (m *MockStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return copyPrincipal(p), nil
}

func (m *MockStore) matchingPrincipals(f PrincipalFilter) []Principal {
	var out []Principal
	for _, p := range m.principals {
		if f.Type != nil && p.Type != *f.Type {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		out = append(out, *copyPrincipal(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListPrincipals returns principals ordered by creation time, oldest first.
func (m *MockStore) ListPrincipals(ctx context.Context, f PrincipalFilter) ([]Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.matchingPrincipals(f)
	if f.Offset >= len(all) {
		return []Principal{}, nil
	}
	all = all[f.Offset:]
	if limit := normalizeLimit(f.Limit); len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CountPrincipals counts principals matching the filter.
func (m *MockStore) CountPrincipals(ctx context.Context, f PrincipalFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchingPrincipals(f)), nil
}

// UpdatePrincipalStatus changes a principal's status.
func (m *MockStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Status = status
	return nil
}

// TouchPrincipal records the last time a principal authenticated.
func (m *MockStore) TouchPrincipal(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	ts := at.UTC().Truncate(time.Second)
	p.LastSeen = &ts
	return nil
}

// DeletePrincipal removes a principal.
func (m *MockStore) DeletePrincipal(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.principals[id]; !ok {
		return ErrPrincipalNotFound
	}
	delete(m.principals, id)
	return nil
}

// AppendAuditLog appends an entry, generating ID and Timestamp if unset.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

func auditMatches(e AuditEntry, f AuditFilter) bool {
	switch {
	case f.Since != nil && e.Timestamp.Before(*f.Since):
		return false
	case f.Until != nil && e.Timestamp.After(*f.Until):
		return false
	case f.ActorPrincipalID != nil && e.ActorPrincipalID != *f.ActorPrincipalID:
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.TargetType != nil && e.TargetType != *f.TargetType:
		return false
	case f.TargetID != nil && e.TargetID != *f.TargetID:
		return false
	}
	return true
}

// ListAuditLog returns matching entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		if auditMatches(m.audit[i], f) {
			entries = append(entries, m.audit[i])
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit := normalizeLimit(f.Limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping fails once the store is closed.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("store closed")
	}
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
