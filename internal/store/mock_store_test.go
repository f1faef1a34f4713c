// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on duplicate detection, filtering and ordering of the in-memory implementation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Principals(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	p := &Principal{ID: "p-1", Type: PrincipalTypeClient, DisplayName: "One", Status: PrincipalStatusApproved}
	require.NoError(t, store.CreatePrincipal(ctx, p))
	assert.ErrorIs(t, store.CreatePrincipal(ctx, p), ErrDuplicatePrincipal)

	// Returned values are copies.
	got, err := store.GetPrincipal(ctx, "p-1")
	require.NoError(t, err)
	got.DisplayName = "changed"
	again, _ := store.GetPrincipal(ctx, "p-1")
	assert.Equal(t, "One", again.DisplayName)

	require.NoError(t, store.UpdatePrincipalStatus(ctx, "p-1", PrincipalStatusRevoked))
	revoked := PrincipalStatusRevoked
	n, err := store.CountPrincipals(ctx, PrincipalFilter{Status: &revoked})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	now := time.Now()
	require.NoError(t, store.TouchPrincipal(ctx, "p-1", now))
	got, _ = store.GetPrincipal(ctx, "p-1")
	require.NotNil(t, got.LastSeen)

	assert.ErrorIs(t, store.UpdatePrincipalStatus(ctx, "p-1", "bogus"), ErrInvalidStatus)
	assert.ErrorIs(t, store.TouchPrincipal(ctx, "missing", now), ErrPrincipalNotFound)

	require.NoError(t, store.DeletePrincipal(ctx, "p-1"))
	_, err = store.GetPrincipal(ctx, "p-1")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestMockStore_ListPrincipalsPagination(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreatePrincipal(ctx, &Principal{
			ID:        generateTestID("p", i),
			Type:      PrincipalTypeClient,
			Status:    PrincipalStatusApproved,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := store.ListPrincipals(ctx, PrincipalFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p-b", page[0].ID)
	assert.Equal(t, "p-c", page[1].ID)

	empty, err := store.ListPrincipals(ctx, PrincipalFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMockStore_AuditLog(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, action := range []AuditAction{AuditHandshakeRejected, AuditSessionAuthenticated, AuditHandshakeTimeout} {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			Action:     action,
			TargetType: TargetSocket,
			TargetID:   "5",
		}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditHandshakeTimeout, entries[0].Action)
	assert.NotEmpty(t, entries[0].ID)

	action := AuditSessionAuthenticated
	entries, err = store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMockStore_PingAfterClose(t *testing.T) {
	store := NewMockStore()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}
