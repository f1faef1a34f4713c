// ABOUTME: Tests for namespace membership, the delivery mapping and fan-out
// ABOUTME: Guards and RemoveIf can hide members from delivery without removing them

package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSocket builds a socket that is not served; enough for namespace
// bookkeeping.
func newTestSocket(t *testing.T, srv *Server, id string) *Socket {
	t.Helper()
	serverEnd, _ := Pipe()
	s := newSocket(context.Background(), srv, id, serverEnd)
	t.Cleanup(s.cancel)
	return s
}

func TestNamespace_JoinRunsObserversAfterInsert(t *testing.T) {
	srv := NewServer(Config{})
	ns := srv.Of("/chat")
	s := newTestSocket(t, srv, "5")

	var seenMember, seenConnected bool
	ns.OnConnect(func(sock *Socket) {
		seenMember = ns.IsMember(sock.ID())
		seenConnected = ns.IsConnected(sock.ID())
	})

	ns.Join(s)

	assert.True(t, seenMember)
	assert.True(t, seenConnected)
	assert.Equal(t, []string{"/chat"}, namespaceNames(s))
}

func TestNamespace_GuardDecidesDeliveryOnJoin(t *testing.T) {
	srv := NewServer(Config{})
	ns := srv.Of("/chat")
	allowed := newTestSocket(t, srv, "5")
	held := newTestSocket(t, srv, "6")
	ns.Guard(func(s *Socket) bool { return s.ID() == "5" })

	var heldVisible bool
	ns.OnConnect(func(sock *Socket) {
		if sock.ID() == "6" {
			heldVisible = ns.IsConnected("6")
		}
	})

	ns.Join(allowed)
	ns.Join(held)

	assert.False(t, heldVisible)
	assert.Equal(t, []string{"5", "6"}, ns.Members())
	assert.Equal(t, []string{"5"}, ns.Delivered())

	// Admit bypasses guards; the gate restores only authenticated sockets.
	assert.True(t, ns.Admit(held))
	assert.Equal(t, []string{"5", "6"}, ns.Delivered())
}

func TestNamespace_RemoveIfKeepsMembership(t *testing.T) {
	srv := NewServer(Config{})
	ns := srv.Of("/chat")
	s := newTestSocket(t, srv, "5")
	ns.Join(s)

	assert.False(t, ns.RemoveIf("5", func() bool { return false }))
	assert.True(t, ns.IsConnected("5"))

	assert.True(t, ns.RemoveIf("5", func() bool { return true }))
	assert.False(t, ns.IsConnected("5"))
	assert.True(t, ns.IsMember("5"))

	// Already out of delivery.
	assert.False(t, ns.RemoveIf("5", nil))
}

func TestNamespace_Admit(t *testing.T) {
	srv := NewServer(Config{})
	ns := srv.Of("/chat")
	member := newTestSocket(t, srv, "5")
	stranger := newTestSocket(t, srv, "6")
	ns.Join(member)
	ns.RemoveIf("5", nil)

	assert.True(t, ns.Admit(member))
	assert.True(t, ns.Admit(member))
	assert.Equal(t, []string{"5"}, ns.Delivered())

	assert.False(t, ns.Admit(stranger))
	assert.Equal(t, []string{"5"}, ns.Delivered())
	assert.Equal(t, []string{"5"}, ns.Members())
}

func TestNamespace_Leave(t *testing.T) {
	srv := NewServer(Config{})
	ns := srv.Of("/chat")
	s := newTestSocket(t, srv, "5")
	ns.Join(s)

	ns.Leave("5")
	ns.Leave("5")

	assert.Empty(t, ns.Members())
	assert.Empty(t, ns.Delivered())
	assert.False(t, ns.Admit(s))
}

func TestBroadcast_OnlyDeliveryMapping(t *testing.T) {
	srv := NewServer(Config{Namespaces: []string{"/chat"}, NewID: fixedIDs("a", "b")})
	ca, a := connect(t, srv)
	cb, b := connect(t, srv)
	ctx := testContext(t)
	require.NoError(t, ca.Join(ctx, "/chat"))
	require.NoError(t, cb.Join(ctx, "/chat"))

	ns, _ := srv.Lookup("/chat")
	require.True(t, ns.RemoveIf(b, nil))

	n, err := ns.Broadcast("news", map[string]string{"v": "1"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := ca.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "news", f.Event)
	assert.Equal(t, "/chat", f.Namespace)

	quiet, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = cb.Next(quiet)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, ns.IsMember(a))
}

func TestBroadcast_ExceptSender(t *testing.T) {
	srv := NewServer(Config{Namespaces: []string{"/chat"}, NewID: fixedIDs("a", "b")})
	ca, a := connect(t, srv)
	cb, _ := connect(t, srv)
	ctx := testContext(t)
	require.NoError(t, ca.Join(ctx, "/chat"))
	require.NoError(t, cb.Join(ctx, "/chat"))

	ns, _ := srv.Lookup("/chat")
	n, err := ns.Broadcast("news", "hi", a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := cb.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"hi"`, string(f.Data))
}

func TestPublish_RequiresDelivery(t *testing.T) {
	srv := NewServer(Config{Namespaces: []string{"/chat"}, NewID: fixedIDs("a", "b")})
	ca, a := connect(t, srv)
	cb, _ := connect(t, srv)
	ctx := testContext(t)

	_, err := ca.Publish(ctx, "/chat", "msg", "hello")
	assert.EqualError(t, err, ErrNotPermitted.Error())

	require.NoError(t, ca.Join(ctx, "/chat"))
	require.NoError(t, cb.Join(ctx, "/chat"))

	n, err := ca.Publish(ctx, "/chat", "msg", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := cb.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "msg", f.Event)

	// Hidden members may not publish either.
	ns, _ := srv.Lookup("/chat")
	ns.RemoveIf(a, nil)
	_, err = ca.Publish(ctx, "/chat", "msg", "again")
	assert.EqualError(t, err, ErrNotPermitted.Error())
}

func TestNormalizeNamespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"  ", "/"},
		{"/", "/"},
		{"chat", "/chat"},
		{"/chat", "/chat"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeNamespace(tt.in))
		})
	}
}

func namespaceNames(s *Socket) []string {
	var names []string
	for _, ns := range s.Namespaces() {
		names = append(names, ns.Name())
	}
	return names
}
