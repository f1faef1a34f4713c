// ABOUTME: Namespace is an independently addressable delivery group in the hub
// ABOUTME: Tracks transport membership separately from the delivery mapping used for fan-out

package hub

import (
	"log/slog"
	"sort"
	"sync"
)

// Namespace is a named partition of the hub. A socket that joined the
// namespace is a member; it only receives broadcasts while it is also in the
// delivery mapping. Guards decide whether a joining member enters the
// delivery mapping at all; Admit and RemoveIf move members in and out later.
type Namespace struct {
	name   string
	logger *slog.Logger

	mu        sync.RWMutex
	members   map[string]*Socket // transport membership
	connected map[string]*Socket // delivery mapping
	observers []func(*Socket)
	guards    []func(*Socket) bool
}

func newNamespace(name string, logger *slog.Logger) *Namespace {
	return &Namespace{
		name:      name,
		logger:    logger.With("namespace", name),
		members:   make(map[string]*Socket),
		connected: make(map[string]*Socket),
	}
}

// Name returns the namespace name, always with a leading slash.
func (n *Namespace) Name() string {
	return n.name
}

// Guard registers an admission predicate. A joining socket enters the
// delivery mapping only if every guard returns true; guards run under the
// namespace lock and must not call back into the namespace.
func (n *Namespace) Guard(fn func(*Socket) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.guards = append(n.guards, fn)
}

func (n *Namespace) admissible(s *Socket) bool {
	for _, fn := range n.guards {
		if !fn(s) {
			return false
		}
	}
	return true
}

// OnConnect registers fn to run every time a socket joins the namespace.
// Observers run after the socket has been recorded as a member and, if the
// guards allowed it, added to the delivery mapping.
func (n *Namespace) OnConnect(fn func(*Socket)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

// Join adds the socket to the namespace and notifies connect observers.
func (n *Namespace) Join(s *Socket) {
	n.mu.Lock()
	n.members[s.ID()] = s
	admitted := n.admissible(s)
	if admitted {
		n.connected[s.ID()] = s
	}
	observers := make([]func(*Socket), len(n.observers))
	copy(observers, n.observers)
	n.mu.Unlock()

	s.track(n)
	n.logger.Debug("socket joined", "socket_id", s.ID(), "delivered", admitted)

	for _, fn := range observers {
		fn(s)
	}
}

// Leave removes the socket from membership and delivery.
func (n *Namespace) Leave(id string) {
	n.mu.Lock()
	_, existed := n.members[id]
	delete(n.members, id)
	delete(n.connected, id)
	n.mu.Unlock()

	if existed {
		n.logger.Debug("socket left", "socket_id", id)
	}
}

// IsMember reports whether the socket joined the namespace.
func (n *Namespace) IsMember(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.members[id]
	return ok
}

// IsConnected reports whether the socket is in the delivery mapping.
func (n *Namespace) IsConnected(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.connected[id]
	return ok
}

// Admit puts a member back into the delivery mapping. It returns false,
// and changes nothing, if the socket never joined the namespace.
func (n *Namespace) Admit(s *Socket) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.members[s.ID()]; !ok {
		return false
	}
	n.connected[s.ID()] = s
	return true
}

// RemoveIf takes the socket out of the delivery mapping when cond holds.
// cond is evaluated under the namespace lock, so it is ordered against
// concurrent Admit calls for the same socket.
func (n *Namespace) RemoveIf(id string, cond func() bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.connected[id]; !ok {
		return false
	}
	if cond != nil && !cond() {
		return false
	}
	delete(n.connected, id)
	return true
}

// Members returns the ids of all sockets that joined, sorted.
func (n *Namespace) Members() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return sortedIDs(n.members)
}

// Delivered returns the ids in the delivery mapping, sorted.
func (n *Namespace) Delivered() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return sortedIDs(n.connected)
}

// Broadcast sends an event to every socket in the delivery mapping except
// exceptID. Sockets whose outbound queue is full miss the event.
// Returns the number of sockets the event was queued for.
func (n *Namespace) Broadcast(event string, payload any, exceptID string) (int, error) {
	data, err := marshalData(payload)
	if err != nil {
		return 0, err
	}

	// Copy targets under read lock to avoid holding it during sends
	n.mu.RLock()
	targets := make([]*Socket, 0, len(n.connected))
	for id, s := range n.connected {
		if exceptID != "" && id == exceptID {
			continue
		}
		targets = append(targets, s)
	}
	n.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		f := &Frame{Kind: KindEvent, Namespace: n.name, Event: event, Data: data}
		if s.deliver(f) {
			delivered++
			continue
		}
		n.logger.Debug("dropped event for slow socket",
			"socket_id", s.ID(),
			"event", event)
	}
	return delivered, nil
}

func sortedIDs(m map[string]*Socket) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
