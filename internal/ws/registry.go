package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Registry maps an authenticated user to their live connections. A user may be
// connected from several devices at once. Safe for concurrent registration and
// deregistration from connection goroutines while broadcast reads are in
// flight: readers always get a copied snapshot.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[string]Conn
}

// NewRegistry constructs an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]map[string]Conn)}
}

// Register adds a connection. Returns true when this is the user's first live
// connection, i.e. the user just came online.
func (r *Registry) Register(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[conn.User()]
	if set == nil {
		set = make(map[string]Conn)
		r.conns[conn.User()] = set
	}
	set[conn.ConnID()] = conn
	return len(set) == 1
}

// Unregister removes a connection. Returns true when the user has no remaining
// connections, i.e. the user just went offline. In-flight pushes to the removed
// connection are abandoned; the client catches up via pagination on reconnect.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[conn.User()]
	if !ok {
		return false
	}
	if _, tracked := set[conn.ConnID()]; !tracked {
		return false
	}
	delete(set, conn.ConnID())
	if len(set) == 0 {
		delete(r.conns, conn.User())
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of the user's live connections. The slice
// is a copy; registrations after the call do not affect it.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, conn := range set {
		out = append(out, conn)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the total number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.conns {
		total += len(set)
	}
	return total
}

// CloseAll terminates every tracked connection and clears the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]Conn, 0)
	for _, set := range r.conns {
		for _, conn := range set {
			all = append(all, conn)
		}
	}
	r.conns = make(map[uuid.UUID]map[string]Conn)
	r.mu.Unlock()

	for _, conn := range all {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}
