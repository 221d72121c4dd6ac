package hub

import (
	"sort"
	"sync"
)

// Conn is a live bidirectional channel to one client process.
//
// Send must not block: implementations queue the payload on a bounded
// per-connection buffer and return an error when the buffer is full or the
// connection is gone. Payloads sent to one Conn are written in Send order.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Registry maps each user to at most one live connection. All operations are
// a single critical section.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string // conn id -> user id, current entries only
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Register inserts or replaces the entry for userID and returns the handle it
// replaced, if any. Registering the same handle twice returns nil.
func (r *Registry) Register(userID string, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
		prev = old
	}
	// A handle moving to a different user drops its old entry.
	if uid, ok := r.byConn[conn.ID()]; ok && uid != userID {
		delete(r.byUser, uid)
	}
	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	return prev
}

// Deregister removes the entry held by conn. It returns the user that was
// removed, or ok=false if conn is not (or no longer) a current entry, in
// which case nothing changes.
func (r *Registry) Deregister(conn Conn) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	if cur, exists := r.byUser[userID]; exists && cur.ID() == conn.ID() {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Lookup returns the current connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Contains reports whether userID has a live connection.
func (r *Registry) Contains(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// IsCurrent reports whether conn is the registered connection for userID.
func (r *Registry) IsCurrent(userID string, conn Conn) bool {
	cur, ok := r.Lookup(userID)
	return ok && cur.ID() == conn.ID()
}

// SnapshotUserIDs returns the registered users in sorted order.
func (r *Registry) SnapshotUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// registeredConn pairs a user with its connection in a snapshot.
type registeredConn struct {
	userID string
	conn   Conn
}

func (r *Registry) snapshot() []registeredConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registeredConn, 0, len(r.byUser))
	for uid, conn := range r.byUser {
		out = append(out, registeredConn{userID: uid, conn: conn})
	}
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
