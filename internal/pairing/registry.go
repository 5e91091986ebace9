package pairing

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the process-wide table of open connections keyed by id.
//
// It owns connection records. Every read returns a copy, so callers never
// hold a reference that a concurrent transition could mutate. Only the
// partner field is mutable after registration, and only through setPartner,
// which the Engine calls inside its transition lock.
//
// All public methods are thread-safe.
type Registry struct {
	conns map[string]*Connection
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Register inserts a connection. The partner field is always cleared:
// every connection starts unpaired.
func (r *Registry) Register(conn Connection) error {
	if conn.ID == "" {
		return ErrInvalidID
	}
	if !conn.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, conn.Role)
	}
	if conn.peer == nil {
		return ErrNilPeer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, conn.ID)
	}
	conn.Partner = ""
	r.conns[conn.ID] = &conn
	return nil
}

// Unregister removes a connection. Removing an absent id is a no-op, since
// transport close can race with other cleanup paths.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Lookup returns a snapshot of the connection with the given id.
func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// ListUnpaired returns snapshots of every connection with the given role
// that has no partner, ordered by creation time.
func (r *Registry) ListUnpaired(role Role) []Connection {
	r.mu.RLock()
	result := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if conn.Role == role && !conn.Paired() {
			result = append(result, *conn)
		}
	}
	r.mu.RUnlock()

	sortConnections(result)
	return result
}

// List returns snapshots of every live connection, ordered by creation time.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	result := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		result = append(result, *conn)
	}
	r.mu.RUnlock()

	sortConnections(result)
	return result
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns connection counts for monitoring.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, conn := range r.conns {
		switch conn.Role {
		case RoleController:
			s.Controllers++
		case RoleDevice:
			s.Devices++
		}
		if conn.Paired() {
			s.PairedConnections++
		}
	}
	s.Pairs = s.PairedConnections / 2
	return s
}

// Stats holds connection counts.
type Stats struct {
	Controllers       int `json:"controllers"`
	Devices           int `json:"devices"`
	PairedConnections int `json:"paired_connections"`
	Pairs             int `json:"pairs"`
}

// setPartner updates the partner field of id. It reports false if id is
// not registered. Callers must hold the Engine transition lock.
func (r *Registry) setPartner(id, partner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.Partner = partner
	return true
}

// sortConnections orders by creation time, then id.
func sortConnections(conns []Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreatedAt.Equal(conns[j].CreatedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})
}
