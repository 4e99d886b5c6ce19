package websocket

import "sync"

// Registry is the single source of truth for who is connected, to which
// session, in which role. Sessions exist only as non-empty membership
// sets; removing the last member removes the session entry in the same
// critical section, so there are never dangling empty sets.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection            // connID -> Connection
	sessions map[string]map[string]*Connection // sessionID -> connID -> Connection
	roles    map[string]map[string]*Connection // role -> connID -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		sessions: make(map[string]map[string]*Connection),
		roles:    make(map[string]map[string]*Connection),
	}
}

// Register inserts the connection under its session membership set and
// role index atomically.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.SessionID() == "" {
		return ErrMissingSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return ErrDuplicateID
	}

	r.conns[conn.ID()] = conn

	if r.sessions[conn.SessionID()] == nil {
		r.sessions[conn.SessionID()] = make(map[string]*Connection)
	}
	r.sessions[conn.SessionID()][conn.ID()] = conn

	if r.roles[conn.Role()] == nil {
		r.roles[conn.Role()] = make(map[string]*Connection)
	}
	r.roles[conn.Role()][conn.ID()] = conn

	return nil
}

// Unregister removes the connection from all indexes. Idempotent:
// unregistering an absent ID is a no-op. Returns the removed connection
// and whether anything was removed, so callers can broadcast a leave
// exactly once.
func (r *Registry) Unregister(connID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return nil, false
	}

	delete(r.conns, connID)

	if members, ok := r.sessions[conn.SessionID()]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.sessions, conn.SessionID())
		}
	}

	if members, ok := r.roles[conn.Role()]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.roles, conn.Role())
		}
	}

	return conn, true
}

// Get returns the connection for an ID.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.conns[connID]
	return conn, exists
}

// MembersOf returns the current connections of a session; empty slice if
// the session does not exist.
func (r *Registry) MembersOf(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.sessions[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// MembersByRole returns all connections across all sessions with the
// given role.
func (r *Registry) MembersByRole(role string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.roles[role] {
		conns = append(conns, conn)
	}
	return conns
}

// Snapshot returns every live connection, for heartbeat sweeps and
// shutdown broadcasts.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns registry counters for the ops surface.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_connections": len(r.conns),
		"active_sessions":   len(r.sessions),
	}
	for role, members := range r.roles {
		stats["role_"+role] = len(members)
	}
	return stats
}
