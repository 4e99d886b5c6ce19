package websocket

import (
	"fmt"
	"sync"
	"testing"

	"lifeline/pkg/types"
)

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}

	conn, _ := newTestConnection(t, "conn-1", "", types.RoleAnonymousUser)
	if err := registry.Register(conn); err != ErrMissingSession {
		t.Errorf("expected ErrMissingSession, got %v", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleVolunteer)

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, exists := registry.Get("conn-1")
	if !exists {
		t.Fatal("connection not found after registration")
	}
	if got != conn {
		t.Error("Get returned a different connection")
	}

	if err := registry.Register(conn); err != ErrDuplicateID {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestRegistry_SessionMembership(t *testing.T) {
	registry := NewRegistry()

	a, _ := newTestConnection(t, "conn-a", "session-1", types.RoleAnonymousUser)
	b, _ := newTestConnection(t, "conn-b", "session-1", types.RoleVolunteer)
	c, _ := newTestConnection(t, "conn-c", "session-2", types.RoleAnonymousUser)

	for _, conn := range []*Connection{a, b, c} {
		if err := registry.Register(conn); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	members := registry.MembersOf("session-1")
	if len(members) != 2 {
		t.Errorf("expected 2 members in session-1, got %d", len(members))
	}

	if got := registry.MembersOf("no-such-session"); len(got) != 0 {
		t.Errorf("expected empty result for unknown session, got %d", len(got))
	}

	volunteers := registry.MembersByRole(types.RoleVolunteer)
	if len(volunteers) != 1 || volunteers[0].ID() != "conn-b" {
		t.Errorf("expected conn-b as the only volunteer, got %v", volunteers)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	removed, ok := registry.Unregister("conn-1")
	if !ok {
		t.Fatal("first unregister should report removal")
	}
	if removed != conn {
		t.Error("Unregister returned a different connection")
	}

	if _, ok := registry.Unregister("conn-1"); ok {
		t.Error("second unregister should be a no-op")
	}
	if _, ok := registry.Unregister("never-registered"); ok {
		t.Error("unregistering an unknown ID should be a no-op")
	}
}

func TestRegistry_EmptySessionRemoved(t *testing.T) {
	registry := NewRegistry()

	a, _ := newTestConnection(t, "conn-a", "session-1", types.RoleAnonymousUser)
	b, _ := newTestConnection(t, "conn-b", "session-1", types.RoleVolunteer)
	registry.Register(a)
	registry.Register(b)

	if registry.Stats()["active_sessions"] != 1 {
		t.Fatal("expected one active session")
	}

	registry.Unregister("conn-a")
	if registry.Stats()["active_sessions"] != 1 {
		t.Error("session should survive while it has members")
	}

	registry.Unregister("conn-b")
	stats := registry.Stats()
	if stats["active_sessions"] != 0 {
		t.Error("empty session should be removed with its last member")
	}
	if _, ok := stats["role_"+types.RoleVolunteer]; ok {
		t.Error("empty role set should be removed")
	}
}

func TestRegistry_Stats(t *testing.T) {
	registry := NewRegistry()

	a, _ := newTestConnection(t, "conn-a", "session-1", types.RoleAnonymousUser)
	b, _ := newTestConnection(t, "conn-b", "session-2", types.RoleVolunteer)
	c, _ := newTestConnection(t, "conn-c", "session-2", types.RoleVolunteer)
	for _, conn := range []*Connection{a, b, c} {
		registry.Register(conn)
	}

	stats := registry.Stats()
	if stats["total_connections"] != 3 {
		t.Errorf("expected 3 connections, got %d", stats["total_connections"])
	}
	if stats["active_sessions"] != 2 {
		t.Errorf("expected 2 sessions, got %d", stats["active_sessions"])
	}
	if stats["role_"+types.RoleVolunteer] != 2 {
		t.Errorf("expected 2 volunteers, got %d", stats["role_"+types.RoleVolunteer])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	conns := make([]*Connection, 20)
	for i := range conns {
		conn, _ := newTestConnection(t, fmt.Sprintf("conn-%d", i), fmt.Sprintf("session-%d", i%4), types.RoleAnonymousUser)
		conns[i] = conn
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := registry.Register(c); err != nil {
				t.Errorf("concurrent Register failed: %v", err)
			}
		}(conn)
	}
	wg.Wait()

	if registry.Stats()["total_connections"] != len(conns) {
		t.Fatalf("expected %d connections registered", len(conns))
	}

	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			registry.Unregister(c.ID())
		}(conn)
	}
	// Readers race the unregisters; they must never panic or deadlock.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.Snapshot()
			registry.MembersOf("session-1")
			registry.Stats()
		}()
	}
	wg.Wait()

	if registry.Stats()["total_connections"] != 0 {
		t.Error("expected empty registry after concurrent unregister")
	}
}
