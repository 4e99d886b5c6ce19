package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTestSocket spins up a throwaway echo-less server and returns both
// ends of an upgraded connection.
func dialTestSocket(t *testing.T) (client *websocket.Conn, server *websocket.Conn) {
	t.Helper()

	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-serverCh:
		t.Cleanup(func() { serverConn.Close() })
		return clientConn, serverConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server side of connection")
		return nil, nil
	}
}

// newTestConnection wraps the server side of a fresh socket pair and
// returns the peer so tests can read what the connection writes.
func newTestConnection(t *testing.T, id, sessionID, role string) (*Connection, *websocket.Conn) {
	t.Helper()
	peer, server := dialTestSocket(t)
	conn := NewConnection(server, id, sessionID, role, 0)
	t.Cleanup(func() { conn.Close() })
	return conn, peer
}

func readFrame(t *testing.T, peer *websocket.Conn) *types.Frame {
	t.Helper()
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("peer read failed: %v", err)
	}
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("peer received invalid frame: %v", err)
	}
	return &frame
}

func TestConnection_Initialization(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleVolunteer)

	if conn.ID() != "conn-1" {
		t.Errorf("expected ID conn-1, got %q", conn.ID())
	}
	if conn.SessionID() != "session-1" {
		t.Errorf("expected session-1, got %q", conn.SessionID())
	}
	if conn.Role() != types.RoleVolunteer {
		t.Errorf("expected volunteer role, got %q", conn.Role())
	}
	if !conn.Alive() {
		t.Error("new connection should start alive")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("expected default write buffer of 100, got %d", cap(conn.writeCh))
	}
}

func TestConnection_WriteFrameDelivery(t *testing.T) {
	conn, peer := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	frame, _ := types.NewFrame(types.FrameCrisisMessage, map[string]string{"content": "hello"})
	if err := conn.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got := readFrame(t, peer)
	if got.Type != types.FrameCrisisMessage {
		t.Errorf("expected frame type %q, got %q", types.FrameCrisisMessage, got.Type)
	}
}

func TestConnection_WriteAfterCloseFails(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)
	_ = conn.Close()

	frame, _ := types.NewFrame(types.FrameHeartbeat, nil)
	if err := conn.WriteFrame(frame); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	if err := conn.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}

func TestConnection_PriorityFrameBypassesQueue(t *testing.T) {
	// A tiny normal buffer back-pressured by an unread peer would stall
	// normal traffic; the priority lane must still deliver.
	peer, server := dialTestSocket(t)
	conn := NewConnection(server, "conn-1", "session-1", types.RoleAnonymousUser, 2)
	t.Cleanup(func() { conn.Close() })

	urgent, _ := types.NewPriorityFrame(types.FrameEmergencyAlert, map[string]string{"level": types.AlertLevelImmediate})
	if err := conn.WriteFrame(urgent); err != nil {
		t.Fatalf("priority WriteFrame failed: %v", err)
	}

	got := readFrame(t, peer)
	if got.Type != types.FrameEmergencyAlert {
		t.Errorf("expected emergency alert, got %q", got.Type)
	}
	if !got.IsPriority() {
		t.Error("delivered frame should retain its priority marker")
	}
}

func TestConnection_FailedWriteTearsConnectionDown(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	// Kill the transport underneath the wrapper; the next write the
	// writer goroutine attempts must fail and cancel the connection.
	_ = conn.conn.Close()

	frame, _ := types.NewFrame(types.FrameHeartbeat, nil)
	_ = conn.WriteFrame(frame)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not cancelled after write failure")
	}

	// Later writers fail immediately instead of waiting out the write
	// timeout.
	start := time.Now()
	if err := conn.WriteFrame(frame); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("write after teardown took %s, should fail fast", elapsed)
	}
}

func TestConnection_AliveFlagRoundTrip(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	conn.SetAlive(false)
	if conn.Alive() {
		t.Error("expected Alive false after SetAlive(false)")
	}
	conn.SetAlive(true)
	if !conn.Alive() {
		t.Error("expected Alive true after SetAlive(true)")
	}
}

func TestConnection_TouchUpdatesLastActivity(t *testing.T) {
	conn, _ := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	before := conn.LastActivity()
	time.Sleep(5 * time.Millisecond)
	conn.Touch()
	if !conn.LastActivity().After(before) {
		t.Error("Touch should advance LastActivity")
	}
}

func TestConnection_ReadFrame(t *testing.T) {
	conn, peer := newTestConnection(t, "conn-1", "session-1", types.RoleAnonymousUser)

	frame, _ := types.NewFrame(types.FrameCrisisMessage, map[string]string{"content": "hi"})
	data, _ := json.Marshal(frame)
	if err := peer.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}

	got, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Type != types.FrameCrisisMessage {
		t.Errorf("expected crisis_message, got %q", got.Type)
	}

	if err := peer.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
	if _, err := conn.ReadFrame(); err != ErrInvalidFrame {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}
