package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lifeline/pkg/types"
)

const writeTimeout = 5 * time.Second

// Connection wraps one duplex transport endpoint. All writes are
// serialized through a single writer goroutine; emergency frames travel
// on a separate lane that is drained ahead of the normal queue.
type Connection struct {
	id        string
	sessionID string
	role      string

	conn       *websocket.Conn
	writeCh    chan []byte
	priorityCh chan []byte

	connectedAt time.Time
	alive       atomic.Bool

	mu           sync.RWMutex
	lastActivity time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine. The identity fields are fixed for the connection lifetime.
func NewConnection(conn *websocket.Conn, id, sessionID, role string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		sessionID:    sessionID,
		role:         role,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		priorityCh:   make(chan []byte, 16),
		connectedAt:  time.Now(),
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.alive.Store(true)

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying transport. The
// priority lane is checked first on every iteration so emergency frames
// are never stuck behind queued normal traffic. A failed write cancels
// the connection so queued writers fail fast instead of waiting out
// their timeout.
func (c *Connection) writeLoop() {
	for {
		select {
		case data, ok := <-c.priorityCh:
			if !ok {
				return
			}
			if !c.write(data) {
				c.cancel()
				return
			}
		default:
			select {
			case data, ok := <-c.priorityCh:
				if !ok {
					return
				}
				if !c.write(data) {
					c.cancel()
					return
				}
			case data, ok := <-c.writeCh:
				if !ok {
					return
				}
				if !c.write(data) {
					c.cancel()
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

// WriteFrame queues a frame for delivery. IMMEDIATE-priority frames are
// placed on the priority lane. Returns ErrConnectionClosed once the
// connection is no longer writable.
func (c *Connection) WriteFrame(frame *types.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return ErrInvalidFrame
	}

	ch := c.writeCh
	if frame.IsPriority() {
		ch = c.priorityCh
	}

	select {
	case ch <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadFrame blocks until the next frame arrives on the transport.
// Malformed JSON is surfaced as ErrInvalidFrame so callers can tell a
// protocol error apart from a dead socket.
func (c *Connection) ReadFrame() (*types.Frame, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrConnectionClosed
	default:
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, ErrInvalidFrame
	}
	return &frame, nil
}

// CloseWithCode sends a close control frame before tearing down the
// transport, so clients can distinguish reap causes by close code.
func (c *Connection) CloseWithCode(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.Close()
}

// Close tears down the connection exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection is no longer usable.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) SessionID() string { return c.sessionID }
func (c *Connection) Role() string      { return c.role }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Alive reports whether the peer answered the most recent liveness probe.
func (c *Connection) Alive() bool {
	return c.alive.Load()
}

// SetAlive flips the liveness flag; the heartbeat monitor clears it each
// probe cycle and inbound heartbeats set it again.
func (c *Connection) SetAlive(alive bool) {
	c.alive.Store(alive)
}

// Touch refreshes the last-activity timestamp.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}
