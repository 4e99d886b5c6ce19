package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lifeline/pkg/types"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateError        = "error"
)

const (
	defaultDialTimeout       = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultBackoffBase       = 2 * time.Second
	defaultBackoffMax        = 30 * time.Second
	defaultMaxReconnects     = 10
	defaultEventBuffer       = 256
)

// Event is one item on the client's typed event stream. Emergency is set
// for frames carrying IMMEDIATE priority so consumers can surface alerts
// without inspecting payloads.
type Event struct {
	// State is non-empty for state transitions.
	State string
	// Frame is non-nil for received frames.
	Frame *types.Frame
	// Emergency marks priority frames.
	Emergency bool
	// Err is non-nil when the transition was caused by a failure.
	Err error
}

// Options tunes client behavior; zero values select defaults.
type Options struct {
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxReconnects     int
	QueueCapacity     int
	Logger            zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = defaultMaxReconnects
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
}

// Client maintains one logical connection to the server, surviving
// transport drops with exponential-backoff reconnects. Frames sent while
// disconnected are queued and flushed, priority first, once the
// connection is back.
type Client struct {
	serverURL string
	sessionID string
	role      string
	opts      Options
	log       zerolog.Logger

	mu      sync.RWMutex
	conn    *gorilla.Conn
	state   string
	rtt     time.Duration
	closing bool

	queue   *sendQueue
	eventCh chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client for the given server URL (scheme ws or wss),
// session, and role. No connection is made until Connect.
func New(serverURL, sessionID, role string, opts Options) (*Client, error) {
	if sessionID == "" {
		return nil, types.ErrMissingSessionID
	}
	if role == "" {
		role = types.RoleAnonymousUser
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	opts.withDefaults()

	return &Client{
		serverURL: serverURL,
		sessionID: sessionID,
		role:      role,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "client").Logger(),
		state:     StateDisconnected,
		queue:     newSendQueue(opts.QueueCapacity),
		eventCh:   make(chan Event, defaultEventBuffer),
	}, nil
}

// Connect dials the server and starts the read and heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		// A reconnect in flight owns the transport; a second Connect
		// would race it into two live connections.
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.closing = false
	c.mu.Unlock()

	c.setState(StateConnecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.wg.Add(2)
	c.mu.Unlock()

	c.setState(StateConnected, nil)
	c.flushQueue()

	go c.readLoop(runCtx)
	go c.heartbeatLoop(runCtx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*gorilla.Conn, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("sessionId", c.sessionID)
	q.Set("userType", c.role)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := gorilla.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return conn, nil
}

// Disconnect closes the connection intentionally; no reconnect follows.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected, nil)
	return nil
}

// Send marshals and delivers a frame, queueing it if the connection is
// down. Returns ErrQueueFull when the frame could not even be queued.
func (c *Client) Send(frameType string, payload any) error {
	frame, err := types.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	return c.sendFrame(frame)
}

// SendPriority is Send with IMMEDIATE priority; queued priority frames
// survive queue pressure that evicts normal traffic.
func (c *Client) SendPriority(frameType string, payload any) error {
	frame, err := types.NewPriorityFrame(frameType, payload)
	if err != nil {
		return err
	}
	return c.sendFrame(frame)
}

// SendMessage is a convenience wrapper for crisis messages.
func (c *Client) SendMessage(content, urgency string) error {
	return c.Send(types.FrameCrisisMessage, map[string]any{
		"content":       content,
		"urgency_level": urgency,
	})
}

// RequestEscalation asks the server to raise an emergency alert.
func (c *Client) RequestEscalation(level, message string) error {
	return c.SendPriority(types.FrameEmergencyEscalation, map[string]any{
		"level":   level,
		"message": message,
	})
}

func (c *Client) sendFrame(frame *types.Frame) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state == StateConnected && conn != nil {
		if err := c.writeFrame(conn, frame); err == nil {
			return nil
		}
		// Fall through to queue; readLoop notices the dead socket.
	}

	if !c.queue.push(frame) {
		return ErrQueueFull
	}
	return nil
}

func (c *Client) writeFrame(conn *gorilla.Conn, frame *types.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(frame)
}

func (c *Client) flushQueue() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		frame, ok := c.queue.pop()
		if !ok {
			return
		}
		if err := c.writeFrame(conn, frame); err != nil {
			// Put it back at the head of its lane so the next reconnect
			// flushes in the original order.
			c.queue.pushFront(frame)
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var frame types.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.handleDrop(err)
			return
		}

		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(frame *types.Frame) {
	switch frame.Type {
	case types.FrameHeartbeat:
		// Server liveness probe; answer so the server keeps us alive.
		_ = c.Send(types.FrameHeartbeat, types.HeartbeatPayload{
			ClientTime: time.Now(),
		})
		return
	case types.FrameHeartbeatResponse:
		var hb types.HeartbeatPayload
		if err := frame.Decode(&hb); err == nil && !hb.ClientTime.IsZero() {
			c.mu.Lock()
			c.rtt = time.Since(hb.ClientTime)
			c.mu.Unlock()
		}
		return
	}

	emergency := frame.IsPriority()
	if !emergency && frame.Type == types.FrameCrisisMessage {
		var msg types.CrisisMessage
		if err := frame.Decode(&msg); err == nil && msg.UrgencyLevel == types.UrgencyEmergency {
			emergency = true
		}
	}
	c.emit(Event{Frame: frame, Emergency: emergency})
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Send(types.FrameHeartbeat, types.HeartbeatPayload{
				ClientTime: time.Now(),
			})
		case <-ctx.Done():
			return
		}
	}
}

// handleDrop runs when the transport fails underneath us. It moves the
// client to reconnecting and retries with exponential backoff until the
// attempt ceiling, after which the client parks in the error state.
func (c *Client) handleDrop(cause error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.setState(StateReconnecting, cause)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 0; attempt < c.opts.MaxReconnects; attempt++ {
		time.Sleep(backoffDelay(attempt, c.opts.BackoffBase, c.opts.BackoffMax))

		c.mu.RLock()
		closing := c.closing
		c.mu.RUnlock()
		if closing {
			return
		}

		c.setState(StateConnecting, nil)
		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.Debug().Int("attempt", attempt+1).Err(err).Msg("reconnect failed")
			c.setState(StateReconnecting, err)
			continue
		}

		c.mu.Lock()
		if c.closing {
			// Disconnect was called while the dial was in flight; the
			// intentional close wins over the fresh transport.
			c.mu.Unlock()
			_ = conn.Close()
			c.setState(StateDisconnected, nil)
			return
		}
		runCtx, cancel := context.WithCancel(context.Background())
		c.conn = conn
		c.cancel = cancel
		c.wg.Add(2)
		c.mu.Unlock()

		c.setState(StateConnected, nil)
		c.flushQueue()

		go c.readLoop(runCtx)
		go c.heartbeatLoop(runCtx)
		return
	}

	c.setState(StateError, ErrReconnectExhausted)
}

// backoffDelay doubles from base per attempt and saturates at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Client) setState(state string, err error) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if changed {
		c.emit(Event{State: state, Err: err})
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.eventCh <- ev:
	default:
		c.log.Warn().Msg("event buffer full, dropping client event")
	}
}

// Events returns the typed event stream: state transitions and received
// frames.
func (c *Client) Events() <-chan Event {
	return c.eventCh
}

// State returns the current connection state.
func (c *Client) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RTT returns the round-trip time measured by the last heartbeat
// exchange, zero before the first one completes.
func (c *Client) RTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtt
}

// QueuedFrames reports how many frames await a reconnect.
func (c *Client) QueuedFrames() int {
	return c.queue.size()
}
