package router

import (
	"github.com/rs/zerolog"

	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// Router delivers outbound frames to recipient sets. Delivery failures
// are connection-level problems, not routing-level ones: a failed write
// marks the connection dead and never aborts delivery to the remaining
// recipients.
type Router struct {
	registry *websocket.Registry
	limiter  *RateLimiter
	log      zerolog.Logger

	// onDead is invoked for connections whose transport rejected a
	// write; the hub wires this to its disconnect path.
	onDead func(*websocket.Connection)
}

// NewRouter creates a message router.
func NewRouter(registry *websocket.Registry, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		limiter:  NewRateLimiter(defaultMessagesPerMinute, defaultBurst),
		log:      log.With().Str("component", "router").Logger(),
	}
}

// SetRateLimit replaces the default inbound rate limit. Must be called
// before traffic flows.
func (r *Router) SetRateLimit(messagesPerMinute, burst int) {
	if messagesPerMinute > 0 && burst > 0 {
		r.limiter = NewRateLimiter(messagesPerMinute, burst)
	}
}

// SetDeadConnectionHandler registers the cleanup path for connections
// that fail a write. Must be set before traffic flows.
func (r *Router) SetDeadConnectionHandler(fn func(*websocket.Connection)) {
	r.onDead = fn
}

// SendTo attempts direct delivery to one connection. A transport that is
// not writable is treated as a disconnection.
func (r *Router) SendTo(conn *websocket.Connection, frame *types.Frame) bool {
	if conn == nil {
		return false
	}
	if err := conn.WriteFrame(frame); err != nil {
		r.log.Debug().
			Str("connection_id", conn.ID()).
			Str("frame_type", frame.Type).
			Err(err).
			Msg("delivery failed, treating as disconnect")
		if r.onDead != nil {
			r.onDead(conn)
		}
		return false
	}
	return true
}

// SendToID resolves a connection ID and delivers to it.
func (r *Router) SendToID(connID string, frame *types.Frame) bool {
	conn, exists := r.registry.Get(connID)
	if !exists {
		return false
	}
	return r.SendTo(conn, frame)
}

// BroadcastToSession delivers a frame to every member of a session
// except the optional excluded connection. Each recipient is attempted
// independently; partial failure is expected and non-fatal. Returns the
// count of successful deliveries.
func (r *Router) BroadcastToSession(sessionID string, frame *types.Frame, excludeConnID string) int {
	delivered := 0
	for _, conn := range r.registry.MembersOf(sessionID) {
		if conn.ID() == excludeConnID {
			continue
		}
		if r.SendTo(conn, frame) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToRole delivers a frame to every connection with the given
// role, across all sessions.
func (r *Router) BroadcastToRole(role string, frame *types.Frame) int {
	delivered := 0
	for _, conn := range r.registry.MembersByRole(role) {
		if r.SendTo(conn, frame) {
			delivered++
		}
	}
	return delivered
}

// Allow checks the inbound rate limit for a connection.
func (r *Router) Allow(connID string) bool {
	return r.limiter.Allow(connID)
}

// ReleaseLimiter drops rate-limit state for a departed connection.
func (r *Router) ReleaseLimiter(connID string) {
	r.limiter.Remove(connID)
}
