package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Anonymous crisis clients connect from arbitrary origins;
		// origin restrictions belong at the deployment edge.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts WebSocket upgrade requests and feeds accepted
// connections into the hub.
type Handler struct {
	hub        *Hub
	bufferSize int
	log        zerolog.Logger
}

func NewHandler(h *Hub, bufferSize int, log zerolog.Logger) *Handler {
	return &Handler{
		hub:        h,
		bufferSize: bufferSize,
		log:        log.With().Str("component", "ws_handler").Logger(),
	}
}

// ServeHTTP upgrades the request and admits the connection. Parameter
// problems are reported over the socket itself: the upgrade always
// happens first, then an invalid request is closed with a policy
// violation so browser clients can read the reason from the close frame.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	role := r.URL.Query().Get("userType")
	if role == "" {
		role = types.RoleAnonymousUser
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if sessionID == "" {
		h.rejectConn(raw, "sessionId query parameter is required")
		return
	}
	if !types.IsValidSessionID(sessionID) {
		h.rejectConn(raw, "sessionId has an invalid format")
		return
	}
	if !types.IsValidRole(role) {
		h.rejectConn(raw, "unknown userType: "+role)
		return
	}

	conn := websocket.NewConnection(raw, uuid.New().String(), sessionID, role, h.bufferSize)
	if err := h.hub.Connect(conn); err != nil {
		h.log.Error().Err(err).Msg("connection admission failed")
		_ = conn.CloseWithCode(gorilla.CloseTryAgainLater, "server busy")
		return
	}

	go h.readLoop(conn)
}

func (h *Handler) rejectConn(raw *gorilla.Conn, reason string) {
	msg := gorilla.FormatCloseMessage(gorilla.ClosePolicyViolation, reason)
	_ = raw.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
	_ = raw.Close()
}

// readLoop pulls frames off the socket until it fails, then routes the
// connection through the hub's disconnect path exactly once.
func (h *Handler) readLoop(conn *websocket.Connection) {
	defer h.hub.Disconnect(conn, 0, "connection closed")

	for {
		frame, err := conn.ReadFrame()
		if err == websocket.ErrInvalidFrame {
			// A frame that fails to parse is a client bug, not a dead
			// socket; report it and keep reading.
			errFrame, _ := types.NewFrame(types.FrameError, types.ErrorPayload{
				Code:    "malformed_frame",
				Message: "frame is not valid JSON",
			})
			_ = conn.WriteFrame(errFrame)
			continue
		}
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseNormalClosure) {
				h.log.Debug().
					Str("connection_id", conn.ID()).
					Err(err).
					Msg("read failed")
			}
			return
		}

		if err := h.hub.Dispatch(conn, frame); err != nil {
			h.log.Warn().
				Str("connection_id", conn.ID()).
				Err(err).
				Msg("frame dropped")
		}
	}
}
