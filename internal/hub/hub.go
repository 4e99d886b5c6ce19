package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lifeline/internal/escalation"
	"lifeline/internal/events"
	"lifeline/internal/metrics"
	"lifeline/internal/router"
	"lifeline/internal/websocket"
	"lifeline/pkg/types"
)

// Hub is the server façade: it owns the single event-processing loop
// through which every inbound frame, connection lifecycle change, and
// heartbeat reap flows. Registry mutation happens only inside this loop,
// so each dispatch step is atomic with respect to every other.
type Hub struct {
	inboundCh    chan *inboundFrame
	connectCh    chan *websocket.Connection
	disconnectCh chan *disconnect
	shutdownCh   chan struct{}

	registry   *websocket.Registry
	router     *router.Router
	detector   *escalation.Detector
	dispatcher *events.Dispatcher
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu      sync.RWMutex
	running bool
	done    chan struct{}
}

type inboundFrame struct {
	conn  *websocket.Connection
	frame *types.Frame
}

type disconnect struct {
	conn      *websocket.Connection
	closeCode int
	reason    string
}

// NewHub wires the façade together. The router's dead-connection path is
// pointed back at the hub so transport failures re-enter the loop as
// ordinary disconnect events.
func NewHub(registry *websocket.Registry, rt *router.Router, detector *escalation.Detector,
	dispatcher *events.Dispatcher, m *metrics.Metrics, log zerolog.Logger) *Hub {

	h := &Hub{
		inboundCh:    make(chan *inboundFrame, 1000),
		connectCh:    make(chan *websocket.Connection, 100),
		disconnectCh: make(chan *disconnect, 100),
		shutdownCh:   make(chan struct{}),
		registry:     registry,
		router:       rt,
		detector:     detector,
		dispatcher:   dispatcher,
		metrics:      m,
		log:          log.With().Str("component", "hub").Logger(),
		done:         make(chan struct{}),
	}

	rt.SetDeadConnectionHandler(func(conn *websocket.Connection) {
		m.DeliveryFailures.Inc()
		h.enqueueDisconnect(&disconnect{conn: conn, reason: "write failed"})
	})

	return h
}

// Start begins the processing loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.log.Info().Msg("starting hub")
	go h.run(ctx)
	return nil
}

// Stop halts the processing loop.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownCh:
	default:
		close(h.shutdownCh)
	}
	return nil
}

// Connect queues a registered-and-validated connection for admission.
func (h *Hub) Connect(conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.connectCh <- conn:
		return nil
	default:
		return ErrChannelFull
	}
}

// Disconnect queues a connection for removal. Safe to call multiple
// times for the same connection; cleanup happens once.
func (h *Hub) Disconnect(conn *websocket.Connection, closeCode int, reason string) {
	h.enqueueDisconnect(&disconnect{conn: conn, closeCode: closeCode, reason: reason})
}

// Dispatch queues an inbound frame for processing.
func (h *Hub) Dispatch(conn *websocket.Connection, frame *types.Frame) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.inboundCh <- &inboundFrame{conn: conn, frame: frame}:
		return nil
	default:
		return ErrChannelFull
	}
}

// enqueueDisconnect must never block or drop: a lost disconnect leaks a
// registry entry. Falls back to a goroutine when the channel is full.
func (h *Hub) enqueueDisconnect(d *disconnect) {
	select {
	case h.disconnectCh <- d:
	default:
		go func() {
			select {
			case h.disconnectCh <- d:
			case <-h.done:
			}
		}()
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.log.Info().Msg("hub stopped")

	for {
		select {
		case in := <-h.inboundCh:
			h.handleFrame(in.conn, in.frame)
		case conn := <-h.connectCh:
			h.handleConnect(conn)
		case d := <-h.disconnectCh:
			h.handleDisconnect(d)
		case <-h.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleConnect(conn *websocket.Connection) {
	if err := h.registry.Register(conn); err != nil {
		h.log.Error().Str("connection_id", conn.ID()).Err(err).Msg("registration failed")
		_ = conn.Close()
		return
	}

	established, _ := types.NewFrame(types.FrameConnectionEstablished, types.ConnectionEstablished{
		ConnectionID: conn.ID(),
		ServerTime:   time.Now(),
	})
	h.router.SendTo(conn, established)

	joined, _ := types.NewFrame(types.FrameParticipantJoined, types.ParticipantEvent{
		ConnectionID: conn.ID(),
		SessionID:    conn.SessionID(),
		Role:         conn.Role(),
		Timestamp:    time.Now(),
	})
	h.router.BroadcastToSession(conn.SessionID(), joined, conn.ID())

	ev := events.New(events.KindConnectionOpened)
	ev.ConnectionID = conn.ID()
	ev.SessionID = conn.SessionID()
	ev.Role = conn.Role()
	h.dispatcher.Emit(ev)

	h.updateGauges()
	h.log.Info().
		Str("connection_id", conn.ID()).
		Str("session_id", conn.SessionID()).
		Str("role", conn.Role()).
		Msg("connection registered")
}

func (h *Hub) handleDisconnect(d *disconnect) {
	conn, removed := h.registry.Unregister(d.conn.ID())
	if !removed {
		// Already cleaned up; closing again is harmless.
		_ = d.conn.Close()
		return
	}

	h.router.ReleaseLimiter(conn.ID())

	if d.closeCode != 0 {
		_ = conn.CloseWithCode(d.closeCode, d.reason)
	} else {
		_ = conn.Close()
	}

	left, _ := types.NewFrame(types.FrameParticipantLeft, types.ParticipantEvent{
		ConnectionID: conn.ID(),
		SessionID:    conn.SessionID(),
		Role:         conn.Role(),
		Timestamp:    time.Now(),
		Reason:       d.reason,
	})
	h.router.BroadcastToSession(conn.SessionID(), left, conn.ID())

	ev := events.New(events.KindConnectionClosed)
	ev.ConnectionID = conn.ID()
	ev.SessionID = conn.SessionID()
	ev.Role = conn.Role()
	ev.Reason = d.reason
	h.dispatcher.Emit(ev)

	h.updateGauges()
	h.log.Info().
		Str("connection_id", conn.ID()).
		Str("session_id", conn.SessionID()).
		Str("reason", d.reason).
		Msg("connection removed")
}

func (h *Hub) handleFrame(conn *websocket.Connection, frame *types.Frame) {
	conn.Touch()
	h.metrics.MessagesTotal.WithLabelValues(frame.Type).Inc()

	switch frame.Type {
	case types.FrameHeartbeat:
		h.handleHeartbeat(conn, frame)
		return
	case types.FrameCrisisMessage, types.FrameTypingIndicator, types.FrameEmergencyEscalation, types.FrameVolunteerStatus:
		if !h.router.Allow(conn.ID()) {
			h.sendError(conn, "rate_limited", "too many messages, slow down")
			return
		}
	}

	switch frame.Type {
	case types.FrameCrisisMessage:
		h.handleCrisisMessage(conn, frame)
	case types.FrameTypingIndicator:
		h.handleTypingIndicator(conn, frame)
	case types.FrameEmergencyEscalation:
		h.handleEscalationRequest(conn, frame)
	case types.FrameVolunteerStatus:
		h.handleVolunteerStatus(conn, frame)
	default:
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "unknown_frame_type", "unrecognized frame type: "+frame.Type)
	}
}

// crisisMessageRequest is the client-supplied portion of a message; the
// server controls identity, timestamps, and attribution.
type crisisMessageRequest struct {
	Content      string `json:"content"`
	UrgencyLevel string `json:"urgency_level"`
	IsEncrypted  bool   `json:"is_encrypted"`
}

func (h *Hub) handleCrisisMessage(conn *websocket.Connection, frame *types.Frame) {
	var req crisisMessageRequest
	if err := frame.Decode(&req); err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "malformed_frame", "crisis_message payload could not be decoded")
		return
	}

	msg := &types.CrisisMessage{
		ID:           uuid.New().String(),
		SessionID:    conn.SessionID(),
		Content:      req.Content,
		SenderRole:   conn.Role(),
		Timestamp:    time.Now(),
		IsEncrypted:  req.IsEncrypted,
		UrgencyLevel: req.UrgencyLevel,
	}
	if err := msg.Validate(); err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "invalid_message", err.Error())
		return
	}

	out, _ := types.NewFrame(types.FrameCrisisMessage, msg)
	h.router.BroadcastToSession(conn.SessionID(), out, "")

	ev := events.New(events.KindMessageReceived)
	ev.ConnectionID = conn.ID()
	ev.SessionID = conn.SessionID()
	ev.Role = conn.Role()
	ev.Message = msg
	h.dispatcher.Emit(ev)

	// Risk detection runs after the message has been routed, so a slow
	// scan can never delay delivery to session participants.
	if match := h.detector.Scan(msg.Content); match != nil {
		alert := h.detector.BuildAlert(conn.SessionID(), match)
		h.handleEscalation(conn, alert)
	}
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *Hub) handleTypingIndicator(conn *websocket.Connection, frame *types.Frame) {
	var req typingRequest
	if err := frame.Decode(&req); err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "malformed_frame", "typing_indicator payload could not be decoded")
		return
	}

	out, _ := types.NewFrame(types.FrameTypingIndicator, types.TypingIndicator{
		ConnectionID: conn.ID(),
		Role:         conn.Role(),
		IsTyping:     req.IsTyping,
	})
	h.router.BroadcastToSession(conn.SessionID(), out, conn.ID())
}

type escalationRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (h *Hub) handleEscalationRequest(conn *websocket.Connection, frame *types.Frame) {
	var req escalationRequest
	if len(frame.Data) > 0 {
		if err := frame.Decode(&req); err != nil {
			h.metrics.ProtocolErrors.Inc()
			h.sendError(conn, "malformed_frame", "emergency_escalation payload could not be decoded")
			return
		}
	}

	level := req.Level
	switch level {
	case types.AlertLevelHigh, types.AlertLevelCritical, types.AlertLevelImmediate:
	default:
		level = types.AlertLevelCritical
	}

	trigger := types.TriggerUserRequest
	if conn.Role() == types.RoleVolunteer {
		trigger = types.TriggerVolunteerEscalated
	}

	summary := req.Message
	if summary == "" {
		summary = "Emergency escalation requested by session participant"
	}

	alert := &types.EmergencyAlert{
		ID:          uuid.New().String(),
		SessionID:   conn.SessionID(),
		Level:       level,
		Message:     summary,
		Timestamp:   time.Now(),
		TriggerType: trigger,
	}
	h.handleEscalation(conn, alert)
}

// handleEscalation is the shared path for automatic and requested
// escalations: the alert goes to every member of the triggering session
// and to every connected volunteer platform-wide, as a priority frame
// that bypasses normal per-connection queue order.
func (h *Hub) handleEscalation(conn *websocket.Connection, alert *types.EmergencyAlert) {
	out, _ := types.NewPriorityFrame(types.FrameEmergencyAlert, alert)

	recipients := make(map[string]*websocket.Connection)
	for _, member := range h.registry.MembersOf(alert.SessionID) {
		recipients[member.ID()] = member
	}
	for _, volunteer := range h.registry.MembersByRole(types.RoleVolunteer) {
		recipients[volunteer.ID()] = volunteer
	}

	delivered := 0
	for _, recipient := range recipients {
		if h.router.SendTo(recipient, out) {
			delivered++
		}
	}

	ev := events.New(events.KindEscalationRaised)
	ev.ConnectionID = conn.ID()
	ev.SessionID = alert.SessionID
	ev.Role = conn.Role()
	ev.Alert = alert
	h.dispatcher.Emit(ev)

	h.metrics.AlertsTotal.WithLabelValues(alert.Level, alert.TriggerType).Inc()
	h.log.Warn().
		Str("alert_id", alert.ID).
		Str("session_id", alert.SessionID).
		Str("level", alert.Level).
		Str("trigger", alert.TriggerType).
		Int("recipients", delivered).
		Msg("emergency alert broadcast")
}

func (h *Hub) handleHeartbeat(conn *websocket.Connection, frame *types.Frame) {
	conn.SetAlive(true)

	var hb types.HeartbeatPayload
	if len(frame.Data) > 0 {
		_ = frame.Decode(&hb)
	}

	resp, _ := types.NewFrame(types.FrameHeartbeatResponse, types.HeartbeatPayload{
		ClientTime: hb.ClientTime,
		ServerTime: time.Now(),
	})
	h.router.SendTo(conn, resp)
}

type volunteerStatusRequest struct {
	Status string `json:"status"`
}

func (h *Hub) handleVolunteerStatus(conn *websocket.Connection, frame *types.Frame) {
	if conn.Role() != types.RoleVolunteer {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "unauthorized", "volunteer_status requires the volunteer role")
		return
	}

	var req volunteerStatusRequest
	if err := frame.Decode(&req); err != nil {
		h.metrics.ProtocolErrors.Inc()
		h.sendError(conn, "malformed_frame", "volunteer_status payload could not be decoded")
		return
	}

	ev := events.New(events.KindVolunteerStatus)
	ev.ConnectionID = conn.ID()
	ev.SessionID = conn.SessionID()
	ev.Role = conn.Role()
	ev.Status = &types.VolunteerStatus{
		ConnectionID: conn.ID(),
		SessionID:    conn.SessionID(),
		Status:       req.Status,
		Timestamp:    time.Now(),
	}
	h.dispatcher.Emit(ev)
}

func (h *Hub) sendError(conn *websocket.Connection, code, message string) {
	frame, _ := types.NewFrame(types.FrameError, types.ErrorPayload{
		Code:    code,
		Message: message,
	})
	h.router.SendTo(conn, frame)
}

// Shutdown broadcasts a shutdown notice and closes every connection with
// a non-normal close code, so clients know to reconnect rather than give
// up. Call after Stop is no longer accepting in favor of a clean drain:
// the broadcast happens on the caller's goroutine.
func (h *Hub) Shutdown(message string) {
	notice, _ := types.NewFrame(types.FrameServerShutdown, types.ShutdownPayload{
		Message:   message,
		Timestamp: time.Now(),
	})

	for _, conn := range h.registry.Snapshot() {
		h.router.SendTo(conn, notice)
	}
	for _, conn := range h.registry.Snapshot() {
		_ = conn.CloseWithCode(gorilla.CloseServiceRestart, "server shutting down")
		h.registry.Unregister(conn.ID())
	}
	h.updateGauges()
}

func (h *Hub) updateGauges() {
	stats := h.registry.Stats()
	h.metrics.Connections.Set(float64(stats["total_connections"]))
	h.metrics.Sessions.Set(float64(stats["active_sessions"]))
}
