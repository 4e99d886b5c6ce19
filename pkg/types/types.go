package types

import (
	"encoding/json"
	"time"
)

// Participant roles. A connection carries exactly one role for its lifetime.
const (
	RoleAnonymousUser = "anonymous-user"
	RoleVolunteer     = "volunteer"
	RoleAdmin         = "admin"
)

// Message urgency levels, client-supplied with a medium default.
const (
	UrgencyLow       = "low"
	UrgencyMedium    = "medium"
	UrgencyHigh      = "high"
	UrgencyEmergency = "emergency"
)

// Emergency alert severity levels.
const (
	AlertLevelHigh      = "HIGH"
	AlertLevelCritical  = "CRITICAL"
	AlertLevelImmediate = "IMMEDIATE"
)

// Alert trigger types record how an escalation was raised.
const (
	TriggerUserRequest        = "user-request"
	TriggerAutoDetected       = "auto-detected"
	TriggerVolunteerEscalated = "volunteer-escalated"
	TriggerSystemAuto         = "system-auto"
)

// Frame type constants for both directions of the wire protocol.
const (
	FrameConnectionEstablished = "connection_established"
	FrameCrisisMessage         = "crisis_message"
	FrameTypingIndicator       = "typing_indicator"
	FrameEmergencyEscalation   = "emergency_escalation"
	FrameEmergencyAlert        = "emergency_alert"
	FrameHeartbeat             = "heartbeat"
	FrameHeartbeatResponse     = "heartbeat_response"
	FrameParticipantJoined     = "participant_joined"
	FrameParticipantLeft       = "participant_left"
	FrameVolunteerStatus       = "volunteer_status"
	FrameServerShutdown        = "server_shutdown"
	FrameError                 = "error"
)

// PriorityImmediate marks frames that bypass the normal per-connection
// outbound queue and are written ahead of queued traffic.
const PriorityImmediate = "IMMEDIATE"

// Frame is one discrete typed message unit exchanged over a connection.
type Frame struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority string          `json:"priority,omitempty"`
}

// NewFrame builds a frame with the payload marshaled into Data.
func NewFrame(frameType string, payload interface{}) (*Frame, error) {
	frame := &Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, ErrInvalidPayload
		}
		frame.Data = data
	}
	return frame, nil
}

// NewPriorityFrame builds an IMMEDIATE-priority frame.
func NewPriorityFrame(frameType string, payload interface{}) (*Frame, error) {
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		return nil, err
	}
	frame.Priority = PriorityImmediate
	return frame, nil
}

// Decode unmarshals the frame payload into v.
func (f *Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// IsPriority reports whether the frame must bypass normal queue order.
func (f *Frame) IsPriority() bool {
	return f.Priority == PriorityImmediate
}

// CrisisMessage is an immutable value object; the core never mutates a
// message after routing it.
type CrisisMessage struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Content      string    `json:"content"`
	SenderRole   string    `json:"sender_role"`
	Timestamp    time.Time `json:"timestamp"`
	IsEncrypted  bool      `json:"is_encrypted"`
	UrgencyLevel string    `json:"urgency_level"`
}

// EmergencyAlert is created by explicit request or by risk detection,
// broadcast once and then handed off to external collaborators.
type EmergencyAlert struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	TriggerType string    `json:"trigger_type"`
}

// VolunteerStatus is a role-gated status update; emitted as an external
// event only, never broadcast by the core.
type VolunteerStatus struct {
	ConnectionID string    `json:"connection_id"`
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConnectionEstablished confirms a successful accept. ServerTime gives
// clients an initial clock-skew and latency baseline.
type ConnectionEstablished struct {
	ConnectionID string    `json:"connection_id"`
	ServerTime   time.Time `json:"server_time"`
}

// HeartbeatPayload travels in both directions: clients stamp ClientTime
// on probes, the server echoes it alongside ServerTime so the client can
// compute round-trip latency.
type HeartbeatPayload struct {
	ClientTime time.Time `json:"client_time,omitempty"`
	ServerTime time.Time `json:"server_time,omitempty"`
}

// ParticipantEvent announces a join or leave to the rest of a session.
type ParticipantEvent struct {
	ConnectionID string    `json:"connection_id"`
	SessionID    string    `json:"session_id"`
	Role         string    `json:"role"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason,omitempty"`
}

// TypingIndicator is relayed to session members excluding the sender.
type TypingIndicator struct {
	ConnectionID string `json:"connection_id"`
	Role         string `json:"role"`
	IsTyping     bool   `json:"is_typing"`
}

// ErrorPayload is returned to the offending connection for protocol and
// authorization errors; the connection itself stays open.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ShutdownPayload lets clients distinguish "please reconnect" from a
// permanent rejection.
type ShutdownPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
