package types

import "regexp"

// Session IDs are opaque client-supplied strings; the format limit keeps
// them safe for log output and storage keys.
var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxContentBytes = 65536 // 64KB

// IsValidSessionID checks if a session ID meets format requirements.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 100 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidRole checks if the role is one of the three participant roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleAnonymousUser, RoleVolunteer, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidUrgency checks if the urgency level is one of the allowed values.
func IsValidUrgency(urgency string) bool {
	switch urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyEmergency:
		return true
	default:
		return false
	}
}

// IsValidFrameType checks if the frame type belongs to the wire protocol.
func IsValidFrameType(frameType string) bool {
	switch frameType {
	case FrameConnectionEstablished,
		FrameCrisisMessage,
		FrameTypingIndicator,
		FrameEmergencyEscalation,
		FrameEmergencyAlert,
		FrameHeartbeat,
		FrameHeartbeatResponse,
		FrameParticipantJoined,
		FrameParticipantLeft,
		FrameVolunteerStatus,
		FrameServerShutdown,
		FrameError:
		return true
	default:
		return false
	}
}

// Validate ensures the message meets all requirements. An empty urgency
// level is defaulted to medium here so all routing paths see a valid value.
func (m *CrisisMessage) Validate() error {
	if m.SessionID == "" {
		return ErrMissingSessionID
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > maxContentBytes {
		return ErrContentTooLarge
	}
	if m.UrgencyLevel == "" {
		m.UrgencyLevel = UrgencyMedium
	}
	if !IsValidUrgency(m.UrgencyLevel) {
		return ErrInvalidUrgency
	}
	return nil
}
