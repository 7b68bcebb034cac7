package domain

import (
	"time"
)

// CallType is the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Direction tells which side initiated the call
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallStatus is the state of the local call session
type CallStatus string

const (
	StatusIdle            CallStatus = "IDLE"
	StatusRingingIncoming CallStatus = "RINGING_INCOMING"
	StatusRingingOutgoing CallStatus = "RINGING_OUTGOING"
	StatusConnecting      CallStatus = "CONNECTING"
	StatusActive          CallStatus = "ACTIVE"
	StatusEnded           CallStatus = "ENDED"
	StatusRejected        CallStatus = "REJECTED"
	StatusBusy            CallStatus = "BUSY"
)

// IsRinging reports whether the call is waiting for an answer on either side
func (s CallStatus) IsRinging() bool {
	return s == StatusRingingIncoming || s == StatusRingingOutgoing
}

// IsLive reports whether a session occupies the client
func (s CallStatus) IsLive() bool {
	switch s {
	case StatusRingingIncoming, StatusRingingOutgoing, StatusConnecting, StatusActive:
		return true
	}
	return false
}

// HasMedia reports whether a media session is expected to be running
func (s CallStatus) HasMedia() bool {
	return s == StatusConnecting || s == StatusActive
}

// ParticipantStatus is the media state of one participant
type ParticipantStatus string

const (
	ParticipantConnecting   ParticipantStatus = "CONNECTING"
	ParticipantConnected    ParticipantStatus = "CONNECTED"
	ParticipantDisconnected ParticipantStatus = "DISCONNECTED"
)

// ConnectionStatus is the coarse indicator shown while in a call
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Outcome records how a call ended
type Outcome string

const (
	OutcomeEnded         Outcome = "ended"
	OutcomeRejected      Outcome = "rejected"
	OutcomeBusy          Outcome = "busy"
	OutcomeAlreadyInCall Outcome = "already_in_call"
	OutcomeAutoRejected  Outcome = "auto_rejected"
	OutcomeFailed        Outcome = "failed"
)

// TerminalStatus maps an outcome to the status the session finished in
func (o Outcome) TerminalStatus() CallStatus {
	switch o {
	case OutcomeRejected, OutcomeAutoRejected:
		return StatusRejected
	case OutcomeBusy, OutcomeAlreadyInCall:
		return StatusBusy
	default:
		return StatusEnded
	}
}

// Participant is one member of a call
type Participant struct {
	UserID           string            `json:"user_id"`
	DisplayName      string            `json:"display_name"`
	AvatarURL        string            `json:"avatar_url,omitempty"`
	ConnectionStatus ParticipantStatus `json:"connection_status"`
}

// CallSession is the single call the client is engaged in
type CallSession struct {
	RoomID         string        `json:"room_id"`
	RequestID      string        `json:"request_id,omitempty"`
	CallType       CallType      `json:"call_type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Direction      Direction     `json:"direction"`
	Caller         User          `json:"caller"`
	Callee         User          `json:"callee"`
	Status         CallStatus    `json:"status"`
	Participants   []Participant `json:"participants"`
	CreatedAt      time.Time     `json:"created_at"`
	ConnectedAt    *time.Time    `json:"connected_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = append([]Participant(nil), s.Participants...)
	if s.ConnectedAt != nil {
		at := *s.ConnectedAt
		out.ConnectedAt = &at
	}
	return &out
}

// Participant returns the participant with userID, if present
func (s *CallSession) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// RemotePeer is the other party of a two-way call
func (s *CallSession) RemotePeer() User {
	if s.Direction == DirectionIncoming {
		return s.Caller
	}
	return s.Callee
}
