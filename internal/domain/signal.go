package domain

// Signaling event names exchanged over the event channel
const (
	// Inbound
	EventIncomingCall      = "incoming_call"
	EventCallInitiated     = "call_initiated"
	EventCallAccepted      = "call_accepted"
	EventCallEnded         = "call_ended"
	EventCallRejected      = "call_rejected"
	EventUserBusy          = "user_busy"
	EventUserAlreadyInCall = "user_already_in_call"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"

	// Outbound
	EventInitiateCall = "initiate_call"
	EventAcceptCall   = "accept_call"
	EventRejectCall   = "reject_call"
	EventEndCall      = "end_call"

	// Media negotiation relay, both directions
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
)

// IncomingCallPayload announces a call addressed to ReceiverID
type IncomingCallPayload struct {
	RoomID         string   `json:"room_id"`
	CallType       CallType `json:"call_type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	CallerID       string   `json:"caller_id"`
	CallerName     string   `json:"caller_name"`
	CallerAvatar   string   `json:"caller_avatar,omitempty"`
	ReceiverID     string   `json:"receiver_id"`
}

// RoomPayload carries only the room id (call_ended, call_rejected)
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// EndCallPayload hangs up RoomID. RequestID identifies an outgoing call the
// server has not yet assigned a room to.
type EndCallPayload struct {
	RoomID    string `json:"room_id"`
	RequestID string `json:"request_id,omitempty"`
}

// RejectCallPayload is sent when the local user declines or the ring times out
type RejectCallPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// AcceptCallPayload is sent after the local user answers
type AcceptCallPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// InitiateCallPayload asks the server to ring ReceiverID
type InitiateCallPayload struct {
	RequestID      string   `json:"request_id"`
	ReceiverID     string   `json:"receiver_id"`
	CallType       CallType `json:"call_type"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// CallInitiatedPayload binds a server-assigned room to a pending request
type CallInitiatedPayload struct {
	RequestID string `json:"request_id"`
	RoomID    string `json:"room_id"`
}

// ParticipantPayload describes a roster change or an acceptance
type ParticipantPayload struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name,omitempty"`
	UserAvatar string `json:"user_avatar,omitempty"`
}

// BusyReplyPayload tells the server to relay user_busy to CallerID
type BusyReplyPayload struct {
	RoomID   string `json:"room_id"`
	CallerID string `json:"caller_id"`
}
