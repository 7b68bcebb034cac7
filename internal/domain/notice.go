package domain

import "time"

// NoticeKind classifies a user-facing message
type NoticeKind string

const (
	NoticeCallEnded         NoticeKind = "call_ended"
	NoticeCallRejected      NoticeKind = "call_rejected"
	NoticeUserBusy          NoticeKind = "user_busy"
	NoticeUserAlreadyInCall NoticeKind = "user_already_in_call"
	NoticeAutoRejected      NoticeKind = "auto_rejected"
	NoticeTransportWarning  NoticeKind = "transport_warning"
	NoticeCallsUnavailable  NoticeKind = "call_features_unavailable"
	NoticeMediaError        NoticeKind = "media_error"
)

// Notice is a message for the notification surface
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	RoomID  string     `json:"room_id,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}
