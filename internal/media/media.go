// Package media is the Media Session Controller boundary.
//
// The signaling layer starts a session when a call enters CONNECTING and stops
// it on every exit to idle. How peers negotiate is internal to the controller.
package media

import (
	"context"

	"taskboard-calls/internal/domain"
)

// Stream describes one local or remote media stream
type Stream struct {
	ID     string   `json:"id"`
	UserID string   `json:"user_id"`
	Kinds  []string `json:"kinds"`
}

// ControlState is the current state of the local toggles
type ControlState struct {
	Muted         bool `json:"muted"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

// Events receives session lifecycle callbacks. Implementations are called
// from controller goroutines and must not block.
type Events interface {
	MediaConnected(roomID string)
	RemoteStreamAdded(roomID, userID string)
	RemoteStreamRemoved(roomID, userID string)
	MediaFailed(roomID string, err error)
}

// StartRequest carries what a controller needs to join a room
type StartRequest struct {
	RoomID       string
	LocalUserID  string
	RemoteUserID string
	CallType     domain.CallType
	// Initiator is true on the calling side, which creates the offer
	Initiator bool
	Events    Events
}

// Session is a running media session
type Session interface {
	RoomID() string
	LocalStream() Stream
	RemoteStreams() []Stream
	Controls() ControlState
	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetScreenShare(enabled bool) error
}

// Controller starts and stops the single media session
type Controller interface {
	Start(ctx context.Context, req StartRequest) (Session, error)
	Stop() error
	Current() Session
}
