// Package constants defines defaults for call timing, transport keepalive, and limits.
package constants

import "time"

// Call lifecycle
const (
	// RingTimeout is how long an incoming call rings before it is rejected automatically
	RingTimeout = 30 * time.Second

	// BootstrapRetryInterval is the pause between signaling subscription attempts
	BootstrapRetryInterval = 2 * time.Second

	// BootstrapMaxAttempts bounds the signaling subscription attempts
	BootstrapMaxAttempts = 5

	// EmitTimeout bounds a single outbound signaling notification
	EmitTimeout = 5 * time.Second

	// TerminatedRoomTTL is how long an ended room id is remembered for duplicate suppression
	TerminatedRoomTTL = 60 * time.Second
)

// Event channel
const (
	// WebSocketWriteWait is the time allowed to write a frame
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize limits inbound frames
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketSendBuffer is the outbound queue length
	WebSocketSendBuffer = 64

	// ReconnectMinBackoff is the first redial delay
	ReconnectMinBackoff = 500 * time.Millisecond

	// ReconnectMaxBackoff caps the redial delay
	ReconnectMaxBackoff = 30 * time.Second
)

// Ringtone
const (
	// RingtoneBellInterval is the period between terminal bell rings
	RingtoneBellInterval = 2 * time.Second
)

// Control API
const (
	// DefaultControlAddr is where the local control API listens
	DefaultControlAddr = "127.0.0.1:7070"

	// GracefulShutdownTimeout bounds control API shutdown
	GracefulShutdownTimeout = 10 * time.Second

	// NoticeBuffer is the per-subscriber notice queue length
	NoticeBuffer = 32

	// EventStreamHeartbeat is the keepalive period of the call event stream
	EventStreamHeartbeat = 15 * time.Second
)

// History
const (
	// HistoryRetention is how long call history lists are kept
	HistoryRetention = 30 * 24 * time.Hour

	// HistoryWriteTimeout bounds a single history write
	HistoryWriteTimeout = 2 * time.Second
)
