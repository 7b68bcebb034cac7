package signaling

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/store"
	apperrors "taskboard-calls/pkg/errors"
	"taskboard-calls/pkg/sanitize"
)

// InitiateRequest starts an outgoing call
type InitiateRequest struct {
	ReceiverID     string          `json:"receiver_id" binding:"required"`
	ReceiverName   string          `json:"receiver_name"`
	ReceiverAvatar string          `json:"receiver_avatar"`
	CallType       domain.CallType `json:"call_type" binding:"required"`
	ConversationID string          `json:"conversation_id"`
}

// Initiate rings req.ReceiverID. The session waits in RINGING_OUTGOING until the
// server assigns a room and the callee answers.
func (h *Handler) Initiate(ctx context.Context, req InitiateRequest) (*domain.CallSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usableLocked(); err != nil {
		return nil, err
	}

	receiverID := sanitize.Identifier(req.ReceiverID)
	switch {
	case receiverID == "":
		return nil, apperrors.ValidationError("receiver_id is required")
	case receiverID == h.self.ID:
		return nil, apperrors.ValidationError("Cannot call yourself")
	case !req.CallType.Valid():
		return nil, apperrors.ValidationError("call_type must be audio or video")
	}
	if snap := h.store.Snapshot(); snap.Session != nil {
		return nil, apperrors.InvalidStateError("A call is already in progress")
	}

	requestID := uuid.New().String()
	callee := domain.User{
		ID:        receiverID,
		Name:      sanitize.DisplayName(req.ReceiverName),
		AvatarURL: sanitize.AvatarURL(req.ReceiverAvatar),
	}
	if !h.store.SetOutgoingCall(requestID, h.self, callee, req.CallType, sanitize.Identifier(req.ConversationID)) {
		return nil, apperrors.InvalidStateError("A call is already in progress")
	}

	h.log.Info("Initiating call",
		zap.String("request_id", requestID),
		zap.String("receiver_id", receiverID),
		zap.String("call_type", string(req.CallType)),
	)
	h.emitLocked(outbound{
		event:  domain.EventInitiateCall,
		onFail: func() { h.abandonOutgoing(requestID) },
		payload: domain.InitiateCallPayload{
			RequestID:      requestID,
			ReceiverID:     receiverID,
			CallType:       req.CallType,
			ConversationID: sanitize.Identifier(req.ConversationID),
		},
	})

	return h.store.Snapshot().Session, nil
}

// abandonOutgoing clears an outgoing call whose initiate request never reached the server
func (h *Handler) abandonOutgoing(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.store.Snapshot()
	if snap.Status != domain.StatusRingingOutgoing || snap.Session.RequestID != requestID {
		return
	}
	h.teardownLocked(snap, domain.OutcomeFailed, nil)
}

// Accept answers the ringing incoming call. The local state moves to CONNECTING
// before the server hears about it.
func (h *Handler) Accept(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usableLocked(); err != nil {
		return err
	}
	snap := h.store.Snapshot()
	if snap.Status != domain.StatusRingingIncoming {
		return notRinging(snap)
	}

	h.opts.Ringtone.Stop()
	if !h.store.AcceptCall() {
		return apperrors.InvalidStateError("Call can no longer be accepted")
	}
	h.log.Info("Call accepted", zap.String("room_id", snap.RoomID()))

	if !h.startMediaLocked(false) {
		return apperrors.New(apperrors.ErrCodeMedia, "Media session could not be started")
	}
	h.emitLocked(outbound{
		event:   domain.EventAcceptCall,
		payload: domain.AcceptCallPayload{RoomID: snap.RoomID(), UserID: h.self.ID},
		roomID:  snap.RoomID(),
	})
	return nil
}

// Reject declines the ringing incoming call
func (h *Handler) Reject(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.usableLocked(); err != nil {
		return err
	}
	snap := h.store.Snapshot()
	if snap.Status != domain.StatusRingingIncoming {
		return notRinging(snap)
	}
	h.rejectLocked(snap)
	return nil
}

func (h *Handler) rejectLocked(snap store.Snapshot) {
	room := snap.RoomID()
	h.opts.Ringtone.Stop()
	h.store.RejectCall()
	h.rememberEndedLocked(room)
	h.log.Info("Call rejected", zap.String("room_id", room))

	h.emitLocked(outbound{
		event:   domain.EventRejectCall,
		payload: domain.RejectCallPayload{RoomID: room, UserID: h.self.ID},
		roomID:  room,
	})
}

// End hangs up the current call. A ringing incoming call is rejected instead.
func (h *Handler) End(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.store.Snapshot()
	if snap.Session == nil {
		return apperrors.NoActiveCallError()
	}
	if snap.Status == domain.StatusRingingIncoming {
		h.rejectLocked(snap)
		return nil
	}
	h.log.Info("Ending call", zap.String("room_id", snap.RoomID()))
	h.hangUpLocked(snap, domain.OutcomeEnded)
	return nil
}

// SetMuted toggles the local microphone
func (h *Handler) SetMuted(muted bool) error {
	return h.withMedia(func(s media.Session) error { return s.SetMuted(muted) })
}

// SetVideoEnabled toggles the local camera
func (h *Handler) SetVideoEnabled(enabled bool) error {
	return h.withMedia(func(s media.Session) error { return s.SetVideoEnabled(enabled) })
}

// SetScreenShare switches the outgoing video between camera and screen
func (h *Handler) SetScreenShare(enabled bool) error {
	return h.withMedia(func(s media.Session) error { return s.SetScreenShare(enabled) })
}

// MediaControls returns the local control state, or false without a media session
func (h *Handler) MediaControls() (media.ControlState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.mediaSessionLocked()
	if s == nil {
		return media.ControlState{}, false
	}
	return s.Controls(), true
}

func (h *Handler) withMedia(fn func(media.Session) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.mediaSessionLocked()
	if s == nil {
		return apperrors.NoActiveCallError()
	}
	return fn(s)
}

func (h *Handler) mediaSessionLocked() media.Session {
	snap := h.store.Snapshot()
	if !snap.Status.HasMedia() || h.media == nil {
		return nil
	}
	s := h.media.Current()
	if s == nil || s.RoomID() != snap.RoomID() {
		return nil
	}
	return s
}

func notRinging(snap store.Snapshot) error {
	if snap.Session == nil {
		return apperrors.NoActiveCallError()
	}
	return apperrors.InvalidStateError("No incoming call is ringing")
}
