package signaling

import (
	"encoding/json"

	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/pkg/sanitize"
)

func (h *Handler) decode(event string, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.opts.Metrics.RecordDiscarded(event, "invalid_payload")
		h.log.Warn("Discarding malformed signaling event",
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (h *Handler) discard(event, reason string, fields ...zap.Field) {
	h.opts.Metrics.RecordDiscarded(event, reason)
	h.log.Debug("Discarding signaling event",
		append([]zap.Field{zap.String("event", event), zap.String("reason", reason)}, fields...)...,
	)
}

func (h *Handler) onIncomingCall(data json.RawMessage) {
	var p domain.IncomingCallPayload
	if !h.decode(domain.EventIncomingCall, data, &p) {
		return
	}
	p.RoomID = sanitize.Identifier(p.RoomID)
	p.CallerID = sanitize.Identifier(p.CallerID)
	p.ReceiverID = sanitize.Identifier(p.ReceiverID)
	p.CallerName = sanitize.DisplayName(p.CallerName)
	p.CallerAvatar = sanitize.AvatarURL(p.CallerAvatar)

	room := zap.String("room_id", p.RoomID)
	switch {
	case p.ReceiverID != h.self.ID:
		h.discard(domain.EventIncomingCall, "not_addressed", room, zap.String("receiver_id", p.ReceiverID))
		return
	case p.RoomID == "" || p.CallerID == "":
		h.discard(domain.EventIncomingCall, "incomplete", room)
		return
	case !p.CallType.Valid():
		h.discard(domain.EventIncomingCall, "unknown_call_type", room, zap.String("call_type", string(p.CallType)))
		return
	case h.ended.Has(p.RoomID):
		h.discard(domain.EventIncomingCall, "terminated", room)
		return
	}

	snap := h.store.Snapshot()
	if snap.Session != nil {
		switch {
		case snap.RoomID() == p.RoomID:
			h.discard(domain.EventIncomingCall, "duplicate", room)
		case snap.Status == domain.StatusRingingIncoming:
			// Already ringing: the second caller gets no reply
			h.discard(domain.EventIncomingCall, "already_ringing", room, zap.String("ringing_room_id", snap.RoomID()))
		default:
			h.discard(domain.EventIncomingCall, "busy", room, zap.String("caller_id", p.CallerID))
			h.emitLocked(outbound{
				event:   domain.EventUserBusy,
				payload: domain.BusyReplyPayload{RoomID: p.RoomID, CallerID: p.CallerID},
				roomID:  p.RoomID,
			})
		}
		return
	}

	if !h.store.SetIncomingCall(p) {
		return
	}
	h.log.Info("Incoming call",
		room,
		zap.String("caller_id", p.CallerID),
		zap.String("call_type", string(p.CallType)),
	)
	h.opts.Ringtone.Start()
	h.armRingTimeoutLocked(p.RoomID)
}

func (h *Handler) onCallInitiated(data json.RawMessage) {
	var p domain.CallInitiatedPayload
	if !h.decode(domain.EventCallInitiated, data, &p) {
		return
	}
	p.RoomID = sanitize.Identifier(p.RoomID)
	if p.RoomID == "" {
		h.discard(domain.EventCallInitiated, "incomplete")
		return
	}
	if !h.store.BindOutgoingRoom(p.RequestID, p.RoomID) {
		h.discard(domain.EventCallInitiated, "no_pending_request", zap.String("request_id", p.RequestID))
		return
	}
	h.log.Info("Outgoing call ringing", zap.String("room_id", p.RoomID))
}

func (h *Handler) onCallAccepted(data json.RawMessage) {
	var p domain.ParticipantPayload
	if !h.decode(domain.EventCallAccepted, data, &p) {
		return
	}
	p = cleanParticipant(p)

	snap := h.store.Snapshot()
	if snap.Status != domain.StatusRingingOutgoing {
		h.discard(domain.EventCallAccepted, "not_ringing_outgoing", zap.String("room_id", p.RoomID))
		return
	}
	if snap.RoomID() != "" && p.RoomID != snap.RoomID() {
		h.discard(domain.EventCallAccepted, "stale_room", zap.String("room_id", p.RoomID))
		return
	}

	callee := snap.Session.Callee
	peer := domain.Participant{
		UserID:      firstNonEmpty(p.UserID, callee.ID),
		DisplayName: firstNonEmpty(p.UserName, callee.Name),
		AvatarURL:   firstNonEmpty(p.UserAvatar, callee.AvatarURL),
	}
	if !h.store.RemoteAccepted(p.RoomID, peer) {
		return
	}
	h.log.Info("Call accepted by peer",
		zap.String("room_id", p.RoomID),
		zap.String("user_id", peer.UserID),
	)
	h.startMediaLocked(true)
}

func (h *Handler) onParticipantJoined(data json.RawMessage) {
	var p domain.ParticipantPayload
	if !h.decode(domain.EventParticipantJoined, data, &p) {
		return
	}
	p = cleanParticipant(p)
	if !h.matchesLiveRoom(p.RoomID) || p.UserID == "" || p.UserID == h.self.ID {
		h.discard(domain.EventParticipantJoined, "not_applicable", zap.String("room_id", p.RoomID))
		return
	}
	h.store.AddParticipant(domain.Participant{
		UserID:      p.UserID,
		DisplayName: p.UserName,
		AvatarURL:   p.UserAvatar,
	})
}

func (h *Handler) onParticipantLeft(data json.RawMessage) {
	var p domain.ParticipantPayload
	if !h.decode(domain.EventParticipantLeft, data, &p) {
		return
	}
	p = cleanParticipant(p)
	if !h.matchesLiveRoom(p.RoomID) {
		h.discard(domain.EventParticipantLeft, "not_applicable", zap.String("room_id", p.RoomID))
		return
	}
	h.store.RemoveParticipant(p.UserID)
}

// onTerminal builds the listener for a server-originated end of the call.
// Every variant stops the ringtone, even for a call that is already gone.
func (h *Handler) onTerminal(outcome domain.Outcome) func(json.RawMessage) {
	event := terminalEvent(outcome)
	return func(data json.RawMessage) {
		var p domain.RoomPayload
		if len(data) > 0 && string(data) != "null" {
			if !h.decode(event, data, &p) {
				h.opts.Ringtone.Stop()
				return
			}
		}
		p.RoomID = sanitize.Identifier(p.RoomID)

		h.opts.Ringtone.Stop()

		snap := h.store.Snapshot()
		if snap.Session == nil {
			h.discard(event, "no_session", zap.String("room_id", p.RoomID))
			return
		}
		if p.RoomID != "" && snap.RoomID() != "" && p.RoomID != snap.RoomID() {
			h.discard(event, "stale_room",
				zap.String("room_id", p.RoomID),
				zap.String("active_room_id", snap.RoomID()),
			)
			return
		}

		h.log.Info("Call terminated by server",
			zap.String("event", event),
			zap.String("room_id", snap.RoomID()),
		)
		h.teardownLocked(snap, outcome, nil)
		h.opts.Notifier.Show(noticeKind(outcome), snap.RoomID(), noticeMessage(outcome, snap.Session.RemotePeer()))
	}
}

// matchesLiveRoom reports whether roomID names the current call past ringing
func (h *Handler) matchesLiveRoom(roomID string) bool {
	snap := h.store.Snapshot()
	return snap.Session != nil && snap.Status.HasMedia() && roomID == snap.RoomID()
}

func cleanParticipant(p domain.ParticipantPayload) domain.ParticipantPayload {
	p.RoomID = sanitize.Identifier(p.RoomID)
	p.UserID = sanitize.Identifier(p.UserID)
	p.UserName = sanitize.DisplayName(p.UserName)
	p.UserAvatar = sanitize.AvatarURL(p.UserAvatar)
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
