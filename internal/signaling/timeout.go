package signaling

import (
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/pkg/sanitize"
)

// armRingTimeoutLocked schedules the auto-reject for roomID. The timer is not
// cancelled when the call moves on; the callback checks the state when it fires.
// Only the most recently armed timer may reject, so a room rung twice is timed once.
func (h *Handler) armRingTimeoutLocked(roomID string) {
	h.timerSeq++
	id := h.timerSeq
	h.ringTimer = id
	h.timers[id] = h.clock.AfterFunc(h.opts.RingTimeout, func() {
		h.onRingTimeout(roomID, id)
	})
}

func (h *Handler) onRingTimeout(roomID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.timers, id)
	if h.closed {
		return
	}

	snap := h.store.Snapshot()
	if id != h.ringTimer || snap.Status != domain.StatusRingingIncoming || snap.RoomID() != roomID {
		h.log.Debug("Ring timeout no longer applies",
			zap.String("room_id", roomID),
			zap.String("status", string(snap.Status)),
		)
		return
	}

	h.opts.Metrics.RecordAutoReject()
	h.log.Info("Incoming call not answered, auto-rejecting", zap.String("room_id", roomID))

	h.teardownLocked(snap, domain.OutcomeAutoRejected, &outbound{
		event:   domain.EventRejectCall,
		payload: domain.RejectCallPayload{RoomID: roomID, UserID: h.self.ID},
		roomID:  roomID,
	})
	h.opts.Notifier.Show(domain.NoticeAutoRejected, roomID, noticeMessage(domain.OutcomeAutoRejected, snap.Session.RemotePeer()))
}

func terminalEvent(outcome domain.Outcome) string {
	switch outcome {
	case domain.OutcomeRejected:
		return domain.EventCallRejected
	case domain.OutcomeBusy:
		return domain.EventUserBusy
	case domain.OutcomeAlreadyInCall:
		return domain.EventUserAlreadyInCall
	default:
		return domain.EventCallEnded
	}
}

func noticeKind(outcome domain.Outcome) domain.NoticeKind {
	switch outcome {
	case domain.OutcomeRejected:
		return domain.NoticeCallRejected
	case domain.OutcomeBusy:
		return domain.NoticeUserBusy
	case domain.OutcomeAlreadyInCall:
		return domain.NoticeUserAlreadyInCall
	case domain.OutcomeAutoRejected:
		return domain.NoticeAutoRejected
	case domain.OutcomeFailed:
		return domain.NoticeMediaError
	default:
		return domain.NoticeCallEnded
	}
}

// noticeMessage names the peer and the reason the call finished
func noticeMessage(outcome domain.Outcome, peer domain.User) string {
	name := sanitize.DisplayName(peer.DisplayLabel())
	switch outcome {
	case domain.OutcomeRejected:
		return name + " declined the call"
	case domain.OutcomeBusy:
		return name + " is busy"
	case domain.OutcomeAlreadyInCall:
		return name + " is already in another call"
	case domain.OutcomeAutoRejected:
		return "Missed call from " + name
	case domain.OutcomeFailed:
		return "Call with " + name + " failed"
	default:
		return "Call with " + name + " ended"
	}
}

func transportWarning(event string) string {
	switch event {
	case domain.EventInitiateCall:
		return "Could not reach the server to start the call"
	case domain.EventAcceptCall:
		return "The server may not know you answered the call"
	case domain.EventRejectCall:
		return "The server may not know you declined the call"
	case domain.EventEndCall:
		return "The server may not know you hung up"
	default:
		return "Could not reach the server"
	}
}
