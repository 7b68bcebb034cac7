package signaling

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/constants"
)

// hangUpLocked is a locally initiated end: the server is told through end_call
func (h *Handler) hangUpLocked(snap store.Snapshot, outcome domain.Outcome) {
	h.teardownLocked(snap, outcome, &outbound{
		event:  domain.EventEndCall,
		roomID: snap.RoomID(),
		payload: domain.EndCallPayload{
			RoomID:    snap.RoomID(),
			RequestID: snap.Session.RequestID,
		},
	})
}

// teardownLocked ends the call in three steps that always all run:
// stop media, notify the server (best effort, when notify is set), clear local state.
func (h *Handler) teardownLocked(snap store.Snapshot, outcome domain.Outcome, notify *outbound) {
	room := snap.RoomID()

	if h.media != nil {
		if err := h.media.Stop(); err != nil {
			h.log.Warn("Failed to stop media session", zap.String("room_id", room), zap.Error(err))
		}
	}

	if notify != nil {
		h.emitLocked(*notify)
	}

	h.opts.Ringtone.Stop()
	// An unbound outgoing call has no room yet; clear it unconditionally
	h.store.Terminate(room, outcome)
	h.rememberEndedLocked(room)
}

// rememberEndedLocked keeps a finished room id so a late incoming_call for it does not ring
func (h *Handler) rememberEndedLocked(room string) {
	if room == "" {
		return
	}
	h.ended.Set(room, struct{}{}, constants.TerminatedRoomTTL)
}

// startMediaLocked starts media for the CONNECTING session. A failure ends the call.
func (h *Handler) startMediaLocked(initiator bool) bool {
	if h.media == nil {
		return true
	}
	snap := h.store.Snapshot()
	if snap.Status != domain.StatusConnecting {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.EmitTimeout)
	defer cancel()

	_, err := h.media.Start(ctx, media.StartRequest{
		RoomID:       snap.RoomID(),
		LocalUserID:  h.self.ID,
		RemoteUserID: snap.Session.RemotePeer().ID,
		CallType:     snap.Session.CallType,
		Initiator:    initiator,
		Events:       mediaEvents{h},
	})
	if err == nil {
		return true
	}

	h.log.Error("Failed to start media session", zap.String("room_id", snap.RoomID()), zap.Error(err))
	if initiator {
		h.hangUpLocked(snap, domain.OutcomeFailed)
	} else {
		// accept_call has not been sent, so the server still sees this call ringing
		h.teardownLocked(snap, domain.OutcomeFailed, &outbound{
			event:   domain.EventRejectCall,
			roomID:  snap.RoomID(),
			payload: domain.RejectCallPayload{RoomID: snap.RoomID(), UserID: h.self.ID},
		})
	}
	h.opts.Notifier.Show(domain.NoticeMediaError, snap.RoomID(), "Could not start audio or video for the call")
	return false
}

// mediaEvents routes media callbacks through the handler lock
type mediaEvents struct{ h *Handler }

func (m mediaEvents) MediaConnected(roomID string) {
	h := m.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store.MarkActive(roomID) {
		h.log.Info("Media connected", zap.String("room_id", roomID))
	}
}

func (m mediaEvents) RemoteStreamAdded(roomID, userID string) {
	h := m.h
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.store.Snapshot()
	if !snap.Status.HasMedia() || snap.RoomID() != roomID || userID == "" {
		return
	}
	if _, ok := snap.Session.Participant(userID); !ok {
		peer := snap.Session.RemotePeer()
		p := domain.Participant{UserID: userID, ConnectionStatus: domain.ParticipantConnected}
		if peer.ID == userID {
			p.DisplayName = peer.Name
			p.AvatarURL = peer.AvatarURL
		}
		h.store.AddParticipant(p)
		return
	}
	h.store.UpdateParticipantStatus(userID, domain.ParticipantConnected)
}

func (m mediaEvents) RemoteStreamRemoved(roomID, userID string) {
	h := m.h
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.store.Snapshot()
	if !snap.Status.HasMedia() || snap.RoomID() != roomID {
		return
	}
	h.store.UpdateParticipantStatus(userID, domain.ParticipantDisconnected)
}

// MediaFailed is an involuntary teardown; the server is still told the call ended
func (m mediaEvents) MediaFailed(roomID string, err error) {
	h := m.h
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.store.Snapshot()
	if !snap.Status.HasMedia() || snap.RoomID() != roomID {
		return
	}
	if err == nil {
		err = errors.New("media session failed")
	}
	h.log.Error("Media session failed", zap.String("room_id", roomID), zap.Error(err))
	h.hangUpLocked(snap, domain.OutcomeFailed)
	h.opts.Notifier.Show(domain.NoticeMediaError, roomID, "The call was lost")
}
