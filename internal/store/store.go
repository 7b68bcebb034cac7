// Package store holds the canonical state of the client's single call session.
//
// Every mutation goes through a named action. Actions are total: a transition
// that is not valid from the current status is ignored and logged, never
// returned as an error, because inbound network events arrive in arbitrary order.
package store

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/pkg/logger"
)

// Action names the mutation that produced a Change
type Action string

const (
	ActionSetIncomingCall         Action = "set_incoming_call"
	ActionSetOutgoingCall         Action = "set_outgoing_call"
	ActionBindOutgoingRoom        Action = "bind_outgoing_room"
	ActionAcceptCall              Action = "accept_call"
	ActionRejectCall              Action = "reject_call"
	ActionRemoteAccepted          Action = "remote_accepted"
	ActionMarkActive              Action = "mark_active"
	ActionAddParticipant          Action = "add_participant"
	ActionUpdateParticipantStatus Action = "update_participant_status"
	ActionRemoveParticipant       Action = "remove_participant"
	ActionTerminate               Action = "terminate"
	ActionClearCallState          Action = "clear_call_state"
)

// Snapshot is an immutable view of the store
type Snapshot struct {
	Status      domain.CallStatus   `json:"status"`
	Session     *domain.CallSession `json:"session,omitempty"`
	LastOutcome domain.Outcome      `json:"last_outcome,omitempty"`
	LastRoomID  string              `json:"last_room_id,omitempty"`
	Version     uint64              `json:"version"`
}

// RoomID returns the current room id, or "" when idle
func (s Snapshot) RoomID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.RoomID
}

// Change is delivered to listeners after every applied action
type Change struct {
	Action  Action
	Before  Snapshot
	After   Snapshot
	Outcome domain.Outcome
}

// Listener observes applied changes. It must not call back into the store's
// mutating actions synchronously.
type Listener func(Change)

// Store is the Call Session Store
type Store struct {
	mu          sync.Mutex
	session     *domain.CallSession
	lastOutcome domain.Outcome
	lastRoomID  string
	version     uint64

	notifyMu  sync.Mutex
	listenMu  sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64

	clock clock.Clock
	log   *zap.Logger
}

// New creates an idle store. A nil clock means wall time.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		listeners: make(map[uint64]Listener),
		clock:     clk,
		log:       logger.Named("call-store"),
	}
}

// Subscribe registers l and returns a function that removes it
func (s *Store) Subscribe(l Listener) func() {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

// Snapshot returns the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status returns the current call status
func (s *Store) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.StatusIdle
	}
	return s.session.Status
}

// SetIncomingCall creates a ringing incoming session. Valid only while idle.
func (s *Store) SetIncomingCall(p domain.IncomingCallPayload) bool {
	return s.apply(ActionSetIncomingCall, func() (bool, domain.Outcome) {
		if s.session != nil {
			s.ignoredLocked(ActionSetIncomingCall, zap.String("room_id", p.RoomID))
			return false, ""
		}
		s.session = &domain.CallSession{
			RoomID:         p.RoomID,
			CallType:       p.CallType,
			ConversationID: p.ConversationID,
			Direction:      domain.DirectionIncoming,
			Caller: domain.User{
				ID:        p.CallerID,
				Name:      p.CallerName,
				AvatarURL: p.CallerAvatar,
			},
			Callee:    domain.User{ID: p.ReceiverID},
			Status:    domain.StatusRingingIncoming,
			CreatedAt: s.clock.Now(),
		}
		return true, ""
	})
}

// SetOutgoingCall creates a ringing outgoing session awaiting its room id. Valid only while idle.
func (s *Store) SetOutgoingCall(requestID string, caller, callee domain.User, callType domain.CallType, conversationID string) bool {
	return s.apply(ActionSetOutgoingCall, func() (bool, domain.Outcome) {
		if s.session != nil {
			s.ignoredLocked(ActionSetOutgoingCall, zap.String("request_id", requestID))
			return false, ""
		}
		s.session = &domain.CallSession{
			RequestID:      requestID,
			CallType:       callType,
			ConversationID: conversationID,
			Direction:      domain.DirectionOutgoing,
			Caller:         caller,
			Callee:         callee,
			Status:         domain.StatusRingingOutgoing,
			CreatedAt:      s.clock.Now(),
		}
		return true, ""
	})
}

// BindOutgoingRoom records the server-assigned room id for a pending outgoing call
func (s *Store) BindOutgoingRoom(requestID, roomID string) bool {
	return s.apply(ActionBindOutgoingRoom, func() (bool, domain.Outcome) {
		if s.session == nil ||
			s.session.Status != domain.StatusRingingOutgoing ||
			s.session.RequestID != requestID ||
			s.session.RoomID != "" {
			s.ignoredLocked(ActionBindOutgoingRoom, zap.String("request_id", requestID), zap.String("room_id", roomID))
			return false, ""
		}
		s.session.RoomID = roomID
		return true, ""
	})
}

// AcceptCall moves a ringing incoming call to CONNECTING and expects the caller's media
func (s *Store) AcceptCall() bool {
	return s.apply(ActionAcceptCall, func() (bool, domain.Outcome) {
		if s.session == nil || s.session.Status != domain.StatusRingingIncoming {
			s.ignoredLocked(ActionAcceptCall)
			return false, ""
		}
		s.session.Status = domain.StatusConnecting
		s.upsertParticipantLocked(domain.Participant{
			UserID:           s.session.Caller.ID,
			DisplayName:      s.session.Caller.Name,
			AvatarURL:        s.session.Caller.AvatarURL,
			ConnectionStatus: domain.ParticipantConnecting,
		})
		return true, ""
	})
}

// RejectCall declines a ringing incoming call and returns to idle
func (s *Store) RejectCall() bool {
	return s.apply(ActionRejectCall, func() (bool, domain.Outcome) {
		if s.session == nil || s.session.Status != domain.StatusRingingIncoming {
			s.ignoredLocked(ActionRejectCall)
			return false, ""
		}
		s.clearLocked(domain.OutcomeRejected)
		return true, domain.OutcomeRejected
	})
}

// RemoteAccepted moves a ringing outgoing call for roomID to CONNECTING
func (s *Store) RemoteAccepted(roomID string, peer domain.Participant) bool {
	return s.apply(ActionRemoteAccepted, func() (bool, domain.Outcome) {
		if s.session == nil ||
			s.session.Status != domain.StatusRingingOutgoing ||
			!s.roomMatchesLocked(roomID) {
			s.ignoredLocked(ActionRemoteAccepted, zap.String("room_id", roomID))
			return false, ""
		}
		if s.session.RoomID == "" {
			s.session.RoomID = roomID
		}
		s.session.Status = domain.StatusConnecting
		if peer.UserID != "" {
			if peer.ConnectionStatus == "" {
				peer.ConnectionStatus = domain.ParticipantConnecting
			}
			s.upsertParticipantLocked(peer)
		}
		return true, ""
	})
}

// MarkActive records that media is established for roomID
func (s *Store) MarkActive(roomID string) bool {
	return s.apply(ActionMarkActive, func() (bool, domain.Outcome) {
		if s.session == nil ||
			s.session.Status != domain.StatusConnecting ||
			s.session.RoomID != roomID {
			s.ignoredLocked(ActionMarkActive, zap.String("room_id", roomID))
			return false, ""
		}
		now := s.clock.Now()
		s.session.Status = domain.StatusActive
		s.session.ConnectedAt = &now
		return true, ""
	})
}

// AddParticipant adds p to the roster, or refreshes its display data if already present
func (s *Store) AddParticipant(p domain.Participant) bool {
	return s.apply(ActionAddParticipant, func() (bool, domain.Outcome) {
		if !s.inCallLocked() || p.UserID == "" {
			s.ignoredLocked(ActionAddParticipant, zap.String("user_id", p.UserID))
			return false, ""
		}
		if p.ConnectionStatus == "" {
			p.ConnectionStatus = domain.ParticipantConnecting
		}
		s.upsertParticipantLocked(p)
		return true, ""
	})
}

// UpdateParticipantStatus changes the media state of a known participant
func (s *Store) UpdateParticipantStatus(userID string, status domain.ParticipantStatus) bool {
	return s.apply(ActionUpdateParticipantStatus, func() (bool, domain.Outcome) {
		if !s.inCallLocked() {
			s.ignoredLocked(ActionUpdateParticipantStatus, zap.String("user_id", userID))
			return false, ""
		}
		for i := range s.session.Participants {
			if s.session.Participants[i].UserID == userID {
				if s.session.Participants[i].ConnectionStatus == status {
					return false, ""
				}
				s.session.Participants[i].ConnectionStatus = status
				return true, ""
			}
		}
		s.ignoredLocked(ActionUpdateParticipantStatus, zap.String("user_id", userID))
		return false, ""
	})
}

// RemoveParticipant drops userID from the roster
func (s *Store) RemoveParticipant(userID string) bool {
	return s.apply(ActionRemoveParticipant, func() (bool, domain.Outcome) {
		if !s.inCallLocked() {
			s.ignoredLocked(ActionRemoveParticipant, zap.String("user_id", userID))
			return false, ""
		}
		for i := range s.session.Participants {
			if s.session.Participants[i].UserID == userID {
				s.session.Participants = append(s.session.Participants[:i], s.session.Participants[i+1:]...)
				return true, ""
			}
		}
		return false, ""
	})
}

// EndCall clears the session if roomID matches it, or unconditionally when roomID is empty.
// Calling it with no session is a no-op.
func (s *Store) EndCall(roomID string) bool {
	return s.Terminate(roomID, domain.OutcomeEnded)
}

// Terminate is EndCall with an explicit outcome. The signaling handler uses it so
// history records why a call ended; EndCall serves callers that only know a call is over.
func (s *Store) Terminate(roomID string, outcome domain.Outcome) bool {
	return s.apply(ActionTerminate, func() (bool, domain.Outcome) {
		if s.session == nil {
			return false, ""
		}
		if roomID != "" && s.session.RoomID != roomID {
			s.log.Debug("Ignoring termination for another room",
				zap.String("room_id", roomID),
				zap.String("active_room_id", s.session.RoomID),
			)
			return false, ""
		}
		s.clearLocked(outcome)
		return true, outcome
	})
}

// ClearCallState resets to idle regardless of the current state
func (s *Store) ClearCallState() {
	s.apply(ActionClearCallState, func() (bool, domain.Outcome) {
		if s.session == nil {
			return false, ""
		}
		s.clearLocked(domain.OutcomeEnded)
		return true, domain.OutcomeEnded
	})
}

func (s *Store) apply(action Action, mutate func() (bool, domain.Outcome)) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	before := s.snapshotLocked()
	applied, outcome := mutate()
	if applied {
		s.version++
	}
	after := s.snapshotLocked()
	s.mu.Unlock()

	if !applied {
		return false
	}

	s.log.Debug("Call state changed",
		zap.String("action", string(action)),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("room_id", after.RoomID()),
	)

	change := Change{Action: action, Before: before, After: after, Outcome: outcome}
	for _, l := range s.snapshotListeners() {
		l(change)
	}
	return true
}

func (s *Store) snapshotListeners() []Listener {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:      domain.StatusIdle,
		LastOutcome: s.lastOutcome,
		LastRoomID:  s.lastRoomID,
		Version:     s.version,
	}
	if s.session != nil {
		snap.Status = s.session.Status
		snap.Session = s.session.Clone()
	}
	return snap
}

func (s *Store) clearLocked(outcome domain.Outcome) {
	s.lastOutcome = outcome
	s.lastRoomID = s.session.RoomID
	s.session = nil
}

func (s *Store) inCallLocked() bool {
	return s.session != nil && s.session.Status.HasMedia()
}

// roomMatchesLocked accepts an empty room on either side so an acceptance can
// arrive before call_initiated bound the room
func (s *Store) roomMatchesLocked(roomID string) bool {
	return roomID == "" || s.session.RoomID == "" || s.session.RoomID == roomID
}

func (s *Store) upsertParticipantLocked(p domain.Participant) {
	for i := range s.session.Participants {
		if s.session.Participants[i].UserID == p.UserID {
			if p.DisplayName != "" {
				s.session.Participants[i].DisplayName = p.DisplayName
			}
			if p.AvatarURL != "" {
				s.session.Participants[i].AvatarURL = p.AvatarURL
			}
			return
		}
	}
	s.session.Participants = append(s.session.Participants, p)
}

func (s *Store) ignoredLocked(action Action, fields ...zap.Field) {
	status := domain.StatusIdle
	if s.session != nil {
		status = s.session.Status
	}
	s.log.Debug("Ignoring invalid call transition",
		append(fields, zap.String("action", string(action)), zap.String("status", string(status)))...,
	)
}
