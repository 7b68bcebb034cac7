// Package supervisor derives the in-call connection indicator from call state.
package supervisor

import (
	"sync"

	"github.com/benbjohnson/clock"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/metrics"
)

// Derive maps call status and the number of live remote streams to the indicator
func Derive(status domain.CallStatus, liveRemoteStreams int) domain.ConnectionStatus {
	if status != domain.StatusActive {
		return domain.ConnectionDisconnected
	}
	if liveRemoteStreams > 0 {
		return domain.ConnectionConnected
	}
	return domain.ConnectionReconnecting
}

// FromSnapshot applies Derive to a store snapshot, counting connected remote participants
func FromSnapshot(snap store.Snapshot) domain.ConnectionStatus {
	return Derive(snap.Status, liveRemoteStreams(snap))
}

func liveRemoteStreams(snap store.Snapshot) int {
	if snap.Session == nil {
		return 0
	}
	n := 0
	for _, p := range snap.Session.Participants {
		if p.ConnectionStatus == domain.ParticipantConnected {
			n++
		}
	}
	return n
}

// Supervisor recomputes the indicator on every store change and reports transitions
type Supervisor struct {
	store   *store.Store
	metrics *metrics.Metrics
	clock   clock.Clock

	mu     sync.Mutex
	fns    map[uint64]func(domain.ConnectionStatus)
	nextID uint64
	detach func()
}

// New subscribes a supervisor to st. A nil clock means wall time.
func New(st *store.Store, m *metrics.Metrics, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	s := &Supervisor{
		store:   st,
		metrics: m,
		clock:   clk,
		fns:     make(map[uint64]func(domain.ConnectionStatus)),
	}
	m.SetCallStatus("", string(st.Status()))
	s.detach = st.Subscribe(s.observe)
	return s
}

// Status derives the indicator from the current store state
func (s *Supervisor) Status() domain.ConnectionStatus {
	return FromSnapshot(s.store.Snapshot())
}

// OnChange registers fn for indicator transitions and returns a remover
func (s *Supervisor) OnChange(fn func(domain.ConnectionStatus)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// Close stops observing the store
func (s *Supervisor) Close() {
	if s.detach != nil {
		s.detach()
	}
}

func (s *Supervisor) observe(change store.Change) {
	s.metrics.SetCallStatus(string(change.Before.Status), string(change.After.Status))

	if change.Outcome != "" && change.Before.Session != nil {
		session := change.Before.Session
		s.metrics.RecordCallOutcome(string(session.Direction), string(change.Outcome))
		if session.ConnectedAt != nil {
			s.metrics.RecordCallDuration(string(session.CallType), s.clock.Since(*session.ConnectedAt))
		}
	}

	before := FromSnapshot(change.Before)
	after := FromSnapshot(change.After)
	if before == after {
		return
	}

	s.mu.Lock()
	fns := make([]func(domain.ConnectionStatus), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(after)
	}
}
