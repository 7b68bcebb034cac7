// Package history appends finished calls to a Redis list per day.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/constants"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/metrics"
)

// Entry is one finished call
type Entry struct {
	ID              string            `json:"id"`
	RoomID          string            `json:"room_id"`
	Direction       domain.Direction  `json:"direction"`
	CallType        domain.CallType   `json:"call_type"`
	ConversationID  string            `json:"conversation_id,omitempty"`
	PeerID          string            `json:"peer_id"`
	PeerName        string            `json:"peer_name,omitempty"`
	Outcome         domain.Outcome    `json:"outcome"`
	Status          domain.CallStatus `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	ConnectedAt     *time.Time        `json:"connected_at,omitempty"`
	EndedAt         time.Time         `json:"ended_at"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
}

// ListWriter is the subset of the Redis client used here
type ListWriter interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Recorder writes entries to Redis
type Recorder struct {
	client    ListWriter
	clock     clock.Clock
	metrics   *metrics.Metrics
	retention time.Duration
	log       *zap.Logger
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder. A nil clock means wall time.
func NewRecorder(client ListWriter, clk clock.Clock, m *metrics.Metrics) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{
		client:    client,
		clock:     clk,
		metrics:   m,
		retention: constants.HistoryRetention,
		log:       logger.Named("history"),
	}
}

// Key returns the list key for the day of t
func Key(t time.Time) string {
	return fmt.Sprintf("calls:history:%s", t.UTC().Format("2006-01-02"))
}

// Record appends e to the list for its end date
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = r.clock.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal call history entry: %w", err)
	}

	key := Key(e.EndedAt)
	if err := r.client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to store call history entry: %w", err)
	}
	if err := r.client.Expire(ctx, key, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to set call history expiry: %w", err)
	}
	return nil
}

// Observe is a store listener that records every terminated session in the background
func (r *Recorder) Observe(change store.Change) {
	if change.Outcome == "" || !change.Before.Status.IsLive() {
		return
	}
	entry := r.entryFor(change.Before.Session, change.Outcome)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.HistoryWriteTimeout)
		defer cancel()
		if err := r.Record(ctx, entry); err != nil {
			r.metrics.RecordHistoryWriteError()
			r.log.Warn("Call history write failed", zap.String("room_id", entry.RoomID), zap.Error(err))
		}
	}()
}

// Wait blocks until background writes finish
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) entryFor(s *domain.CallSession, outcome domain.Outcome) *Entry {
	peer := s.RemotePeer()
	now := r.clock.Now().UTC()
	e := &Entry{
		RoomID:         s.RoomID,
		Direction:      s.Direction,
		CallType:       s.CallType,
		ConversationID: s.ConversationID,
		PeerID:         peer.ID,
		PeerName:       peer.Name,
		Outcome:        outcome,
		Status:         outcome.TerminalStatus(),
		StartedAt:      s.CreatedAt.UTC(),
		ConnectedAt:    s.ConnectedAt,
		EndedAt:        now,
	}
	if s.ConnectedAt != nil {
		e.DurationSeconds = now.Sub(*s.ConnectedAt).Seconds()
	}
	return e
}
