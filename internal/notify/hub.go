// Package notify is the notification surface for user-facing call notices.
package notify

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/pkg/constants"
	"taskboard-calls/pkg/logger"
)

// Hub logs every notice and fans it out to subscribers
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan domain.Notice
	nextID uint64
	last   []domain.Notice
	keep   int
	clock  clock.Clock
	log    *zap.Logger
}

// NewHub creates a hub keeping the most recent keep notices. A nil clock means wall time.
func NewHub(keep int, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		subs:  make(map[uint64]chan domain.Notice),
		keep:  keep,
		clock: clk,
		log:   logger.Named("notify"),
	}
}

// Show publishes a notice
func (h *Hub) Show(kind domain.NoticeKind, roomID, message string) {
	n := domain.Notice{
		Kind:    kind,
		RoomID:  roomID,
		Message: message,
		At:      h.clock.Now(),
	}

	switch kind {
	case domain.NoticeTransportWarning, domain.NoticeMediaError:
		h.log.Warn(message, zap.String("kind", string(kind)), zap.String("room_id", roomID))
	case domain.NoticeCallsUnavailable:
		h.log.Error(message, zap.String("kind", string(kind)))
	default:
		h.log.Info(message, zap.String("kind", string(kind)), zap.String("room_id", roomID))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.keep > 0 {
		h.last = append(h.last, n)
		if len(h.last) > h.keep {
			h.last = h.last[len(h.last)-h.keep:]
		}
	}
	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.log.Debug("Dropping notice for slow subscriber", zap.Uint64("subscriber", id))
		}
	}
}

// Subscribe returns a channel of future notices and a cancel function that closes it
func (h *Hub) Subscribe() (<-chan domain.Notice, func()) {
	ch := make(chan domain.Notice, constants.NoticeBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns the retained notices, oldest first
func (h *Hub) Recent() []domain.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Notice(nil), h.last...)
}
