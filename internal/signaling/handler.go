// Package signaling drives the call state machine from signaling events and user actions.
//
// Every entry point (event listeners, user actions, timer callbacks, media
// callbacks) runs under one mutex, so each completes before the next starts.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/eventchannel"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/cache"
	"taskboard-calls/pkg/constants"
	apperrors "taskboard-calls/pkg/errors"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/metrics"
)

// EventChannel is the bidirectional signaling connection
type EventChannel interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, fn eventchannel.Listener) eventchannel.Subscription
	Off(sub eventchannel.Subscription)
}

// IdentityProvider supplies the authenticated local user
type IdentityProvider interface {
	CurrentUser() (domain.User, bool)
}

// Notifier is the notification surface
type Notifier interface {
	Show(kind domain.NoticeKind, roomID, message string)
}

// Ringtone is the idempotent ringing cue
type Ringtone interface {
	Start() bool
	Stop() bool
}

// Options configures a Handler
type Options struct {
	// Channel returns the event channel, or nil while it is unavailable
	Channel  func() EventChannel
	Identity IdentityProvider
	Store    *store.Store
	Media    media.Controller
	Ringtone Ringtone
	Notifier Notifier
	Clock    clock.Clock
	Metrics  *metrics.Metrics

	RingTimeout       time.Duration
	BootstrapInterval time.Duration
	BootstrapAttempts int
	EmitTimeout       time.Duration
}

type outbound struct {
	event   string
	payload any
	roomID  string
	onFail  func()
}

// Handler is the Call Signaling Handler
type Handler struct {
	opts  Options
	store *store.Store
	media media.Controller
	clock clock.Clock
	log   *zap.Logger

	mu        sync.Mutex
	channel   EventChannel
	self      domain.User
	subs      []eventchannel.Subscription
	attached  bool
	disabled  bool
	closed    bool
	timers    map[uint64]*clock.Timer
	timerSeq  uint64
	ringTimer uint64
	ended     *cache.MemoryCache[struct{}]

	outbox   chan outbound
	inflight sync.WaitGroup
	workerWG sync.WaitGroup
}

// New creates a detached handler; call Start to subscribe
func New(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = constants.RingTimeout
	}
	if opts.BootstrapInterval <= 0 {
		opts.BootstrapInterval = constants.BootstrapRetryInterval
	}
	if opts.BootstrapAttempts <= 0 {
		opts.BootstrapAttempts = constants.BootstrapMaxAttempts
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = constants.EmitTimeout
	}
	if opts.Ringtone == nil {
		opts.Ringtone = nopRingtone{}
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}

	h := &Handler{
		opts:   opts,
		store:  opts.Store,
		media:  opts.Media,
		clock:  opts.Clock,
		log:    logger.Named("signaling"),
		timers: make(map[uint64]*clock.Timer),
		ended:  cache.NewMemoryCache[struct{}](constants.TerminatedRoomTTL, 256, opts.Clock),
		outbox: make(chan outbound, constants.WebSocketSendBuffer),
	}
	h.workerWG.Add(1)
	go h.emitWorker()
	return h
}

// Start subscribes to signaling events, retrying while the channel or identity is
// missing. When the attempts run out, call features are disabled and an error is returned.
func (h *Handler) Start(ctx context.Context) error {
	b := retry.WithMaxRetries(uint64(h.opts.BootstrapAttempts-1), retry.NewConstant(h.opts.BootstrapInterval))

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		h.opts.Metrics.RecordBootstrapAttempt()
		if err := h.attach(); err != nil {
			h.log.Debug("Signaling bootstrap attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if apperrors.HasCode(err, apperrors.ErrCodeInternal) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		h.log.Info("Signaling attached", zap.Int("attempts", attempt))
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if apperrors.HasCode(err, apperrors.ErrCodeInternal) {
		return err
	}

	if !h.disableUnlessAttached() {
		h.log.Info("Signaling attached by a concurrent rebind", zap.Int("attempts", attempt))
		return nil
	}

	h.opts.Metrics.RecordBootstrapFailure()
	h.log.Error("Signaling bootstrap exhausted, disabling call features",
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	h.opts.Notifier.Show(domain.NoticeCallsUnavailable, "", "Calling is unavailable right now")
	return apperrors.Wrap(apperrors.ErrCodeCallUnavailable, "Call features are unavailable", err)
}

// disableUnlessAttached turns call features off after a failed bootstrap. It
// leaves them on when another bootstrap attached in the meantime.
func (h *Handler) disableUnlessAttached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attached {
		return false
	}
	h.disabled = true
	return true
}

// Rebind drops the current subscriptions and bootstraps again, for use after
// the identity or the channel changed
func (h *Handler) Rebind(ctx context.Context) error {
	h.mu.Lock()
	h.detachLocked()
	h.mu.Unlock()
	return h.Start(ctx)
}

// Close tears down any call, unsubscribes, and waits for pending notifications.
// The handler cannot be restarted.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if snap := h.store.Snapshot(); snap.Session != nil {
		h.log.Info("Tearing down call on shutdown", zap.String("room_id", snap.RoomID()))
		h.hangUpLocked(snap, domain.OutcomeEnded)
	}
	// Unconditional reset so shutdown never leaves a session behind
	h.store.ClearCallState()
	h.detachLocked()
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = make(map[uint64]*clock.Timer)
	h.opts.Ringtone.Stop()
	h.closed = true
	h.mu.Unlock()

	h.inflight.Wait()
	close(h.outbox)
	h.workerWG.Wait()
}

// Available reports whether call features can be used
func (h *Handler) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached && !h.disabled && !h.closed
}

// Self returns the identity the handler is bound to
func (h *Handler) Self() domain.User {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.self
}

func (h *Handler) attach() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return apperrors.InternalError("signaling handler is closed")
	}

	var ch EventChannel
	if h.opts.Channel != nil {
		ch = h.opts.Channel()
	}
	if ch == nil {
		return apperrors.NotConnectedError()
	}
	user, ok := h.opts.Identity.CurrentUser()
	if !ok || user.ID == "" {
		return apperrors.IdentityUnavailableError()
	}

	h.detachLocked()

	if h.self.ID != "" && h.self.ID != user.ID {
		if snap := h.store.Snapshot(); snap.Session != nil {
			h.log.Warn("Identity changed during a call, ending it",
				zap.String("old_user_id", h.self.ID),
				zap.String("user_id", user.ID),
			)
			h.hangUpLocked(snap, domain.OutcomeEnded)
		}
	}

	h.channel = ch
	h.self = user
	h.subs = []eventchannel.Subscription{
		ch.On(domain.EventIncomingCall, h.guard(domain.EventIncomingCall, h.onIncomingCall)),
		ch.On(domain.EventCallInitiated, h.guard(domain.EventCallInitiated, h.onCallInitiated)),
		ch.On(domain.EventCallAccepted, h.guard(domain.EventCallAccepted, h.onCallAccepted)),
		ch.On(domain.EventCallEnded, h.guard(domain.EventCallEnded, h.onTerminal(domain.OutcomeEnded))),
		ch.On(domain.EventCallRejected, h.guard(domain.EventCallRejected, h.onTerminal(domain.OutcomeRejected))),
		ch.On(domain.EventUserBusy, h.guard(domain.EventUserBusy, h.onTerminal(domain.OutcomeBusy))),
		ch.On(domain.EventUserAlreadyInCall, h.guard(domain.EventUserAlreadyInCall, h.onTerminal(domain.OutcomeAlreadyInCall))),
		ch.On(domain.EventParticipantJoined, h.guard(domain.EventParticipantJoined, h.onParticipantJoined)),
		ch.On(domain.EventParticipantLeft, h.guard(domain.EventParticipantLeft, h.onParticipantLeft)),
	}
	h.attached = true
	h.disabled = false
	return nil
}

func (h *Handler) detachLocked() {
	if h.channel != nil {
		for _, sub := range h.subs {
			h.channel.Off(sub)
		}
	}
	h.subs = nil
	h.attached = false
}

// guard serializes an inbound listener and drops events arriving after detach
func (h *Handler) guard(event string, fn func(data json.RawMessage)) eventchannel.Listener {
	return func(data json.RawMessage) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.attached || h.closed {
			return
		}
		h.log.Debug("Signaling event received", zap.String("event", event))
		fn(data)
	}
}

// usableLocked returns the error a user action should report when calling is unavailable
func (h *Handler) usableLocked() error {
	if h.closed || h.disabled || !h.attached {
		return apperrors.CallUnavailableError()
	}
	return nil
}

// emitLocked queues an outbound notification. Delivery happens on the emit
// worker in order; failures become transport warnings and run onFail.
func (h *Handler) emitLocked(msg outbound) {
	if h.channel == nil || h.closed {
		h.reportEmitFailure(msg, apperrors.NotConnectedError())
		return
	}
	h.inflight.Add(1)
	select {
	case h.outbox <- msg:
	default:
		h.inflight.Done()
		h.reportEmitFailure(msg, apperrors.SendBufferFullError())
	}
}

func (h *Handler) emitWorker() {
	defer h.workerWG.Done()
	for msg := range h.outbox {
		h.mu.Lock()
		ch := h.channel
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.EmitTimeout)
		err := ch.Emit(ctx, msg.event, msg.payload)
		cancel()
		if err != nil {
			h.reportEmitFailure(msg, err)
		}
		h.inflight.Done()
	}
}

func (h *Handler) reportEmitFailure(msg outbound, err error) {
	h.opts.Metrics.RecordEmitFailure(msg.event)
	h.log.Warn("Failed to notify server",
		zap.String("event", msg.event),
		zap.String("room_id", msg.roomID),
		zap.Error(err),
	)
	h.opts.Notifier.Show(domain.NoticeTransportWarning, msg.roomID, transportWarning(msg.event))
	if msg.onFail != nil {
		go msg.onFail()
	}
}

type nopRingtone struct{}

func (nopRingtone) Start() bool { return false }
func (nopRingtone) Stop() bool  { return false }

type logNotifier struct{}

func (logNotifier) Show(kind domain.NoticeKind, roomID, message string) {
	logger.Info(message, zap.String("kind", string(kind)), zap.String("room_id", roomID))
}
