// Package call serves the local control API for the call UI.
package call

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/signaling"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/constants"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/response"
)

// Calls is the signaling surface driven by the control API
type Calls interface {
	Initiate(ctx context.Context, req signaling.InitiateRequest) (*domain.CallSession, error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error
	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetScreenShare(enabled bool) error
	MediaControls() (media.ControlState, bool)
	Available() bool
}

// State is the call session store
type State interface {
	Snapshot() store.Snapshot
	Subscribe(l store.Listener) func()
}

// Connection derives the in-call connection indicator
type Connection interface {
	Status() domain.ConnectionStatus
}

// Notices is the notification surface
type Notices interface {
	Subscribe() (<-chan domain.Notice, func())
	Recent() []domain.Notice
}

// Handler handles local control API requests
type Handler struct {
	calls      Calls
	state      State
	connection Connection
	notices    Notices
	heartbeat  time.Duration
}

// NewHandler creates a new call handler
func NewHandler(calls Calls, state State, connection Connection, notices Notices) *Handler {
	return &Handler{
		calls:      calls,
		state:      state,
		connection: connection,
		notices:    notices,
		heartbeat:  constants.EventStreamHeartbeat,
	}
}

// RegisterRoutes mounts the call routes under /v1/call
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/v1/call")
	g.GET("", h.GetCall)
	g.GET("/notices", h.GetNotices)
	g.GET("/events", h.Events)
	g.POST("/initiate", h.Initiate)
	g.POST("/accept", h.Accept)
	g.POST("/reject", h.Reject)
	g.POST("/end", h.End)
	g.POST("/media/mute", h.toggle(h.calls.SetMuted))
	g.POST("/media/video", h.toggle(h.calls.SetVideoEnabled))
	g.POST("/media/screen", h.toggle(h.calls.SetScreenShare))
}

// CallView is the UI's view of the call
type CallView struct {
	store.Snapshot
	// Ringing is true while waiting for an answer on either side
	Ringing    bool                    `json:"ringing"`
	InCall     bool                    `json:"in_call"`
	Connection domain.ConnectionStatus `json:"connection"`
	Available  bool                    `json:"available"`
	Controls   *media.ControlState     `json:"controls,omitempty"`
}

func (h *Handler) view(snap store.Snapshot) CallView {
	v := CallView{
		Snapshot:   snap,
		Ringing:    snap.Status.IsRinging(),
		InCall:     snap.Status.IsLive(),
		Connection: h.connection.Status(),
		Available:  h.calls.Available(),
	}
	if controls, ok := h.calls.MediaControls(); ok {
		v.Controls = &controls
	}
	return v
}

// GetCall returns the current call state
// GET /v1/call
func (h *Handler) GetCall(c *gin.Context) {
	response.Success(c, http.StatusOK, h.view(h.state.Snapshot()))
}

// GetNotices returns the most recent notices
// GET /v1/call/notices
func (h *Handler) GetNotices(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"notices": h.notices.Recent()})
}

// Initiate starts an outgoing call
// POST /v1/call/initiate
func (h *Handler) Initiate(c *gin.Context) {
	var req signaling.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	session, err := h.calls.Initiate(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Accepted(c, session)
}

// Accept answers the ringing call
// POST /v1/call/accept
func (h *Handler) Accept(c *gin.Context) {
	h.action(c, h.calls.Accept)
}

// Reject declines the ringing call
// POST /v1/call/reject
func (h *Handler) Reject(c *gin.Context) {
	h.action(c, h.calls.Reject)
}

// End hangs up the current call
// POST /v1/call/end
func (h *Handler) End(c *gin.Context) {
	h.action(c, h.calls.End)
}

func (h *Handler) action(c *gin.Context, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(h.state.Snapshot()))
}

// ToggleRequest switches a media control
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) toggle(set func(bool) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
		if err := set(*req.Enabled); err != nil {
			response.FromError(c, err)
			return
		}
		controls, _ := h.calls.MediaControls()
		response.Success(c, http.StatusOK, controls)
	}
}

// Events streams "state" on every store change and "notice" for every notice.
// A slow client may miss intermediate states; each state event is a full view.
// GET /v1/call/events
func (h *Handler) Events(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	states := make(chan store.Snapshot, 16)
	unsubscribe := h.state.Subscribe(func(change store.Change) {
		select {
		case states <- change.After:
		default:
		}
	})
	defer unsubscribe()

	notices, cancel := h.notices.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("state", h.view(h.state.Snapshot()))
	c.Writer.Flush()
	log.Debug("Call event stream opened")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap := <-states:
			c.SSEvent("state", h.view(snap))
		case n, ok := <-notices:
			if !ok {
				return false
			}
			c.SSEvent("notice", n)
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
		}
		return true
	})
	log.Debug("Call event stream closed", zap.String("client_ip", c.ClientIP()))
}
