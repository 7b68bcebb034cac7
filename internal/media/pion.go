package media

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/eventchannel"
	"taskboard-calls/pkg/constants"
	apperrors "taskboard-calls/pkg/errors"
	"taskboard-calls/pkg/logger"
)

// Signaler relays negotiation messages to the remote peer
type Signaler interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, fn eventchannel.Listener) eventchannel.Subscription
	Off(sub eventchannel.Subscription)
}

// SessionDescriptionPayload carries an offer or answer
type SessionDescriptionPayload struct {
	RoomID     string                    `json:"room_id"`
	FromUserID string                    `json:"from_user_id"`
	SDP        webrtc.SessionDescription `json:"sdp"`
}

// ICECandidatePayload carries one trickled candidate
type ICECandidatePayload struct {
	RoomID     string                  `json:"room_id"`
	FromUserID string                  `json:"from_user_id"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

// PionOptions configures a PionController
type PionOptions struct {
	ICEServers  []webrtc.ICEServer
	Signaler    Signaler
	EmitTimeout time.Duration
}

// PionController runs media sessions on pion/webrtc
type PionController struct {
	api         *webrtc.API
	config      webrtc.Configuration
	signaler    Signaler
	emitTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	session *pionSession
}

// NewPionController builds the media engine and interceptor chain
func NewPionController(opts PionOptions) (*PionController, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, apperrors.MediaError(err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, apperrors.MediaError(err)
	}

	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = constants.EmitTimeout
	}

	return &PionController{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
		),
		config:      webrtc.Configuration{ICEServers: opts.ICEServers},
		signaler:    opts.Signaler,
		emitTimeout: opts.EmitTimeout,
		log:         logger.Named("media"),
	}, nil
}

// Start opens a peer connection for req.RoomID. Starting the room that is
// already running returns the existing session; any other running session is closed first.
func (c *PionController) Start(ctx context.Context, req StartRequest) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if c.session.roomID == req.RoomID {
			return c.session, nil
		}
		c.log.Warn("Replacing media session for another room",
			zap.String("old_room_id", c.session.roomID),
			zap.String("room_id", req.RoomID),
		)
		c.session.close()
		c.session = nil
	}

	s, err := c.newSession(req)
	if err != nil {
		return nil, apperrors.MediaError(err)
	}
	if req.Initiator {
		if err := s.offer(ctx); err != nil {
			s.close()
			return nil, apperrors.MediaError(err)
		}
	}
	c.session = s

	c.log.Info("Media session started",
		zap.String("room_id", req.RoomID),
		zap.String("call_type", string(req.CallType)),
		zap.Bool("initiator", req.Initiator),
	)
	return s, nil
}

// Stop closes the running session, if any
func (c *PionController) Stop() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	c.log.Info("Media session stopped", zap.String("room_id", s.roomID))
	return s.close()
}

// Current returns the running session or nil
func (c *PionController) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session
}

type remoteStream struct {
	userID string
	tracks int
	kinds  map[string]struct{}
}

type pionSession struct {
	roomID       string
	localUserID  string
	remoteUserID string
	streamID     string
	pc           *webrtc.PeerConnection
	signaler     Signaler
	events       Events
	emitTimeout  time.Duration
	log          *zap.Logger

	audioTrack  *webrtc.TrackLocalStaticSample
	videoTrack  *webrtc.TrackLocalStaticSample
	screenTrack *webrtc.TrackLocalStaticSample
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	mu         sync.Mutex
	controls   ControlState
	remote     map[string]*remoteStream
	candidates []webrtc.ICECandidateInit
	connected  bool
	closed     bool
	subs       []eventchannel.Subscription
}

func (c *PionController) newSession(req StartRequest) (*pionSession, error) {
	pc, err := c.api.NewPeerConnection(c.config)
	if err != nil {
		return nil, err
	}

	s := &pionSession{
		roomID:       req.RoomID,
		localUserID:  req.LocalUserID,
		remoteUserID: req.RemoteUserID,
		streamID:     "stream-" + req.LocalUserID,
		pc:           pc,
		signaler:     c.signaler,
		events:       req.Events,
		emitTimeout:  c.emitTimeout,
		log:          c.log.With(zap.String("room_id", req.RoomID)),
		remote:       make(map[string]*remoteStream),
	}
	if s.events == nil {
		s.events = nopEvents{}
	}

	if err := s.addLocalTracks(req.CallType); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(s.onICECandidate)
	pc.OnConnectionStateChange(s.onConnectionState)
	pc.OnTrack(s.onTrack)

	if s.signaler != nil {
		s.subs = []eventchannel.Subscription{
			s.signaler.On(domain.EventWebRTCOffer, s.onOffer),
			s.signaler.On(domain.EventWebRTCAnswer, s.onAnswer),
			s.signaler.On(domain.EventWebRTCICECandidate, s.onRemoteCandidate),
		}
	}
	return s, nil
}

func (s *pionSession) addLocalTracks(callType domain.CallType) error {
	var err error
	s.audioTrack, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", s.streamID,
	)
	if err != nil {
		return err
	}
	if s.audioSender, err = s.pc.AddTrack(s.audioTrack); err != nil {
		return err
	}
	go drainRTCP(s.audioSender)

	if callType != domain.CallTypeVideo {
		return nil
	}

	vp8 := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	if s.videoTrack, err = webrtc.NewTrackLocalStaticSample(vp8, "video", s.streamID); err != nil {
		return err
	}
	if s.screenTrack, err = webrtc.NewTrackLocalStaticSample(vp8, "screen", s.streamID); err != nil {
		return err
	}
	if s.videoSender, err = s.pc.AddTrack(s.videoTrack); err != nil {
		return err
	}
	go drainRTCP(s.videoSender)
	s.controls.VideoEnabled = true
	return nil
}

// drainRTCP reads sender reports so interceptors keep running
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *pionSession) offer(ctx context.Context) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return s.emit(ctx, domain.EventWebRTCOffer, SessionDescriptionPayload{
		RoomID:     s.roomID,
		FromUserID: s.localUserID,
		SDP:        offer,
	})
}

func (s *pionSession) emit(ctx context.Context, event string, payload any) error {
	if s.signaler == nil {
		return apperrors.NotConnectedError()
	}
	ctx, cancel := context.WithTimeout(ctx, s.emitTimeout)
	defer cancel()
	if err := s.signaler.Emit(ctx, event, payload); err != nil {
		s.log.Warn("Failed to relay negotiation message", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (s *pionSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *pionSession) fail(err error) {
	if s.isClosed() {
		return
	}
	s.log.Error("Media session failed", zap.Error(err))
	s.events.MediaFailed(s.roomID, err)
}

func (s *pionSession) onICECandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil || s.isClosed() {
		return
	}
	s.emit(context.Background(), domain.EventWebRTCICECandidate, ICECandidatePayload{
		RoomID:     s.roomID,
		FromUserID: s.localUserID,
		Candidate:  candidate.ToJSON(),
	})
}

func (s *pionSession) onConnectionState(state webrtc.PeerConnectionState) {
	s.log.Debug("Peer connection state changed", zap.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		first := !s.closed && !s.connected
		s.connected = true
		s.mu.Unlock()
		if first {
			s.events.MediaConnected(s.roomID)
		}
	case webrtc.PeerConnectionStateFailed:
		s.fail(errors.New("peer connection failed"))
	}
}

func (s *pionSession) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	userID := s.remoteUserID
	if userID == "" {
		userID = track.StreamID()
	}
	kind := track.Kind().String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rs, exists := s.remote[track.StreamID()]
	if !exists {
		rs = &remoteStream{userID: userID, kinds: make(map[string]struct{})}
		s.remote[track.StreamID()] = rs
	}
	rs.tracks++
	rs.kinds[kind] = struct{}{}
	s.mu.Unlock()

	if !exists {
		s.events.RemoteStreamAdded(s.roomID, userID)
	}

	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			break
		}
	}

	s.mu.Lock()
	rs.tracks--
	gone := rs.tracks == 0
	if gone {
		delete(s.remote, track.StreamID())
	}
	closed := s.closed
	s.mu.Unlock()

	if gone && !closed {
		s.events.RemoteStreamRemoved(s.roomID, userID)
	}
}

func (s *pionSession) onOffer(data json.RawMessage) {
	var p SessionDescriptionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID != s.roomID || p.FromUserID == s.localUserID {
		return
	}
	if s.isClosed() {
		return
	}
	if err := s.pc.SetRemoteDescription(p.SDP); err != nil {
		s.fail(err)
		return
	}
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		s.fail(err)
		return
	}
	s.emit(context.Background(), domain.EventWebRTCAnswer, SessionDescriptionPayload{
		RoomID:     s.roomID,
		FromUserID: s.localUserID,
		SDP:        answer,
	})
}

func (s *pionSession) onAnswer(data json.RawMessage) {
	var p SessionDescriptionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID != s.roomID || p.FromUserID == s.localUserID {
		return
	}
	if s.isClosed() {
		return
	}
	if err := s.pc.SetRemoteDescription(p.SDP); err != nil {
		s.fail(err)
		return
	}
	s.flushCandidates()
}

func (s *pionSession) onRemoteCandidate(data json.RawMessage) {
	var p ICECandidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID != s.roomID || p.FromUserID == s.localUserID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pc.RemoteDescription() == nil {
		s.candidates = append(s.candidates, p.Candidate)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(p.Candidate); err != nil {
		s.log.Debug("Rejected remote candidate", zap.Error(err))
	}
}

func (s *pionSession) flushCandidates() {
	s.mu.Lock()
	pending := s.candidates
	s.candidates = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Debug("Rejected queued candidate", zap.Error(err))
		}
	}
}

func (s *pionSession) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.signaler.Off(sub)
	}
	return s.pc.Close()
}

func (s *pionSession) RoomID() string {
	return s.roomID
}

func (s *pionSession) LocalStream() Stream {
	kinds := []string{"audio"}
	if s.videoSender != nil {
		kinds = append(kinds, "video")
	}
	return Stream{ID: s.streamID, UserID: s.localUserID, Kinds: kinds}
}

func (s *pionSession) RemoteStreams() []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stream, 0, len(s.remote))
	for id, rs := range s.remote {
		kinds := make([]string, 0, len(rs.kinds))
		for k := range rs.kinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		out = append(out, Stream{ID: id, UserID: rs.userID, Kinds: kinds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *pionSession) Controls() ControlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls
}

func (s *pionSession) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var track webrtc.TrackLocal
	if !muted {
		track = s.audioTrack
	}
	if err := s.audioSender.ReplaceTrack(track); err != nil {
		return apperrors.MediaError(err)
	}
	s.controls.Muted = muted
	return nil
}

func (s *pionSession) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.videoSender == nil {
		return apperrors.InvalidStateError("Video is not available in an audio call")
	}
	if err := s.videoSender.ReplaceTrack(s.videoSourceLocked(enabled, s.controls.ScreenSharing)); err != nil {
		return apperrors.MediaError(err)
	}
	s.controls.VideoEnabled = enabled
	return nil
}

func (s *pionSession) SetScreenShare(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.videoSender == nil {
		return apperrors.InvalidStateError("Screen sharing is not available in an audio call")
	}
	if err := s.videoSender.ReplaceTrack(s.videoSourceLocked(s.controls.VideoEnabled || enabled, enabled)); err != nil {
		return apperrors.MediaError(err)
	}
	s.controls.ScreenSharing = enabled
	if enabled {
		s.controls.VideoEnabled = true
	}
	return nil
}

// videoSourceLocked picks the track for the video sender; nil sends nothing
func (s *pionSession) videoSourceLocked(enabled, screen bool) webrtc.TrackLocal {
	switch {
	case !enabled:
		return nil
	case screen:
		return s.screenTrack
	default:
		return s.videoTrack
	}
}

type nopEvents struct{}

func (nopEvents) MediaConnected(string)              {}
func (nopEvents) RemoteStreamAdded(string, string)   {}
func (nopEvents) RemoteStreamRemoved(string, string) {}
func (nopEvents) MediaFailed(string, error)          {}
