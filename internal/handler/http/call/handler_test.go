package call

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/media"
	"taskboard-calls/internal/notify"
	"taskboard-calls/internal/signaling"
	"taskboard-calls/internal/store"
	apperrors "taskboard-calls/pkg/errors"
	"taskboard-calls/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockCalls is a mock implementation of Calls
type MockCalls struct {
	mock.Mock
}

func (m *MockCalls) Initiate(ctx context.Context, req signaling.InitiateRequest) (*domain.CallSession, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*domain.CallSession)
	return s, args.Error(1)
}

func (m *MockCalls) Accept(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockCalls) Reject(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockCalls) End(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *MockCalls) SetMuted(v bool) error            { return m.Called(v).Error(0) }
func (m *MockCalls) SetVideoEnabled(v bool) error     { return m.Called(v).Error(0) }
func (m *MockCalls) SetScreenShare(v bool) error      { return m.Called(v).Error(0) }

func (m *MockCalls) MediaControls() (media.ControlState, bool) {
	args := m.Called()
	return args.Get(0).(media.ControlState), args.Bool(1)
}

func (m *MockCalls) Available() bool {
	return m.Called().Bool(0)
}

type fixedConnection domain.ConnectionStatus

func (f fixedConnection) Status() domain.ConnectionStatus { return domain.ConnectionStatus(f) }

type fixture struct {
	calls  *MockCalls
	store  *store.Store
	hub    *notify.Hub
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		calls: new(MockCalls),
		store: store.New(clock.NewMock()),
		hub:   notify.NewHub(8, nil),
	}
	f.calls.On("Available").Return(true).Maybe()
	f.calls.On("MediaControls").Return(media.ControlState{}, false).Maybe()

	f.router = gin.New()
	NewHandler(f.calls, f.store, fixedConnection(domain.ConnectionDisconnected), f.hub).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) response.Response {
	t.Helper()
	var resp response.Response
	if data != nil {
		resp.Data = data
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetCall_Idle(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/call", "")

	require.Equal(t, http.StatusOK, w.Code)
	var view CallView
	resp := decode(t, w, &view)
	assert.True(t, resp.Success)
	assert.Equal(t, domain.StatusIdle, view.Status)
	assert.Equal(t, domain.ConnectionDisconnected, view.Connection)
	assert.True(t, view.Available)
	assert.Nil(t, view.Session)
	assert.False(t, view.Ringing)
	assert.False(t, view.InCall)
}

func TestGetCall_Ringing(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.store.SetIncomingCall(domain.IncomingCallPayload{
		RoomID:     "r1",
		CallType:   domain.CallTypeAudio,
		CallerID:   "alice",
		ReceiverID: "me",
	}))

	w := f.do(http.MethodGet, "/v1/call", "")

	require.Equal(t, http.StatusOK, w.Code)
	var view CallView
	decode(t, w, &view)
	assert.Equal(t, domain.StatusRingingIncoming, view.Status)
	assert.True(t, view.Ringing)
	assert.True(t, view.InCall)
	require.NotNil(t, view.Session)
	assert.Equal(t, "r1", view.Session.RoomID)
}

func TestInitiate(t *testing.T) {
	f := newFixture(t)

	// Setup expectations
	f.calls.On("Initiate", mock.Anything, signaling.InitiateRequest{ReceiverID: "bob", CallType: domain.CallTypeVideo}).
		Return(&domain.CallSession{RequestID: "req-1", Status: domain.StatusRingingOutgoing}, nil)

	// Execute
	w := f.do(http.MethodPost, "/v1/call/initiate", `{"receiver_id":"bob","call_type":"video"}`)

	// Assert
	require.Equal(t, http.StatusAccepted, w.Code)
	var session domain.CallSession
	decode(t, w, &session)
	assert.Equal(t, "req-1", session.RequestID)
	f.calls.AssertExpectations(t)
}

func TestInitiate_MissingReceiver(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/call/initiate", `{"call_type":"audio"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.calls.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestActions_MapErrors(t *testing.T) {
	tests := []struct {
		path   string
		method string
		err    error
		status int
		code   string
	}{
		{"/v1/call/accept", "Accept", apperrors.NoActiveCallError(), http.StatusNotFound, "NO_ACTIVE_CALL"},
		{"/v1/call/reject", "Reject", apperrors.InvalidStateError("No incoming call is ringing"), http.StatusConflict, "INVALID_STATE"},
		{"/v1/call/end", "End", apperrors.CallUnavailableError(), http.StatusServiceUnavailable, "CALL_FEATURES_UNAVAILABLE"},
		{"/v1/call/end", "End", nil, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.code, func(t *testing.T) {
			f := newFixture(t)
			f.calls.On(tt.method, mock.Anything).Return(tt.err)

			w := f.do(http.MethodPost, tt.path, "")

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w, nil)
			if tt.code != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.code, resp.Error.Code)
			} else {
				assert.True(t, resp.Success)
			}
		})
	}
}

func TestMediaToggle(t *testing.T) {
	f := newFixture(t)
	f.calls.ExpectedCalls = nil
	f.calls.On("SetMuted", true).Return(nil)
	f.calls.On("MediaControls").Return(media.ControlState{Muted: true}, true)

	w := f.do(http.MethodPost, "/v1/call/media/mute", `{"enabled":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	var controls media.ControlState
	decode(t, w, &controls)
	assert.True(t, controls.Muted)
}

func TestMediaToggle_RequiresEnabled(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/call/media/video", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_StreamsStateAndNotices(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/call/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitEvent := func(name string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %s", name)
				if line == "event:"+name {
					data := <-lines
					return strings.TrimPrefix(data, "data:")
				}
			case <-deadline:
				t.Fatalf("no %s event", name)
			}
		}
	}

	initial := waitEvent("state")
	assert.Contains(t, initial, `"status":"IDLE"`)

	f.store.SetIncomingCall(domain.IncomingCallPayload{RoomID: "r1", CallType: domain.CallTypeAudio, CallerID: "alice", ReceiverID: "me"})
	ringing := waitEvent("state")
	assert.Contains(t, ringing, `"status":"RINGING_INCOMING"`)

	f.hub.Show(domain.NoticeCallEnded, "r1", "Call with Alice ended")
	notice := waitEvent("notice")
	var n domain.Notice
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(notice)).Decode(&n))
	assert.Equal(t, domain.NoticeCallEnded, n.Kind)
}
