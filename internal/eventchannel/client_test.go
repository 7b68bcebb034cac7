package eventchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "taskboard-calls/pkg/errors"
)

type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []Envelope
	auth     []string
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		ts.mu.Unlock()

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			ts.mu.Lock()
			ts.received = append(ts.received, env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func (ts *testServer) push(t *testing.T, event string, data any) {
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func (ts *testServer) receivedEvents() []Envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Envelope(nil), ts.received...)
}

func (c *Client) listenerCount(event string) int {
	c.listenMu.RLock()
	defer c.listenMu.RUnlock()
	return len(c.listeners[event])
}

func startClient(t *testing.T, ts *testServer) (*Client, context.CancelFunc) {
	return startClientWithToken(t, ts, func() string { return "tok-123" })
}

func startClientWithToken(t *testing.T, ts *testServer, token func() string) (*Client, context.CancelFunc) {
	client := NewClient(Options{
		URL:        ts.wsURL(),
		TokenFunc:  token,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond, "client never connected")
	return client, cancel
}

func TestEmit_NotConnected(t *testing.T) {
	client := NewClient(Options{URL: "ws://127.0.0.1:1"})

	err := client.Emit(context.Background(), "end_call", map[string]string{"room_id": "r1"})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
	assert.False(t, client.Connected())
}

func TestEmit_InvalidPayload(t *testing.T) {
	client := NewClient(Options{URL: "ws://127.0.0.1:1"})

	err := client.Emit(context.Background(), "end_call", make(chan int))

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPayload))
}

func TestEmit_Delivered(t *testing.T) {
	ts := newTestServer(t)
	client, _ := startClient(t, ts)

	require.NoError(t, client.Emit(context.Background(), "reject_call", map[string]string{
		"room_id": "r1",
		"user_id": "me",
	}))

	require.Eventually(t, func() bool { return len(ts.receivedEvents()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := ts.receivedEvents()[0]
	assert.Equal(t, "reject_call", got.Event)
	assert.JSONEq(t, `{"room_id":"r1","user_id":"me"}`, string(got.Data))

	ts.mu.Lock()
	assert.Equal(t, "Bearer tok-123", ts.auth[0])
	ts.mu.Unlock()
}

func TestOnOff(t *testing.T) {
	ts := newTestServer(t)
	client, _ := startClient(t, ts)

	var mu sync.Mutex
	var first, second []string
	subFirst := client.On("call_ended", func(data json.RawMessage) {
		var p struct {
			RoomID string `json:"room_id"`
		}
		json.Unmarshal(data, &p)
		mu.Lock()
		first = append(first, p.RoomID)
		mu.Unlock()
	})
	client.On("call_ended", func(data json.RawMessage) {
		mu.Lock()
		second = append(second, string(data))
		mu.Unlock()
	})
	assert.Equal(t, 2, client.listenerCount("call_ended"))

	ts.push(t, "call_ended", map[string]string{"room_id": "r1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 1
	}, 2*time.Second, 10*time.Millisecond)

	client.Off(subFirst)
	client.Off(subFirst)
	client.Off(Subscription{})
	assert.Equal(t, 1, client.listenerCount("call_ended"))

	ts.push(t, "call_ended", map[string]string{"room_id": "r2"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(second) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"r1"}, first)
}

func TestReconnects(t *testing.T) {
	ts := newTestServer(t)
	client, _ := startClient(t, ts)

	var mu sync.Mutex
	var states []bool
	remove := client.OnStateChange(func(connected bool) {
		mu.Lock()
		states = append(states, connected)
		mu.Unlock()
	})
	defer remove()

	ts.mu.Lock()
	ts.conns[0].Close()
	ts.mu.Unlock()

	require.Eventually(t, func() bool { return ts.connCount() >= 2 && client.Connected() }, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 2)
	assert.False(t, states[0])
	assert.True(t, states[len(states)-1])
}

func TestReconnect_RedialsWithCurrentToken(t *testing.T) {
	ts := newTestServer(t)
	var mu sync.Mutex
	token := "tok-1"
	client, _ := startClientWithToken(t, ts, func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	})

	mu.Lock()
	token = "tok-2"
	mu.Unlock()
	require.True(t, client.Reconnect())

	require.Eventually(t, func() bool { return ts.connCount() == 2 && client.Connected() }, 3*time.Second, 10*time.Millisecond)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, ts.auth)
}

func TestReconnect_NotConnected(t *testing.T) {
	client := NewClient(Options{URL: "ws://127.0.0.1:1"})

	assert.False(t, client.Reconnect())
}

func TestRun_StopsOnCancel(t *testing.T) {
	ts := newTestServer(t)
	client := NewClient(Options{URL: ts.wsURL()})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()
	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, client.Connected())
}
