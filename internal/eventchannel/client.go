// Package eventchannel is the persistent, auto-reconnecting signaling connection.
package eventchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"taskboard-calls/pkg/constants"
	apperrors "taskboard-calls/pkg/errors"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/metrics"
)

// Envelope is the wire frame for every event
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Listener receives the raw data of one event
type Listener func(data json.RawMessage)

// Subscription identifies a registered listener. The zero value is inert.
type Subscription struct {
	Event string
	ID    uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Options configures a Client
type Options struct {
	URL string
	// TokenFunc supplies the bearer token for each handshake
	TokenFunc  func() string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	SendBuffer int
	Metrics    *metrics.Metrics
}

// Client is the Event Channel Client
type Client struct {
	opts Options
	log  *zap.Logger

	listenMu  sync.RWMutex
	listeners map[string][]listenerEntry
	nextID    uint64

	connMu  sync.RWMutex
	current *connection

	connected atomic.Bool
	stateMu   sync.Mutex
	stateFns  map[uint64]func(bool)
	nextState uint64
}

type connection struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// NewClient creates a disconnected client; call Run to connect
func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = constants.ReconnectMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = constants.ReconnectMaxBackoff
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = constants.WebSocketSendBuffer
	}
	return &Client{
		opts:      opts,
		log:       logger.Named("event-channel"),
		listeners: make(map[string][]listenerEntry),
		stateFns:  make(map[uint64]func(bool)),
	}
}

// Run dials and keeps the connection alive until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	backoff := c.newBackoff()
	for {
		served, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if served {
			backoff = c.newBackoff()
		}

		delay, _ := backoff.Next()
		c.log.Warn("Event channel disconnected, redialing",
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)
		c.opts.Metrics.RecordReconnect()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.opts.MinBackoff)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(c.opts.MaxBackoff, b)
}

// connectAndServe reports whether a connection was established before it failed
func (c *Client) connectAndServe(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.opts.TokenFunc != nil {
		if token := c.opts.TokenFunc(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}

	conn := &connection{
		ws:   ws,
		send: make(chan []byte, c.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c.setConnection(conn)
	c.log.Info("Event channel connected", zap.String("url", c.opts.URL))

	go func() {
		select {
		case <-ctx.Done():
			conn.close()
		case <-conn.done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(conn)
	}()

	err = c.readPump(conn)
	conn.close()
	wg.Wait()
	c.setConnection(nil)
	return true, err
}

func (c *Client) setConnection(conn *connection) {
	c.connMu.Lock()
	c.current = conn
	c.connMu.Unlock()

	connected := conn != nil
	if c.connected.Swap(connected) == connected {
		return
	}
	c.opts.Metrics.SetChannelConnected(connected)

	c.stateMu.Lock()
	fns := make([]func(bool), 0, len(c.stateFns))
	for _, fn := range c.stateFns {
		fns = append(fns, fn)
	}
	c.stateMu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (c *Client) readPump(conn *connection) error {
	conn.ws.SetReadLimit(constants.WebSocketMaxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Event channel read failed", zap.Error(err))
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.log.Warn("Invalid frame on event channel", zap.Error(err), zap.Int("size", len(message)))
			continue
		}
		c.opts.Metrics.RecordSignal(env.Event, metrics.DirectionInbound)
		c.dispatch(env)
	}
}

func (c *Client) writePump(conn *connection) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			conn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(constants.WebSocketWriteWait))
			return

		case message := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Event channel write failed", zap.Error(err))
				conn.close()
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		}
	}
}

// dispatch runs the listeners for env in registration order on the read goroutine
func (c *Client) dispatch(env Envelope) {
	c.listenMu.RLock()
	entries := append([]listenerEntry(nil), c.listeners[env.Event]...)
	c.listenMu.RUnlock()

	for _, e := range entries {
		e.fn(env.Data)
	}
}

// Emit queues an event for delivery. It never blocks on the network.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return apperrors.TransportError(err)
	}

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperrors.InvalidPayloadError(event, err)
		}
		data = raw
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return apperrors.InvalidPayloadError(event, err)
	}

	c.connMu.RLock()
	conn := c.current
	c.connMu.RUnlock()
	if conn == nil {
		return apperrors.NotConnectedError()
	}

	select {
	case <-conn.done:
		return apperrors.NotConnectedError()
	default:
	}

	select {
	case conn.send <- frame:
		c.opts.Metrics.RecordSignal(event, metrics.DirectionOutbound)
		return nil
	case <-conn.done:
		return apperrors.NotConnectedError()
	default:
		return apperrors.SendBufferFullError()
	}
}

// On registers fn for event
func (c *Client) On(event string, fn Listener) Subscription {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listenerEntry{id: id, fn: fn})
	return Subscription{Event: event, ID: id}
}

// Off removes a listener. Unknown subscriptions are ignored.
func (c *Client) Off(sub Subscription) {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	entries := c.listeners[sub.Event]
	for i, e := range entries {
		if e.id == sub.ID {
			c.listeners[sub.Event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.listeners[sub.Event]) == 0 {
		delete(c.listeners, sub.Event)
	}
}

// Connected reports whether a connection is currently live
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Reconnect drops the live connection so Run redials with a fresh token.
// It returns false when there is nothing to drop.
func (c *Client) Reconnect() bool {
	c.connMu.RLock()
	conn := c.current
	c.connMu.RUnlock()
	if conn == nil {
		return false
	}
	c.log.Info("Event channel reconnect requested")
	conn.close()
	return true
}

// OnStateChange registers fn for connect/disconnect transitions and returns a remover
func (c *Client) OnStateChange(fn func(connected bool)) func() {
	c.stateMu.Lock()
	c.nextState++
	id := c.nextState
	c.stateFns[id] = fn
	c.stateMu.Unlock()

	return func() {
		c.stateMu.Lock()
		delete(c.stateFns, id)
		c.stateMu.Unlock()
	}
}
