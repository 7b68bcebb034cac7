package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/constants"
	"taskboard-calls/pkg/metrics"
)

// MockListWriter is a mock implementation of ListWriter
type MockListWriter struct {
	mock.Mock
}

func (m *MockListWriter) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, values)
	return redis.NewIntResult(1, args.Error(0))
}

func (m *MockListWriter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, expiration)
	return redis.NewBoolResult(true, args.Error(0))
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "calls:history:2026-03-09", Key(at))
}

func TestRecord(t *testing.T) {
	mockRedis := new(MockListWriter)
	mockClock := clock.NewMock()
	recorder := NewRecorder(mockRedis, mockClock, nil)

	key := Key(mockClock.Now())
	var stored []byte

	// Setup expectations
	mockRedis.On("LPush", mock.Anything, key, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(2).([]interface{})[0].([]byte)
		}).
		Return(nil)
	mockRedis.On("Expire", mock.Anything, key, constants.HistoryRetention).Return(nil)

	// Execute
	err := recorder.Record(context.Background(), &Entry{RoomID: "r1", Outcome: domain.OutcomeEnded})

	// Assert
	require.NoError(t, err)
	mockRedis.AssertExpectations(t)

	var got Entry
	require.NoError(t, json.Unmarshal(stored, &got))
	assert.Equal(t, "r1", got.RoomID)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, mockClock.Now().UTC(), got.EndedAt)
}

func TestRecord_PushFails(t *testing.T) {
	mockRedis := new(MockListWriter)
	recorder := NewRecorder(mockRedis, clock.NewMock(), nil)

	mockRedis.On("LPush", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	err := recorder.Record(context.Background(), &Entry{RoomID: "r1"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	mockRedis.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything, mock.Anything)
}

func TestObserve_RecordsTerminatedCalls(t *testing.T) {
	mockRedis := new(MockListWriter)
	mockClock := clock.NewMock()
	recorder := NewRecorder(mockRedis, mockClock, metrics.NewMetrics("test"))

	var stored []byte
	mockRedis.On("LPush", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(2).([]interface{})[0].([]byte)
		}).
		Return(nil)
	mockRedis.On("Expire", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	s := store.New(mockClock)
	s.Subscribe(recorder.Observe)

	s.SetIncomingCall(domain.IncomingCallPayload{
		RoomID:     "r1",
		CallType:   domain.CallTypeVideo,
		CallerID:   "alice",
		CallerName: "Alice",
		ReceiverID: "me",
	})
	s.AcceptCall()
	s.MarkActive("r1")
	mockClock.Add(90 * time.Second)
	s.EndCall("r1")
	recorder.Wait()

	mockRedis.AssertNumberOfCalls(t, "LPush", 1)
	var got Entry
	require.NoError(t, json.Unmarshal(stored, &got))
	assert.Equal(t, "r1", got.RoomID)
	assert.Equal(t, "alice", got.PeerID)
	assert.Equal(t, domain.OutcomeEnded, got.Outcome)
	assert.Equal(t, domain.StatusEnded, got.Status)
	assert.Equal(t, domain.DirectionIncoming, got.Direction)
	assert.InDelta(t, 90.0, got.DurationSeconds, 0.001)
}

func TestObserve_IgnoresNonTerminalChanges(t *testing.T) {
	mockRedis := new(MockListWriter)
	recorder := NewRecorder(mockRedis, clock.NewMock(), nil)

	recorder.Observe(store.Change{Action: store.ActionAcceptCall})
	recorder.Wait()

	mockRedis.AssertNotCalled(t, "LPush", mock.Anything, mock.Anything, mock.Anything)
}
