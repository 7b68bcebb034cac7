package supervisor

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard-calls/internal/domain"
	"taskboard-calls/internal/store"
	"taskboard-calls/pkg/metrics"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		status  domain.CallStatus
		streams int
		want    domain.ConnectionStatus
	}{
		{domain.StatusActive, 1, domain.ConnectionConnected},
		{domain.StatusActive, 3, domain.ConnectionConnected},
		{domain.StatusActive, 0, domain.ConnectionReconnecting},
		{domain.StatusConnecting, 1, domain.ConnectionDisconnected},
		{domain.StatusRingingIncoming, 0, domain.ConnectionDisconnected},
		{domain.StatusIdle, 0, domain.ConnectionDisconnected},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.status, tt.streams))
		})
	}
}

func activeCall(t *testing.T, st *store.Store) {
	require.True(t, st.SetIncomingCall(domain.IncomingCallPayload{
		RoomID:     "r1",
		CallType:   domain.CallTypeVideo,
		CallerID:   "alice",
		ReceiverID: "me",
	}))
	require.True(t, st.AcceptCall())
	require.True(t, st.MarkActive("r1"))
}

// A remote stream dropping while the call stays ACTIVE reads as reconnecting.
func TestSupervisor_RemoteStreamDrop(t *testing.T) {
	st := store.New(clock.NewMock())
	sup := New(st, metrics.NewMetrics("test"), clock.NewMock())
	defer sup.Close()

	var seen []domain.ConnectionStatus
	sup.OnChange(func(c domain.ConnectionStatus) { seen = append(seen, c) })

	activeCall(t, st)
	assert.Equal(t, domain.ConnectionReconnecting, sup.Status(), "active before media arrives")

	st.UpdateParticipantStatus("alice", domain.ParticipantConnected)
	assert.Equal(t, domain.ConnectionConnected, sup.Status())

	st.UpdateParticipantStatus("alice", domain.ParticipantDisconnected)
	assert.Equal(t, domain.ConnectionReconnecting, sup.Status())

	st.EndCall("r1")
	assert.Equal(t, domain.ConnectionDisconnected, sup.Status())

	assert.Equal(t, []domain.ConnectionStatus{
		domain.ConnectionReconnecting,
		domain.ConnectionConnected,
		domain.ConnectionReconnecting,
		domain.ConnectionDisconnected,
	}, seen)
}

func TestSupervisor_TracksStoreWithoutLocalState(t *testing.T) {
	st := store.New(clock.NewMock())
	sup := New(st, nil, nil)
	sup.Close()

	activeCall(t, st)

	assert.Equal(t, domain.ConnectionReconnecting, sup.Status(), "status is always recomputed from the store")
}
