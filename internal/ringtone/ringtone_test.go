package ringtone

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	starts, stops int
}

func (s *countingSink) Start() { s.starts++ }
func (s *countingSink) Stop()  { s.stops++ }

func TestPlayer_Idempotent(t *testing.T) {
	sink := &countingSink{}
	p := NewPlayer(sink)

	assert.False(t, p.Stop(), "stopping a silent player is a no-op")
	assert.True(t, p.Start())
	assert.False(t, p.Start(), "starting twice does not double-play")
	assert.True(t, p.Playing())
	assert.True(t, p.Stop())
	assert.False(t, p.Stop())

	assert.Equal(t, 1, sink.starts)
	assert.Equal(t, 1, sink.stops)
	assert.False(t, p.Playing())
}

func TestPlayer_NilSink(t *testing.T) {
	p := NewPlayer(nil)
	assert.NotPanics(t, func() {
		p.Start()
		p.Stop()
	})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestBellSink_RingsUntilStopped(t *testing.T) {
	mock := clock.NewMock()
	out := &syncBuffer{}
	sink := NewBellSink(out, 2*time.Second, mock)

	sink.Start()
	sink.Start()
	assert.Equal(t, 1, out.Len(), "rings immediately once")

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return out.Len() == 2 }, time.Second, 5*time.Millisecond)

	sink.Stop()
	sink.Stop()
	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, out.Len())
}
