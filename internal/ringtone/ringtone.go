// Package ringtone owns the audible cue played while an incoming call rings.
package ringtone

import (
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"taskboard-calls/pkg/logger"
)

// Sink produces the actual sound
type Sink interface {
	Start()
	Stop()
}

// Player guards a Sink so repeated Start or Stop calls are no-ops
type Player struct {
	mu      sync.Mutex
	sink    Sink
	playing bool
}

// NewPlayer wraps sink. A nil sink plays nothing.
func NewPlayer(sink Sink) *Player {
	if sink == nil {
		sink = NopSink{}
	}
	return &Player{sink: sink}
}

// Start begins playback unless already playing and reports whether it started
func (p *Player) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return false
	}
	p.playing = true
	p.sink.Start()
	return true
}

// Stop ends playback if playing and reports whether it stopped
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return false
	}
	p.playing = false
	p.sink.Stop()
	return true
}

// Playing reports whether the ringtone is audible
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// NopSink is silent
type NopSink struct{}

func (NopSink) Start() {}
func (NopSink) Stop()  {}

// LogSink records ringing in the log only
type LogSink struct{}

func (LogSink) Start() { logger.Info("Ringtone started") }
func (LogSink) Stop()  { logger.Info("Ringtone stopped") }

// BellSink rings the terminal bell on out at a fixed interval
type BellSink struct {
	out      io.Writer
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	ticker *clock.Ticker
	done   chan struct{}
}

// NewBellSink creates a bell sink. A nil clock means wall time.
func NewBellSink(out io.Writer, interval time.Duration, clk clock.Clock) *BellSink {
	if clk == nil {
		clk = clock.New()
	}
	return &BellSink{out: out, interval: interval, clock: clk}
}

func (b *BellSink) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ticker != nil {
		return
	}
	b.ring()
	b.ticker = b.clock.Ticker(b.interval)
	b.done = make(chan struct{})
	go b.loop(b.ticker, b.done)
}

func (b *BellSink) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ticker == nil {
		return
	}
	b.ticker.Stop()
	close(b.done)
	b.ticker = nil
}

func (b *BellSink) loop(ticker *clock.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.ticker == ticker {
				b.ring()
			}
			b.mu.Unlock()
		}
	}
}

func (b *BellSink) ring() {
	if _, err := b.out.Write([]byte("\a")); err != nil {
		logger.Debug("Ringtone write failed", zap.Error(err))
	}
}
