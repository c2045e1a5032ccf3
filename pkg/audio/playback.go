package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Sink is where decoded response audio goes. The oto speaker implements it;
// tests substitute a recorder.
type Sink interface {
	// Write enqueues PCM16 for gapless playback.
	Write(pcm []byte) error
	// Discard drops everything enqueued but not yet played.
	Discard()
	Close() error
}

// PlaybackEngine queues response audio for gapless playback and tracks an
// output level for UI metering. Interrupting halts playback immediately and
// discards the queue; resuming a cancelled response is never attempted.
type PlaybackEngine struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	level     float64
	levelAt   time.Time
	enqueued  int64
	discarded bool
}

// meterWindow is how long the last measured level stays meaningful.
const meterWindow = 250 * time.Millisecond

// NewPlaybackEngine wraps a sink.
func NewPlaybackEngine(sink Sink, logger *slog.Logger) *PlaybackEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackEngine{sink: sink, logger: logger}
}

// Enqueue appends a PCM16 chunk to the playback queue.
func (p *PlaybackEngine) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if err := p.sink.Write(pcm); err != nil {
		p.logger.Warn("playback write failed", "error", err)
		return
	}
	p.mu.Lock()
	p.level = RMS(pcm)
	p.levelAt = time.Now()
	p.enqueued += int64(len(pcm))
	p.discarded = false
	p.mu.Unlock()
}

// Interrupt halts playback and discards all queued audio. Called when the
// user starts speaking over the assistant.
func (p *PlaybackEngine) Interrupt() {
	p.mu.Lock()
	already := p.discarded
	p.discarded = true
	p.level = 0
	p.mu.Unlock()

	p.sink.Discard()
	if !already {
		p.logger.Info("playback interrupted, queue discarded")
	}
}

// Level returns the most recent output level in [0, 1], decaying to zero
// shortly after audio stops arriving.
func (p *PlaybackEngine) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	age := time.Since(p.levelAt)
	if age >= meterWindow {
		return 0
	}
	// Linear decay across the meter window.
	return clampUnit(p.level * (1 - float64(age)/float64(meterWindow)))
}

// EnqueuedBytes returns total bytes accepted since creation.
func (p *PlaybackEngine) EnqueuedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueued
}

// Close releases the sink.
func (p *PlaybackEngine) Close() error {
	return p.sink.Close()
}

// clampUnit keeps meter math inside [0, 1] even for hot input.
func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
