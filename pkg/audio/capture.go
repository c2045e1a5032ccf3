package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/screenvox/screenvox/pkg/core"
)

// Device abstracts a microphone. Open delivers raw PCM16 frames on the
// implementation's own callback goroutine until Close.
type Device interface {
	Open(sampleRateHz int, onFrames func(pcm []byte)) error
	Close() error
}

// DeviceFactory builds a fresh Device. The capture engine opens a new
// device context per session rather than reusing one across sessions;
// stale contexts are a common source of silent captures after suspend.
type DeviceFactory func() (Device, error)

// CaptureConfig tunes the capture engine.
type CaptureConfig struct {
	// SampleRateHz is the capture rate requested from the device.
	SampleRateHz int

	// ChunkSamples is the fixed chunk size handed downstream. Chunks are
	// emitted only when full; a shorter remainder flushes at Stop.
	ChunkSamples int

	// SilenceThreshold is the normalized RMS below which a frame counts
	// as silent.
	SilenceThreshold float64

	// HangoverChunks is how many consecutive silent chunks are still
	// forwarded before the gate closes. Biased toward over-inclusion so
	// trailing syllables and short pauses are never clipped.
	HangoverChunks int

	// RMSWindowChunks is the length of the rolling window the gate
	// averages RMS over. A window longer than one chunk keeps brief dips
	// between words from counting as silence.
	RMSWindowChunks int

	Logger *slog.Logger
}

func (c *CaptureConfig) defaults() {
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = 16000
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 1024
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.01
	}
	if c.HangoverChunks <= 0 {
		c.HangoverChunks = 10
	}
	if c.RMSWindowChunks <= 0 {
		c.RMSWindowChunks = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// CaptureEngine accumulates microphone frames into fixed-size PCM16 chunks
// and gates sustained silence so idle air time is not streamed.
type CaptureEngine struct {
	cfg     CaptureConfig
	factory DeviceFactory
	chunks  chan []byte

	// recording gates the device callback. Callbacks landing after Stop
	// flipped it are dropped whole, so nothing is emitted after Stop
	// returns.
	recording atomic.Bool

	mu        sync.Mutex
	device    Device
	running   bool
	starting  bool
	stopAfter bool

	// Chunk assembly state, touched only from the device callback.
	frameMu   sync.Mutex
	pending   []byte
	levels    []float64
	silentRun int
	gated     bool
}

// NewCaptureEngine creates a stopped engine. Chunks() yields captured audio
// once Start succeeds.
func NewCaptureEngine(factory DeviceFactory, cfg CaptureConfig) *CaptureEngine {
	cfg.defaults()
	return &CaptureEngine{
		cfg:     cfg,
		factory: factory,
		chunks:  make(chan []byte, 64),
	}
}

// Chunks yields fixed-size PCM16 chunks. The channel stays open across
// start/stop cycles.
func (e *CaptureEngine) Chunks() <-chan []byte {
	return e.chunks
}

// SampleRateHz returns the capture rate.
func (e *CaptureEngine) SampleRateHz() int {
	return e.cfg.SampleRateHz
}

// Start opens a fresh device and begins capturing. Calling Start while
// already capturing is a no-op.
func (e *CaptureEngine) Start() error {
	e.mu.Lock()
	if e.running || e.starting {
		e.mu.Unlock()
		return nil
	}
	e.starting = true
	e.stopAfter = false
	e.mu.Unlock()

	e.frameMu.Lock()
	e.pending = e.pending[:0]
	e.levels = e.levels[:0]
	e.silentRun = 0
	e.gated = false
	e.frameMu.Unlock()

	// The device may begin delivering frames inside Open.
	e.recording.Store(true)

	device, err := e.factory()
	if err == nil {
		err = device.Open(e.cfg.SampleRateHz, e.onFrames)
	}
	if err != nil {
		e.recording.Store(false)
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return core.NewPermissionError("open microphone: " + err.Error())
	}

	e.mu.Lock()
	e.device = device
	e.running = true
	e.starting = false
	deferred := e.stopAfter
	e.stopAfter = false
	e.mu.Unlock()

	e.cfg.Logger.Info("microphone capture started", "sample_rate", e.cfg.SampleRateHz)

	// A Stop that raced the start runs now rather than being lost.
	if deferred {
		e.Stop()
	}
	return nil
}

// Stop closes the device and flushes any partial chunk. A Stop issued while
// a Start is still in progress is queued behind it. Safe when not running.
func (e *CaptureEngine) Stop() {
	e.mu.Lock()
	if e.starting {
		e.stopAfter = true
		e.mu.Unlock()
		return
	}
	if !e.running {
		e.mu.Unlock()
		return
	}
	device := e.device
	e.device = nil
	e.running = false
	e.mu.Unlock()

	// In-flight callbacks see the flag before the device is torn down.
	e.recording.Store(false)

	if device != nil {
		if err := device.Close(); err != nil {
			e.cfg.Logger.Warn("close microphone", "error", err)
		}
	}

	e.frameMu.Lock()
	remainder := e.pending
	e.pending = nil
	e.frameMu.Unlock()
	if len(remainder) > 0 {
		e.deliver(remainder)
	}
	e.cfg.Logger.Info("microphone capture stopped")
}

// onFrames runs on the device callback goroutine. It assembles fixed-size
// chunks and applies the silence gate per chunk. Frames arriving after Stop
// are dropped.
func (e *CaptureEngine) onFrames(pcm []byte) {
	if !e.recording.Load() {
		return
	}
	chunkBytes := e.cfg.ChunkSamples * BytesPerSample

	e.frameMu.Lock()
	e.pending = append(e.pending, pcm...)
	var full [][]byte
	for len(e.pending) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, e.pending[:chunkBytes])
		e.pending = e.pending[chunkBytes:]
		full = append(full, chunk)
	}
	e.frameMu.Unlock()

	for _, chunk := range full {
		if !e.recording.Load() {
			return
		}
		if e.admit(chunk) {
			e.deliver(chunk)
		}
	}
}

// admit applies the silence gate to one full chunk. The decision uses the
// RMS averaged over a short rolling window of recent chunks rather than the
// chunk alone, so dips between words do not flap the gate.
func (e *CaptureEngine) admit(chunk []byte) bool {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	e.levels = append(e.levels, RMS(chunk))
	if len(e.levels) > e.cfg.RMSWindowChunks {
		e.levels = e.levels[1:]
	}
	var sum float64
	for _, l := range e.levels {
		sum += l
	}
	level := sum / float64(len(e.levels))

	if level >= e.cfg.SilenceThreshold {
		if e.gated {
			e.cfg.Logger.Debug("speech resumed", "rms", level)
		}
		e.silentRun = 0
		e.gated = false
		return true
	}

	e.silentRun++
	if e.silentRun <= e.cfg.HangoverChunks {
		// Still inside the hangover window; keep forwarding.
		return true
	}
	if !e.gated {
		e.gated = true
		e.cfg.Logger.Debug("silence gate closed", "silent_chunks", e.silentRun)
	}
	return false
}

// deliver hands a chunk downstream without ever blocking the device
// callback.
func (e *CaptureEngine) deliver(chunk []byte) {
	select {
	case e.chunks <- chunk:
	default:
		e.cfg.Logger.Warn("capture chunk dropped: consumer not keeping up")
	}
}
