package audio

import (
	"sync"
	"testing"
	"time"
)

// recorderSink captures playback calls for assertions.
type recorderSink struct {
	mu       sync.Mutex
	written  [][]byte
	discards int
	closed   bool
}

func (r *recorderSink) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.written = append(r.written, buf)
	return nil
}

func (r *recorderSink) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discards++
	r.written = nil
}

func (r *recorderSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestPlaybackQueuesInOrder(t *testing.T) {
	t.Parallel()

	sink := &recorderSink{}
	engine := NewPlaybackEngine(sink, nil)
	defer engine.Close()

	engine.Enqueue(tone(256))
	engine.Enqueue(tone(512))
	engine.Enqueue(nil) // empty chunks never reach the sink

	if len(sink.written) != 2 {
		t.Fatalf("sink received %d chunks; want 2", len(sink.written))
	}
	if len(sink.written[0]) != 256*BytesPerSample || len(sink.written[1]) != 512*BytesPerSample {
		t.Fatalf("chunk sizes = %d, %d", len(sink.written[0]), len(sink.written[1]))
	}
	if got := engine.EnqueuedBytes(); got != int64((256+512)*BytesPerSample) {
		t.Fatalf("enqueued bytes = %d", got)
	}
}

func TestInterruptDiscardsQueue(t *testing.T) {
	t.Parallel()

	sink := &recorderSink{}
	engine := NewPlaybackEngine(sink, nil)
	defer engine.Close()

	engine.Enqueue(tone(1024))
	if engine.Level() <= 0 {
		t.Fatal("level is zero right after audio arrived")
	}

	engine.Interrupt()
	if sink.discards != 1 {
		t.Fatalf("sink discards = %d; want 1", sink.discards)
	}
	if got := engine.Level(); got != 0 {
		t.Fatalf("level after interrupt = %f; want 0", got)
	}

	// Audio after the interrupt plays normally; the cancelled response is
	// never resumed, new chunks are a new response.
	engine.Enqueue(tone(256))
	if len(sink.written) != 1 {
		t.Fatalf("post-interrupt chunks = %d; want 1", len(sink.written))
	}
}

func TestLevelDecaysToZero(t *testing.T) {
	t.Parallel()

	engine := NewPlaybackEngine(&recorderSink{}, nil)
	defer engine.Close()

	engine.Enqueue(tone(1024))
	first := engine.Level()
	if first <= 0 || first > 1 {
		t.Fatalf("level = %f; want (0, 1]", first)
	}
	time.Sleep(meterWindow + 20*time.Millisecond)
	if got := engine.Level(); got != 0 {
		t.Fatalf("level after meter window = %f; want 0", got)
	}
}

func TestFloat32ToPCM16Clamps(t *testing.T) {
	t.Parallel()

	out := Float32ToPCM16([]float32{2.0, -2.0, 0})
	if len(out) != 3*BytesPerSample {
		t.Fatalf("encoded %d bytes; want %d", len(out), 3*BytesPerSample)
	}
	// Overdriven samples pin at full scale instead of wrapping.
	if got := RMS(out[0:2]); got < 0.99 {
		t.Fatalf("positive overdrive rms = %f; want full scale", got)
	}
	if got := RMS(out[2:4]); got < 0.99 {
		t.Fatalf("negative overdrive rms = %f; want full scale", got)
	}
	if got := RMS(out[4:6]); got != 0 {
		t.Fatalf("zero sample rms = %f; want 0", got)
	}
}

func TestRMSBounds(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Fatalf("rms of empty = %f", got)
	}
	if got := RMS(silence(1024)); got != 0 {
		t.Fatalf("rms of silence = %f", got)
	}
	loud := RMS(tone(1024))
	if loud <= 0.2 || loud > 1 {
		t.Fatalf("rms of tone = %f; want well above silence", loud)
	}
}

func TestDownsampleHalvesRate(t *testing.T) {
	t.Parallel()

	in := tone(1000)
	out := Downsample(in, 48000, 24000)
	if len(out) != len(in)/2 {
		t.Fatalf("downsampled %d bytes to %d; want half", len(in), len(out))
	}
	// Non-integral ratios pass through untouched.
	if got := Downsample(in, 44100, 24000); len(got) != len(in) {
		t.Fatalf("non-integral ratio changed length to %d", len(got))
	}
}
