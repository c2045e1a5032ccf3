package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker is a Sink backed by the system default output device. The oto
// player pulls from an internal buffer; when the buffer runs dry the
// speaker feeds silence so the player never stalls between chunks.
type Speaker struct {
	ctx    *oto.Context
	player *oto.Player

	mu      sync.Mutex
	buf     []byte
	playing bool
	closed  bool
}

// NewSpeaker opens the output device at the given sample rate.
func NewSpeaker(sampleRateHz int) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms of mono PCM16; small enough for conversational latency.
		BufferSize: 100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s := &Speaker{
		ctx: ctx,
		buf: make([]byte, 0, sampleRateHz*4),
	}
	return s, nil
}

// Write enqueues PCM16 for playback, starting the player on first audio.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker is closed")
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.ctx.NewPlayer(s)
		s.player.Play()
	}
	return nil
}

// Read implements io.Reader for the oto player. Silence is returned while
// the buffer is empty so playback stays gapless across chunk boundaries.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Discard drops all unplayed audio.
func (s *Speaker) Discard() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Close stops playback and releases the player.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
