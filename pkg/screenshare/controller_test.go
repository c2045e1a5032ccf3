package screenshare

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/screenvox/screenvox/pkg/core"
	"github.com/screenvox/screenvox/pkg/live/protocol"
)

type fakeSource struct {
	mu      sync.Mutex
	openErr error
	opened  bool
	closed  bool
	frames  int
}

func (f *fakeSource) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Capture() ([]byte, string, error) {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
	return []byte{0xFF, 0xD8}, "image/jpeg", nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

type fakeMic struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (m *fakeMic) Start() error {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

type recordingSink struct {
	mu    sync.Mutex
	blobs []protocol.Blob
}

func (s *recordingSink) SendRealtimeInput(chunks ...protocol.Blob) {
	s.mu.Lock()
	s.blobs = append(s.blobs, chunks...)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func newTestController(source *fakeSource, mic *fakeMic, sink *recordingSink) *Controller {
	return NewController(source, mic, sink, Config{FrameInterval: 10 * time.Millisecond})
}

func TestStartSamplesFramesIntoSession(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	mic := &fakeMic{}
	sink := &recordingSink{}
	ctrl := newTestController(source, mic, sink)

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.End()

	waitUntil(t, time.Second, func() bool { return sink.count() >= 3 })

	sink.mu.Lock()
	blob := sink.blobs[0]
	sink.mu.Unlock()
	if blob.MIMEType != "image/jpeg" {
		t.Fatalf("frame mime = %q", blob.MIMEType)
	}
	if mic.starts != 1 {
		t.Fatalf("mic starts = %d; want 1", mic.starts)
	}
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	mic := &fakeMic{}
	ctrl := newTestController(source, mic, &recordingSink{})

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.End()
	if err := ctrl.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if mic.starts != 1 {
		t.Fatalf("mic starts = %d; want 1", mic.starts)
	}
}

func TestDeniedDisplayIsPermissionError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{openErr: errors.New("user dismissed the picker")}
	mic := &fakeMic{}
	ctrl := newTestController(source, mic, &recordingSink{})

	err := ctrl.Start()
	var coreErr *core.Error
	if !core.As(err, &coreErr) || coreErr.Type != core.ErrPermission {
		t.Fatalf("start with denied display = %v; want permission error", err)
	}
	if mic.starts != 0 {
		t.Fatal("microphone was started despite display denial")
	}
}

func TestPauseStopsFramesAndMicResumeRestarts(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	mic := &fakeMic{}
	sink := &recordingSink{}
	ctrl := newTestController(source, mic, sink)

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.End()
	waitUntil(t, time.Second, func() bool { return sink.count() >= 1 })

	ctrl.Pause()
	if mic.stops != 1 {
		t.Fatalf("mic stops after pause = %d; want 1", mic.stops)
	}
	paused := sink.count()
	time.Sleep(60 * time.Millisecond)
	if got := sink.count(); got != paused {
		t.Fatalf("frames kept flowing while paused: %d -> %d", paused, got)
	}

	if err := ctrl.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return sink.count() > paused })
	if mic.starts != 2 {
		t.Fatalf("mic starts after resume = %d; want 2", mic.starts)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	mic := &fakeMic{}
	ctrl := newTestController(source, mic, &recordingSink{})

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.End()
	ctrl.End()

	if !source.closed {
		t.Fatal("display source not closed")
	}
	if mic.stops != 1 {
		t.Fatalf("mic stops = %d; want 1", mic.stops)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
