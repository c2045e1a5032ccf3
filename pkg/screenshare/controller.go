// Package screenshare orchestrates the human workflow of a review session:
// share a screen, grant the microphone, start/pause/resume/end, and sample
// the shared screen into the live session at a steady cadence.
package screenshare

import (
	"log/slog"
	"sync"
	"time"

	"github.com/screenvox/screenvox/pkg/core"
	"github.com/screenvox/screenvox/pkg/live/protocol"
)

// FrameSource abstracts display capture. Capture returns one encoded frame
// of the shared screen.
type FrameSource interface {
	Open() error
	Capture() (data []byte, mimeType string, err error)
	Close() error
}

// MicrophoneControl is the slice of the capture engine the controller
// drives.
type MicrophoneControl interface {
	Start() error
	Stop()
}

// SessionSink receives sampled frames as realtime media.
type SessionSink interface {
	SendRealtimeInput(chunks ...protocol.Blob)
}

// Config tunes the controller.
type Config struct {
	// FrameInterval is the cadence of screen sampling while sharing.
	FrameInterval time.Duration
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type shareState int

const (
	stateIdle shareState = iota
	stateSharing
	statePaused
)

// Controller glues the frame source, the microphone and the live session
// together. It owns no protocol logic of its own.
type Controller struct {
	cfg     Config
	source  FrameSource
	mic     MicrophoneControl
	session SessionSink

	mu    sync.Mutex
	state shareState
	stop  chan struct{}
}

// NewController builds an idle controller.
func NewController(source FrameSource, mic MicrophoneControl, session SessionSink, cfg Config) *Controller {
	cfg.defaults()
	return &Controller{
		cfg:     cfg,
		source:  source,
		mic:     mic,
		session: session,
	}
}

// Start opens the display source, grants the microphone and begins frame
// sampling. Starting while already active is a no-op. A denied display or
// microphone surfaces immediately as a permission error; denial is never
// retried because it requires user action.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.source.Open(); err != nil {
		return core.NewPermissionError("share screen: " + err.Error())
	}
	if err := c.mic.Start(); err != nil {
		_ = c.source.Close()
		return err
	}

	c.mu.Lock()
	c.state = stateSharing
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.sampleLoop(stop)
	c.cfg.Logger.Info("screen share started", "frame_interval", c.cfg.FrameInterval)
	return nil
}

// Pause suspends frame sampling and microphone capture without ending the
// share. Safe when not sharing.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != stateSharing {
		c.mu.Unlock()
		return
	}
	c.state = statePaused
	c.mu.Unlock()

	c.mic.Stop()
	c.cfg.Logger.Info("screen share paused")
}

// Resume restarts frame sampling and microphone capture after a pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != statePaused {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.mic.Start(); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = stateSharing
	c.mu.Unlock()
	c.cfg.Logger.Info("screen share resumed")
	return nil
}

// End stops sampling, closes the display source and stops the microphone.
// Idempotent.
func (c *Controller) End() {
	c.mu.Lock()
	if c.state == stateIdle {
		c.mu.Unlock()
		return
	}
	c.state = stateIdle
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	c.mic.Stop()
	if err := c.source.Close(); err != nil {
		c.cfg.Logger.Warn("close display source", "error", err)
	}
	c.cfg.Logger.Info("screen share ended")
}

// sampleLoop forwards one frame per interval while sharing. Capture
// failures are logged and skipped; the share itself stays up.
func (c *Controller) sampleLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			sharing := c.state == stateSharing
			c.mu.Unlock()
			if !sharing {
				continue
			}
			data, mimeType, err := c.source.Capture()
			if err != nil {
				c.cfg.Logger.Warn("frame capture failed", "error", err)
				continue
			}
			if len(data) == 0 {
				continue
			}
			c.session.SendRealtimeInput(protocol.NewBlob(mimeType, data))
		}
	}
}
