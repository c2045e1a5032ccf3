package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Microphone is a Device backed by the system default capture device.
// Each Open builds a fresh miniaudio context; contexts are not reused
// across sessions.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMicrophone returns the DeviceFactory for the system microphone.
func NewMicrophone() (Device, error) {
	return &Microphone{}, nil
}

// Open initializes the capture context and starts delivering mono PCM16
// frames at the requested rate.
func (m *Microphone) Open(sampleRateHz int, onFrames func(pcm []byte)) error {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init capture context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onFrames(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

// Close stops the device and tears down its context.
func (m *Microphone) Close() error {
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		err := m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
		return err
	}
	return nil
}
