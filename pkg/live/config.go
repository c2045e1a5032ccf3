package live

import (
	"github.com/screenvox/screenvox/pkg/live/protocol"
)

// Config is the immutable per-session configuration. Change helpers return
// a new value instead of mutating, so the exact payload sent on any
// (re)connect is always derivable from a single value.
type Config struct {
	// SystemInstruction primes the review conversation. It is sent on a
	// fresh connect only; resumed reconnects rely on the remote retaining
	// prior context via the resumption handle.
	SystemInstruction string

	// Voice names the prebuilt voice for spoken responses.
	Voice string

	// ResponseModalities defaults to audio only.
	ResponseModalities []string

	// StartSensitivity and EndSensitivity tune server-side voice activity
	// detection.
	StartSensitivity string
	EndSensitivity   string

	// SilenceDurationMs is how long a pause must last before the remote
	// treats the user turn as over.
	SilenceDurationMs int

	// PrefixPaddingMs is leading audio retained before detected speech.
	PrefixPaddingMs int

	// TranscribeInput and TranscribeOutput request transcript streams for
	// each audio direction.
	TranscribeInput  bool
	TranscribeOutput bool
}

// DefaultConfig returns the configuration used for a standard review
// session: spoken answers, both transcript directions, balanced VAD.
func DefaultConfig() Config {
	return Config{
		ResponseModalities: []string{protocol.ModalityAudio},
		StartSensitivity:   protocol.StartSensitivityHigh,
		EndSensitivity:     protocol.EndSensitivityHigh,
		SilenceDurationMs:  800,
		TranscribeInput:    true,
		TranscribeOutput:   true,
	}
}

// WithVoice returns a copy with a different voice.
func (c Config) WithVoice(voice string) Config {
	c.Voice = voice
	return c
}

// WithSystemInstruction returns a copy with a different priming instruction.
func (c Config) WithSystemInstruction(instruction string) Config {
	c.SystemInstruction = instruction
	return c
}

// WithActivityDetection returns a copy with different VAD sensitivity.
func (c Config) WithActivityDetection(start, end string, silenceMs int) Config {
	c.StartSensitivity = start
	c.EndSensitivity = end
	c.SilenceDurationMs = silenceMs
	return c
}

// buildSetup assembles the setup frame for a connect attempt.
// omitSystem strips the priming instruction on resumed reconnects so a
// conversation continued via handle is not primed twice.
func (c Config) buildSetup(model, resumptionHandle string, omitSystem bool) *protocol.Setup {
	setup := &protocol.Setup{
		Model: model,
		GenerationConfig: &protocol.GenerationConfig{
			ResponseModalities: c.ResponseModalities,
		},
		SessionResumption: &protocol.SessionResumption{Handle: resumptionHandle},
	}
	if c.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &protocol.SpeechConfig{
			VoiceConfig: &protocol.VoiceConfig{
				PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: c.Voice},
			},
		}
	}
	if c.SystemInstruction != "" && !omitSystem {
		setup.SystemInstruction = &protocol.Content{
			Parts: []protocol.Part{{Text: c.SystemInstruction}},
		}
	}
	if c.StartSensitivity != "" || c.EndSensitivity != "" || c.SilenceDurationMs > 0 {
		setup.RealtimeInputConfig = &protocol.RealtimeInputConfig{
			AutomaticActivityDetection: &protocol.AutomaticActivityDetection{
				StartOfSpeechSensitivity: c.StartSensitivity,
				EndOfSpeechSensitivity:   c.EndSensitivity,
				PrefixPaddingMs:          c.PrefixPaddingMs,
				SilenceDurationMs:        c.SilenceDurationMs,
			},
		}
	}
	if c.TranscribeInput {
		setup.InputAudioTranscription = &protocol.AudioTranscription{}
	}
	if c.TranscribeOutput {
		setup.OutputAudioTranscription = &protocol.AudioTranscription{}
	}
	return setup
}
