// Package protocol defines the JSON frames exchanged with the remote
// generative live service over the message-framed duplex channel.
//
// Both directions use envelope-style tagged unions: exactly one field of the
// top-level message is populated per frame. Field names are camelCase to
// match the wire format of the remote service.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Activity detection sensitivity values accepted by the remote service.
const (
	StartSensitivityHigh = "START_SENSITIVITY_HIGH"
	StartSensitivityLow  = "START_SENSITIVITY_LOW"
	EndSensitivityHigh   = "END_SENSITIVITY_HIGH"
	EndSensitivityLow    = "END_SENSITIVITY_LOW"
)

// Response modalities.
const (
	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"
)

// Content is a single conversational turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one piece of a turn: text or inline media, never both.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob carries base64-encoded media tagged with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewBlob base64-encodes raw media bytes into a Blob.
func NewBlob(mimeType string, data []byte) Blob {
	return Blob{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// Decode returns the raw media bytes of the blob.
func (b Blob) Decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("decode blob payload: %w", err)
	}
	return raw, nil
}

// IsAudio reports whether the blob carries PCM audio.
func (b Blob) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(b.MIMEType)), "audio/")
}

// AudioMIMEType returns the PCM mime string for the given sample rate.
// The rate is always the negotiated device rate, never a constant.
func AudioMIMEType(sampleRateHz int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRateHz)
}

// ClientMessage is the outbound frame union. Exactly one field is set.
type ClientMessage struct {
	Setup         *Setup         `json:"setup,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *ToolResponse  `json:"toolResponse,omitempty"`
}

// Setup is the first frame of every connection. It names the model and
// carries generation, transcription, activity-detection and resumption
// configuration.
type Setup struct {
	Model                    string               `json:"model"`
	GenerationConfig         *GenerationConfig    `json:"generationConfig,omitempty"`
	SystemInstruction        *Content             `json:"systemInstruction,omitempty"`
	RealtimeInputConfig      *RealtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *AudioTranscription  `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscription  `json:"outputAudioTranscription,omitempty"`
	SessionResumption        *SessionResumption   `json:"sessionResumption,omitempty"`
}

// GenerationConfig controls response modality and voice.
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

// RealtimeInputConfig tunes server-side voice activity detection.
type RealtimeInputConfig struct {
	AutomaticActivityDetection *AutomaticActivityDetection `json:"automaticActivityDetection,omitempty"`
}

type AutomaticActivityDetection struct {
	Disabled                 bool   `json:"disabled,omitempty"`
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMs          int    `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs        int    `json:"silenceDurationMs,omitempty"`
}

// AudioTranscription requests transcription of one audio direction.
// An empty object on the wire.
type AudioTranscription struct{}

// SessionResumption requests a resumable session. A non-empty Handle
// continues a prior conversation's context.
type SessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

// ClientContent carries one or more complete text turns.
type ClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete"`
}

// RealtimeInput carries fire-and-forget media chunks (audio or video).
type RealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks,omitempty"`
}

// ToolResponse answers one or more pending function calls.
type ToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response,omitempty"`
}

// ServerMessage is the inbound frame union. Exactly one field is set per
// frame; frames with no recognized field are protocol errors.
type ServerMessage struct {
	SetupComplete           *SetupComplete           `json:"setupComplete,omitempty"`
	ServerContent           *ServerContent           `json:"serverContent,omitempty"`
	ToolCall                *ToolCall                `json:"toolCall,omitempty"`
	ToolCallCancellation    *ToolCallCancellation    `json:"toolCallCancellation,omitempty"`
	SessionResumptionUpdate *SessionResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
	GoAway                  *GoAway                  `json:"goAway,omitempty"`
}

// SetupComplete acknowledges the Setup frame. Empty object on the wire.
type SetupComplete struct{}

// ServerContent carries model output and turn-level control flags.
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is a streamed text fragment of one audio direction.
type Transcription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type ToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

// SessionResumptionUpdate supersedes any previously issued handle.
type SessionResumptionUpdate struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

// GoAway announces that the connection will close after TimeLeft.
type GoAway struct {
	TimeLeft Duration `json:"timeLeft,omitempty"`
}

// Duration marshals as a protobuf-style seconds string ("4.5s") and accepts
// either that form or a bare millisecond count when decoding.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	seconds := time.Duration(d).Seconds()
	return json.Marshal(strconv.FormatFloat(seconds, 'f', -1, 64) + "s")
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		asString = strings.TrimSuffix(strings.TrimSpace(asString), "s")
		seconds, err := strconv.ParseFloat(asString, 64)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", asString, err)
		}
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var asMillis float64
	if err := json.Unmarshal(data, &asMillis); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(time.Duration(asMillis * float64(time.Millisecond)))
	return nil
}

// DecodeServerMessage parses one inbound frame. Unrecognized frames return
// an error so the caller can log and drop them without killing the session.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server frame: %w", err)
	}
	if msg.Kind() == "" {
		return nil, fmt.Errorf("server frame matched no known message")
	}
	return &msg, nil
}

// Kind names the populated branch of the union, for logging.
func (m *ServerMessage) Kind() string {
	switch {
	case m == nil:
		return ""
	case m.SetupComplete != nil:
		return "setupComplete"
	case m.ServerContent != nil:
		return "serverContent"
	case m.ToolCall != nil:
		return "toolCall"
	case m.ToolCallCancellation != nil:
		return "toolCallCancellation"
	case m.SessionResumptionUpdate != nil:
		return "sessionResumptionUpdate"
	case m.GoAway != nil:
		return "goAway"
	default:
		return ""
	}
}

// TextTurn builds a single-user-turn ClientContent from text parts.
func TextTurn(turnComplete bool, parts ...string) *ClientContent {
	content := Content{Role: "user"}
	for _, p := range parts {
		content.Parts = append(content.Parts, Part{Text: p})
	}
	return &ClientContent{
		Turns:        []Content{content},
		TurnComplete: turnComplete,
	}
}

// SplitModelTurn separates a model turn into decoded audio payloads and the
// remaining non-audio parts. Both may be non-empty for the same turn and
// both must be delivered.
func SplitModelTurn(turn *Content) (audio [][]byte, rest []Part, err error) {
	if turn == nil {
		return nil, nil, nil
	}
	for _, part := range turn.Parts {
		if part.InlineData != nil && part.InlineData.IsAudio() {
			raw, decodeErr := part.InlineData.Decode()
			if decodeErr != nil {
				return nil, nil, decodeErr
			}
			audio = append(audio, raw)
			continue
		}
		rest = append(rest, part)
	}
	return audio, rest, nil
}
