package live

import (
	"github.com/screenvox/screenvox/pkg/live/protocol"
)

// Event is the typed union delivered on Client.Events(). Subscribers switch
// on the concrete type; the marker method keeps foreign types out.
type Event interface {
	liveEventType() string
}

// SetupCompleteEvent fires once per connection when the remote service has
// accepted the setup frame.
type SetupCompleteEvent struct{}

func (SetupCompleteEvent) liveEventType() string { return "setup_complete" }

// AudioEvent carries one decoded PCM16 payload from a model turn.
type AudioEvent struct {
	Data []byte
}

func (AudioEvent) liveEventType() string { return "audio" }

// ContentEvent carries the non-audio parts of a model turn.
type ContentEvent struct {
	Parts []protocol.Part
}

func (ContentEvent) liveEventType() string { return "content" }

// InterruptedEvent signals that the remote stopped generating mid-turn.
// Playback must halt and discard all queued audio before any further
// AudioEvent is scheduled.
type InterruptedEvent struct{}

func (InterruptedEvent) liveEventType() string { return "interrupted" }

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) liveEventType() string { return "turn_complete" }

// OutputTranscriptEvent is a raw fragment of the model's speech transcript.
// Never buffered at this layer.
type OutputTranscriptEvent struct {
	Text     string
	Finished bool
}

func (OutputTranscriptEvent) liveEventType() string { return "output_transcript" }

// InputTranscriptEvent is a raw fragment of the user's speech transcript.
type InputTranscriptEvent struct {
	Text     string
	Finished bool
}

func (InputTranscriptEvent) liveEventType() string { return "input_transcript" }

// ToolCallEvent forwards pending function calls verbatim.
type ToolCallEvent struct {
	Calls []protocol.FunctionCall
}

func (ToolCallEvent) liveEventType() string { return "tool_call" }

// ToolCallCancellationEvent forwards cancelled function call ids verbatim.
type ToolCallCancellationEvent struct {
	IDs []string
}

func (ToolCallCancellationEvent) liveEventType() string { return "tool_call_cancellation" }

// ReconnectingEvent signals that an automatic resumed reconnect has been
// scheduled.
type ReconnectingEvent struct {
	Reason string
}

func (ReconnectingEvent) liveEventType() string { return "reconnecting" }

// ReconnectedEvent signals a successful resumed reconnect; the logical
// conversation continues on a fresh transport.
type ReconnectedEvent struct{}

func (ReconnectedEvent) liveEventType() string { return "reconnected" }

// ClosedEvent is surfaced when the connection is gone and no further
// automatic recovery will happen.
type ClosedEvent struct {
	Reason string
	Err    error
}

func (ClosedEvent) liveEventType() string { return "closed" }
