// Package transcript coalesces streamed speech fragments into readable
// conversation entries. Both audio directions arrive as partial text in
// arrival order; entries are cut on speaker-turn boundaries, not per
// fragment.
package transcript

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Speaker identifies a transcript direction.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Kind classifies a conversation entry.
type Kind string

const (
	KindUtterance    Kind = "utterance"
	KindSessionStart Kind = "session_start"
	KindSessionEnd   Kind = "session_end"
	KindInteraction  Kind = "interaction"
)

// Entry is one coalesced utterance or session marker. Speaker is empty for
// non-utterance kinds.
type Entry struct {
	Kind    Kind
	Speaker Speaker
	Text    string
	At      time.Time
}

// DefaultIdleFlush is how long the assistant buffer may sit without new
// fragments before it is cut into an entry.
const DefaultIdleFlush = 2 * time.Second

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithIdleFlush overrides the assistant idle cutoff.
func WithIdleFlush(d time.Duration) Option {
	return func(a *Aggregator) { a.idle = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithEntrySink registers a callback invoked for every finished entry, in
// order. Used to persist entries as they are cut.
func WithEntrySink(sink func(Entry)) Option {
	return func(a *Aggregator) { a.sink = sink }
}

// withClock substitutes the time source in tests.
func withClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator buffers fragments per direction and cuts entries on turn
// boundaries. User speech flushes the moment the assistant starts talking;
// assistant speech flushes after the idle cutoff or on force-flush.
type Aggregator struct {
	idle   time.Duration
	logger *slog.Logger
	now    func() time.Time
	sink   func(Entry)

	mu      sync.Mutex
	userBuf strings.Builder
	userAt  time.Time
	aiBuf   strings.Builder
	aiAt    time.Time
	aiTimer *time.Timer
	// aiGen invalidates idle-timer callbacks. Stopping a fired AfterFunc
	// cannot unblock a callback already waiting on mu, so each callback
	// carries the generation it was armed for and bails on mismatch.
	aiGen   uint64
	entries []Entry
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		idle:   DefaultIdleFlush,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddUserText appends a fragment of the user's speech. Fragments are
// concatenated exactly as received.
func (a *Aggregator) AddUserText(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userBuf.Len() == 0 {
		a.userAt = a.now()
	}
	a.userBuf.WriteString(fragment)
}

// AddAssistantText appends a fragment of the assistant's speech. Any
// buffered user speech is cut first so entries interleave in conversation
// order; each new fragment restarts the idle cutoff.
func (a *Aggregator) AddAssistantText(fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addAssistantLocked(fragment)
}

func (a *Aggregator) addAssistantLocked(fragment string) {
	a.flushUserLocked()

	if a.aiBuf.Len() == 0 {
		a.aiAt = a.now()
	}
	a.aiBuf.WriteString(fragment)

	if a.aiTimer != nil {
		a.aiTimer.Stop()
	}
	a.aiGen++
	gen := a.aiGen
	a.aiTimer = time.AfterFunc(a.idle, func() { a.flushAssistantIdle(gen) })
}

// Flush cuts both buffers immediately. Called before summarizing and when
// the session ends so no trailing speech is lost.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushUserLocked()
	a.flushAssistantLocked()
}

// MarkSessionStart records the session-start boundary in the log.
func (a *Aggregator) MarkSessionStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutLocked(Entry{Kind: KindSessionStart, At: a.now()})
}

// MarkSessionEnd flushes both buffers and records the session-end boundary.
func (a *Aggregator) MarkSessionEnd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushUserLocked()
	a.flushAssistantLocked()
	a.cutLocked(Entry{Kind: KindSessionEnd, At: a.now()})
}

// MarkInteraction records a non-speech interaction, such as a settings
// change or a pause.
func (a *Aggregator) MarkInteraction(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cutLocked(Entry{Kind: KindInteraction, Text: text, At: a.now()})
}

// Reset clears the entry log and both buffers for a new logical session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aiTimer != nil {
		a.aiTimer.Stop()
		a.aiTimer = nil
	}
	a.aiGen++
	a.userBuf.Reset()
	a.aiBuf.Reset()
	a.entries = nil
}

// Entries returns a copy of all entries cut so far, in conversation order.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Summary renders the full conversation with line references and
// per-speaker totals. A session where the assistant never produced any
// transcript is reported as "no speech captured" rather than an empty
// summary.
func (a *Aggregator) Summary() string {
	a.Flush()
	entries := a.Entries()

	assistantSpoke := false
	for _, e := range entries {
		if e.Kind == KindUtterance && e.Speaker == SpeakerAssistant {
			assistantSpoke = true
			break
		}
	}
	if !assistantSpoke {
		return "No speech was captured during this session."
	}

	var b strings.Builder
	start := entries[0].At
	chars := map[Speaker]int{}
	counts := map[Speaker]int{}
	line := 0
	for _, e := range entries {
		offset := e.At.Sub(start).Round(time.Second)
		switch e.Kind {
		case KindSessionStart:
			fmt.Fprintf(&b, "[%s] -- session started --\n", formatOffset(offset))
		case KindSessionEnd:
			fmt.Fprintf(&b, "[%s] -- session ended --\n", formatOffset(offset))
		case KindInteraction:
			fmt.Fprintf(&b, "[%s] -- %s --\n", formatOffset(offset), e.Text)
		default:
			line++
			fmt.Fprintf(&b, "line %d [%s] %s: %s\n", line, formatOffset(offset), e.Speaker, e.Text)
			chars[e.Speaker] += len(e.Text)
			counts[e.Speaker]++
		}
	}
	b.WriteString("\n")
	for _, s := range []Speaker{SpeakerUser, SpeakerAssistant} {
		if counts[s] > 0 {
			fmt.Fprintf(&b, "%s: %d characters across %d entries\n", s, chars[s], counts[s])
		}
	}
	return b.String()
}

func formatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// flushAssistantIdle is the idle-timer callback. A fragment appended while
// the callback sat on the lock advances the generation; such a callback
// must not cut the buffer mid-stream.
func (a *Aggregator) flushAssistantIdle(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.aiGen {
		return
	}
	a.flushAssistantLocked()
}

func (a *Aggregator) flushUserLocked() {
	if a.userBuf.Len() == 0 {
		return
	}
	a.cutLocked(Entry{Kind: KindUtterance, Speaker: SpeakerUser, Text: a.userBuf.String(), At: a.userAt})
	a.userBuf.Reset()
}

func (a *Aggregator) flushAssistantLocked() {
	if a.aiTimer != nil {
		a.aiTimer.Stop()
		a.aiTimer = nil
	}
	a.aiGen++
	if a.aiBuf.Len() == 0 {
		return
	}
	a.cutLocked(Entry{Kind: KindUtterance, Speaker: SpeakerAssistant, Text: a.aiBuf.String(), At: a.aiAt})
	a.aiBuf.Reset()
}

func (a *Aggregator) cutLocked(entry Entry) {
	a.entries = append(a.entries, entry)
	a.logger.Debug("transcript entry cut", "speaker", entry.Speaker, "chars", len(entry.Text))
	if a.sink != nil {
		a.sink(entry)
	}
}
