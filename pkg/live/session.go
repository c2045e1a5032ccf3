// Package live implements the client side of a long-lived, bidirectional,
// message-framed session with a remote generative service: connection
// lifecycle, frame dispatch, and resumed reconnection after network
// failures and goAway notices.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/screenvox/screenvox/pkg/core"
	"github.com/screenvox/screenvox/pkg/live/protocol"
)

// DefaultEndpoint is the bidirectional streaming endpoint of the remote
// generative service.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	apiKeyHeader = "x-goog-api-key"

	defaultReconnectBudget = 1
	defaultReconnectDelay  = 300 * time.Millisecond

	// goAwayMaxDelay caps how long we wait before a proactive reconnect;
	// the remote's countdown may be much longer than we need.
	goAwayMaxDelay = 100 * time.Millisecond

	eventBufferSize = 256

	// continuityNudge is sent after a settings-change reconnect so the
	// assistant acknowledges the change without derailing the review.
	continuityNudge = "Quick settings change on my end. Please continue the review from where we left off."
)

// State is the connection state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CredentialSource supplies the API credential for the live endpoint.
// Implementations cache with a TTL; Invalidate is called on authorization
// failure so the next Fetch refetches.
type CredentialSource interface {
	Fetch(ctx context.Context) (string, error)
	Invalidate()
}

// StaticCredential is a CredentialSource backed by a fixed key.
type StaticCredential string

func (s StaticCredential) Fetch(ctx context.Context) (string, error) { return string(s), nil }
func (s StaticCredential) Invalidate()                               {}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the live endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithCredentials sets the credential source used on every dial.
func WithCredentials(src CredentialSource) Option {
	return func(c *Client) { c.creds = src }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnectBudget bounds automatic reconnect attempts per session.
func WithReconnectBudget(n int) Option {
	return func(c *Client) { c.reconnectBudget = n }
}

// WithReconnectDelay sets the pause before an automatic reconnect, giving
// the old transport time to release its socket.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithHeartbeatInterval enables periodic pings on the connection.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// Client is the authoritative state machine for one live session. It is the
// only component permitted to open or close the underlying transport.
type Client struct {
	endpoint        string
	creds           CredentialSource
	logger          *slog.Logger
	reconnectBudget int
	reconnectDelay  time.Duration
	heartbeat       time.Duration

	events chan Event

	mu         sync.Mutex
	state      State
	conn       *conn
	connCancel context.CancelFunc
	setupDone  bool

	// Stored connect parameters; preserved across disconnects so a resumed
	// reconnect can continue the same logical conversation. Cleared only by
	// TerminateSession.
	model  string
	config *Config
	handle string

	userClosed bool

	// Reconnect state shared by the goAway and close triggers. Both pass
	// through scheduleReconnectLocked under mu, so the in-flight guard and
	// the budget cannot race each other.
	recInFlight  bool
	recRemaining int
	recTimer     *time.Timer
}

// NewClient creates a disconnected client. Call Connect to start a session.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:        DefaultEndpoint,
		logger:          slog.Default(),
		reconnectBudget: defaultReconnectBudget,
		reconnectDelay:  defaultReconnectDelay,
		events:          make(chan Event, eventBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events yields inbound session events. The channel is never closed; it
// spans reconnects for the lifetime of the client.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ResumptionHandle returns the most recently issued resumption handle, or
// empty if none was ever received or the session was terminated.
func (c *Client) ResumptionHandle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Connect opens a fresh session for the given model and configuration.
// A second call while connecting or connected fails without opening a
// second transport.
func (c *Client) Connect(ctx context.Context, model string, cfg Config) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return core.NewInvalidRequestError("model must not be empty")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return core.NewInvalidRequestError("connect rejected: session is " + c.state.String())
	}
	c.state = StateConnecting
	c.userClosed = false
	c.model = model
	c.config = &cfg
	c.recRemaining = c.reconnectBudget
	c.mu.Unlock()

	if err := c.dial(ctx, false); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect gracefully closes the transport but preserves the resumption
// handle, model and config so ReconnectWithResumption can continue the same
// logical conversation. Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.userClosed = true
	c.cancelReconnectLocked()
	old := c.detachConnLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	if old != nil {
		_ = old.close()
	}
}

// TerminateSession ends the review for good: it closes the transport and
// clears the resumption handle, config and model. No future resumption is
// possible after this call.
func (c *Client) TerminateSession() {
	c.mu.Lock()
	c.userClosed = true
	c.cancelReconnectLocked()
	old := c.detachConnLocked()
	c.state = StateDisconnected
	c.handle = ""
	c.config = nil
	c.model = ""
	c.recRemaining = 0
	c.mu.Unlock()

	if old != nil {
		_ = old.close()
	}
}

// ReconnectWithResumption rebuilds connect parameters from the stored
// config plus the resumption handle (if present) and reconnects. The
// original system priming instruction is omitted: the remote retains prior
// context via the handle, and re-priming would duplicate instructions.
func (c *Client) ReconnectWithResumption(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return core.NewInvalidRequestError("reconnect rejected: session is " + c.state.String())
	}
	if c.config == nil || c.model == "" {
		c.mu.Unlock()
		return core.NewResumptionError("no stored session to resume")
	}
	c.state = StateConnecting
	c.userClosed = false
	c.recRemaining = c.reconnectBudget
	c.mu.Unlock()

	if err := c.dial(ctx, true); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// Send transmits a complete text turn. With no active session the turn is
// silently dropped and logged.
func (c *Client) Send(parts []protocol.Part, turnComplete bool) error {
	cn := c.activeConn()
	if cn == nil {
		c.logger.Warn("text turn dropped: no active session")
		return nil
	}
	return cn.sendJSON(&protocol.ClientMessage{
		ClientContent: &protocol.ClientContent{
			Turns:        []protocol.Content{{Role: "user", Parts: parts}},
			TurnComplete: turnComplete,
		},
	})
}

// SendText is a convenience wrapper around Send for plain text.
func (c *Client) SendText(turnComplete bool, texts ...string) error {
	cn := c.activeConn()
	if cn == nil {
		c.logger.Warn("text turn dropped: no active session")
		return nil
	}
	return cn.sendJSON(&protocol.ClientMessage{
		ClientContent: protocol.TextTurn(turnComplete, texts...),
	})
}

// SendRealtimeInput transmits media chunks without waiting for any
// acknowledgment. Failures are logged, never fatal.
func (c *Client) SendRealtimeInput(chunks ...protocol.Blob) {
	cn := c.activeConn()
	if cn == nil {
		c.logger.Debug("realtime input dropped: no active session")
		return
	}
	if err := cn.sendJSON(&protocol.ClientMessage{
		RealtimeInput: &protocol.RealtimeInput{MediaChunks: chunks},
	}); err != nil {
		c.logger.Warn("realtime input send failed", "error", err)
	}
}

// SendToolResponse answers pending function calls.
func (c *Client) SendToolResponse(responses ...protocol.FunctionResponse) error {
	cn := c.activeConn()
	if cn == nil {
		c.logger.Warn("tool response dropped: no active session")
		return nil
	}
	return cn.sendJSON(&protocol.ClientMessage{
		ToolResponse: &protocol.ToolResponse{FunctionResponses: responses},
	})
}

// Interrupt asks the remote to stop its current generation. Best effort;
// failure is non-fatal.
func (c *Client) Interrupt() {
	cn := c.activeConn()
	if cn == nil {
		return
	}
	err := cn.sendJSON(&protocol.ClientMessage{
		ClientContent: &protocol.ClientContent{TurnComplete: true},
	})
	if err != nil {
		c.logger.Warn("interrupt request failed", "error", err)
	}
}

// ChangeConfig applies a pure transform to the stored configuration and
// cycles the connection so the new settings take effect without losing
// conversational context. With no resumption handle yet (very early in a
// session) it falls back to a fresh connect with the new config. After a
// successful resumed reconnect a short continuity nudge is sent.
func (c *Client) ChangeConfig(ctx context.Context, apply func(Config) Config) error {
	c.mu.Lock()
	if c.config == nil {
		c.mu.Unlock()
		return core.NewInvalidRequestError("no session configuration to change")
	}
	next := apply(*c.config)
	c.config = &next
	hasHandle := c.handle != ""
	c.mu.Unlock()

	c.Disconnect()

	if !hasHandle {
		c.mu.Lock()
		c.state = StateConnecting
		c.userClosed = false
		c.mu.Unlock()
		if err := c.dial(ctx, false); err != nil {
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			return err
		}
		return nil
	}

	if err := c.ReconnectWithResumption(ctx); err != nil {
		return err
	}
	return c.SendText(true, continuityNudge)
}

// ChangeVoice switches the assistant voice mid-session.
func (c *Client) ChangeVoice(ctx context.Context, voice string) error {
	return c.ChangeConfig(ctx, func(cfg Config) Config { return cfg.WithVoice(voice) })
}

// ChangeEnvironment retunes voice activity detection mid-session, for
// example when the user moves to a noisier room.
func (c *Client) ChangeEnvironment(ctx context.Context, startSensitivity, endSensitivity string, silenceDurationMs int) error {
	return c.ChangeConfig(ctx, func(cfg Config) Config {
		return cfg.WithActivityDetection(startSensitivity, endSensitivity, silenceDurationMs)
	})
}

// activeConn returns the live conn, or nil when there is no active session.
func (c *Client) activeConn() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil || c.conn.isClosed() {
		return nil
	}
	return c.conn
}

// dial opens the transport, sends the setup frame and starts the read loop.
// omitSystem strips the priming instruction for resumed reconnects.
func (c *Client) dial(ctx context.Context, omitSystem bool) error {
	c.mu.Lock()
	model := c.model
	cfg := c.config
	handle := c.handle
	c.mu.Unlock()
	if cfg == nil || model == "" {
		return core.NewResumptionError("no stored session to resume")
	}

	header := http.Header{}
	if c.creds != nil {
		key, err := c.creds.Fetch(ctx)
		if err != nil {
			return core.NewAuthenticationError("fetch credential: " + err.Error())
		}
		header.Set(apiKeyHeader, key)
	}

	cn, err := dialConn(ctx, connConfig{
		URL:    c.endpoint,
		Header: header,
		Logger: c.logger,
	})
	if err != nil {
		if c.creds != nil && isAuthRejection(err) {
			c.creds.Invalidate()
		}
		return err
	}

	setup := cfg.buildSetup(model, handle, omitSystem)
	if err := cn.sendJSON(&protocol.ClientMessage{Setup: setup}); err != nil {
		_ = cn.close()
		return err
	}

	var hbCancel context.CancelFunc
	hbCtx := context.Background()
	if c.heartbeat > 0 {
		hbCtx, hbCancel = context.WithCancel(context.Background())
		cn.startHeartbeat(hbCtx, c.heartbeat)
	}

	c.mu.Lock()
	c.conn = cn
	c.connCancel = hbCancel
	c.setupDone = false
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(cn)
	return nil
}

// isAuthRejection reports whether a dial failure was a credential problem
// rather than a transient transport fault.
func isAuthRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "status 401") || strings.Contains(msg, "status 403")
}

// readLoop processes inbound frames strictly in arrival order on a single
// dispatch path.
func (c *Client) readLoop(cn *conn) {
	for {
		data, err := cn.readMessage()
		if err != nil {
			c.handleConnClosed(cn, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes and dispatches one inbound frame. A frame that fails
// to parse is logged and dropped; never fatal to the session.
func (c *Client) handleFrame(data []byte) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		c.logger.Warn("dropping unparseable server frame", "error", core.NewProtocolError(err.Error()))
		return
	}

	switch {
	case msg.SetupComplete != nil:
		c.mu.Lock()
		first := !c.setupDone
		c.setupDone = true
		c.mu.Unlock()
		if first {
			c.emit(SetupCompleteEvent{})
		}

	case msg.ToolCall != nil:
		c.emit(ToolCallEvent{Calls: msg.ToolCall.FunctionCalls})

	case msg.ToolCallCancellation != nil:
		c.emit(ToolCallCancellationEvent{IDs: msg.ToolCallCancellation.IDs})

	case msg.SessionResumptionUpdate != nil:
		// Consumed here; never forwarded. A newer handle always supersedes.
		c.mu.Lock()
		c.handle = msg.SessionResumptionUpdate.NewHandle
		c.mu.Unlock()
		c.logger.Debug("resumption handle updated")

	case msg.GoAway != nil:
		c.handleGoAway(time.Duration(msg.GoAway.TimeLeft))

	case msg.ServerContent != nil:
		c.handleServerContent(msg.ServerContent)
	}
}

func (c *Client) handleServerContent(content *protocol.ServerContent) {
	// Interruption is dispatched before any audio from the same message so
	// playback observes it first.
	if content.Interrupted {
		c.emit(InterruptedEvent{})
	}
	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		c.emit(InputTranscriptEvent{
			Text:     content.InputTranscription.Text,
			Finished: content.InputTranscription.Finished,
		})
	}
	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		c.emit(OutputTranscriptEvent{
			Text:     content.OutputTranscription.Text,
			Finished: content.OutputTranscription.Finished,
		})
	}
	if content.ModelTurn != nil {
		audio, rest, err := protocol.SplitModelTurn(content.ModelTurn)
		if err != nil {
			c.logger.Warn("dropping undecodable model turn part", "error", err)
		}
		for _, payload := range audio {
			c.emit(AudioEvent{Data: payload})
		}
		if len(rest) > 0 {
			c.emit(ContentEvent{Parts: rest})
		}
	}
	if content.TurnComplete {
		c.emit(TurnCompleteEvent{})
	}
}

// handleGoAway proactively reconnects before the remote closes the
// connection. A countdown of zero means the connection is already gone; the
// close handler deals with it.
func (c *Client) handleGoAway(timeLeft time.Duration) {
	if timeLeft <= 0 {
		c.logger.Info("goAway with no time left; waiting for close")
		return
	}
	delay := min(goAwayMaxDelay, timeLeft/2)

	c.mu.Lock()
	scheduled := c.scheduleReconnectLocked(delay)
	c.mu.Unlock()

	if scheduled {
		c.logger.Info("goAway received; resumed reconnect scheduled", "delay", delay)
		c.emit(ReconnectingEvent{Reason: "go_away"})
	}
}

// handleConnClosed runs when a read loop ends. The in-flight guard ensures
// the close that follows a goAway-triggered reconnect does not schedule a
// second attempt for the same disconnect.
func (c *Client) handleConnClosed(cn *conn, err error) {
	c.mu.Lock()
	if c.conn != cn {
		// A newer connection replaced this one; stale close.
		c.mu.Unlock()
		return
	}
	c.detachConnLocked()

	if c.userClosed {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	if c.recInFlight {
		// Reconnect already scheduled for this disconnect.
		c.mu.Unlock()
		return
	}

	scheduled := c.scheduleReconnectLocked(c.reconnectDelay)
	if !scheduled {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if scheduled {
		c.emit(ReconnectingEvent{Reason: "connection_lost"})
		return
	}
	c.logger.Warn("connection lost", "error", err)
	c.emit(ClosedEvent{Reason: "connection_lost", Err: err})
}

// scheduleReconnectLocked is the single entry point for automatic
// reconnection. Caller holds mu. Returns false when the budget is spent,
// the disconnect was user-initiated, or no resumable session exists.
func (c *Client) scheduleReconnectLocked(delay time.Duration) bool {
	if c.recInFlight || c.userClosed {
		return false
	}
	if c.handle == "" || c.config == nil || c.model == "" {
		return false
	}
	if c.recRemaining <= 0 {
		return false
	}
	c.recInFlight = true
	c.recRemaining--
	c.recTimer = time.AfterFunc(delay, c.runReconnect)
	return true
}

// cancelReconnectLocked stops any pending reconnect timer. A cancelled
// timer never fires its callback.
func (c *Client) cancelReconnectLocked() {
	if c.recTimer != nil {
		c.recTimer.Stop()
		c.recTimer = nil
	}
	c.recInFlight = false
}

// detachConnLocked removes the current conn and stops its heartbeat.
// Caller holds mu. Returns the detached conn for closing outside the lock.
func (c *Client) detachConnLocked() *conn {
	old := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	return old
}

// runReconnect performs the scheduled resumed reconnect.
func (c *Client) runReconnect() {
	c.mu.Lock()
	if c.userClosed {
		c.recInFlight = false
		c.mu.Unlock()
		return
	}
	old := c.detachConnLocked()
	c.state = StateConnecting
	c.mu.Unlock()

	// Let the previous transport fully release its socket first.
	if old != nil {
		_ = old.close()
	}

	err := c.dial(context.Background(), true)

	c.mu.Lock()
	c.recInFlight = false
	if err != nil {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("resumed reconnect failed", "error", err)
		c.emit(ClosedEvent{Reason: "reconnect_failed", Err: err})
		return
	}
	c.logger.Info("session resumed on fresh transport")
	c.emit(ReconnectedEvent{})
}

// emit delivers an event without ever blocking the dispatch path.
func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("event dropped: subscriber not keeping up", "event", event.liveEventType())
	}
}
