package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
)

// Connection transport defaults.
const (
	defaultDialTimeout    = 15 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 16 * 1024 * 1024
	defaultDialAttempts   = 3
	defaultDialRetryDelay = time.Second
)

// connConfig configures a single transport connection.
type connConfig struct {
	URL            string
	Header         http.Header
	DialTimeout    time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	DialAttempts   uint64
	DialRetryDelay time.Duration
	Logger         *slog.Logger
}

func (c *connConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = defaultDialAttempts
	}
	if c.DialRetryDelay == 0 {
		c.DialRetryDelay = defaultDialRetryDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// conn wraps one websocket connection. Writes are serialized; reads happen
// from a single goroutine owned by the session.
type conn struct {
	cfg connConfig
	ws  *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// dialConn opens the websocket with a bounded constant-delay retry.
// Non-retryable handshake rejections (4xx) fail immediately.
func dialConn(ctx context.Context, cfg connConfig) (*conn, error) {
	cfg.defaults()

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	var ws *websocket.Conn
	backoff := retry.WithMaxRetries(cfg.DialAttempts-1, retry.NewConstant(cfg.DialRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var resp *http.Response
		var dialErr error
		ws, resp, dialErr = dialer.DialContext(ctx, cfg.URL, cfg.Header)
		if dialErr == nil {
			return nil
		}
		if resp != nil {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Credential or request problem; retrying cannot help.
				return fmt.Errorf("websocket dial rejected (status %d): %w", resp.StatusCode, dialErr)
			}
		}
		cfg.Logger.Warn("websocket dial failed, retrying", "error", dialErr)
		return retry.RetryableError(dialErr)
	})
	if err != nil {
		return nil, &TransportError{Op: "dial", URL: cfg.URL, Err: err}
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	cfg.Logger.Debug("websocket connected", "url", redactURLQuery(cfg.URL))

	return &conn{cfg: cfg, ws: ws}, nil
}

// sendJSON marshals and writes one frame under the write lock.
func (c *conn) sendJSON(v any) error {
	if c.closed.Load() {
		return fmt.Errorf("connection is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return &TransportError{Op: "write", URL: c.cfg.URL, Err: err}
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return &TransportError{Op: "write", URL: c.cfg.URL, Err: err}
	}
	return nil
}

// readMessage blocks until one frame arrives. Only the session's read loop
// calls this.
func (c *conn) readMessage() ([]byte, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket frame type %d", messageType)
	}
	return data, nil
}

// startHeartbeat sends periodic pings until the context ends or a write
// fails.
func (c *conn) startHeartbeat(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.ping() {
					return
				}
			}
		}
	}()
}

func (c *conn) ping() bool {
	if c.closed.Load() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.cfg.Logger.Warn("heartbeat ping failed", "error", err)
		return false
	}
	return true
}

// close writes a close frame and tears the socket down. Idempotent.
func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) isClosed() bool {
	return c.closed.Load()
}
