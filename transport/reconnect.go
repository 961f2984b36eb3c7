package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docent-ai/docent/logger"
)

// Reconnect policy defaults.
const (
	DefaultReconnectAttempts    = 3
	DefaultReconnectBackoffBase = 1 * time.Second
	DefaultReconnectBackoffMax  = 30 * time.Second

	// staleMultiplier scales the heartbeat interval into the silence window
	// after which a connection is declared stale.
	staleMultiplier = 2
)

// ErrManualRetry reports that automatic reconnection is exhausted and the
// decision to try again belongs to the user.
var ErrManualRetry = errors.New("reconnect attempts exhausted, manual retry required")

// ReconnectPolicy governs client-side reconnection after a dropped channel.
// Each attempt backs off exponentially with +-25% jitter; after MaxAttempts
// the failure is surfaced as ErrManualRetry rather than retried forever.
type ReconnectPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultReconnectPolicy returns the standard client policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultReconnectAttempts,
		BackoffBase: DefaultReconnectBackoffBase,
		BackoffMax:  DefaultReconnectBackoffMax,
	}
}

// Delay returns the backoff before the given attempt (1-based), or false
// when the policy is exhausted and the caller must surface ErrManualRetry.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt > p.MaxAttempts {
		return 0, false
	}
	backoff := p.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > p.BackoffMax {
			backoff = p.BackoffMax
			break
		}
	}
	return jitteredBackoff(backoff, p.BackoffMax), true
}

// Run invokes connect until it succeeds, applying the policy between
// failures. Returns ErrManualRetry (wrapping the last failure) when
// exhausted.
func (p ReconnectPolicy) Run(ctx context.Context, connect func(context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = connect(ctx)
		if lastErr == nil {
			return nil
		}

		delay, ok := p.Delay(attempt)
		if !ok {
			return fmt.Errorf("%w: %w", ErrManualRetry, lastErr)
		}
		logger.Warn("reconnect attempt failed",
			"attempt", attempt, "maxAttempts", p.MaxAttempts, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// StaleDetector notices a channel that has gone quiet. Any event counts as
// liveness; when nothing arrives for twice the heartbeat interval the
// connection is presumed dead and torn down proactively. This is the client's
// early exit, distinct from the server's hard turn timeout.
type StaleDetector struct {
	mu       sync.Mutex
	window   time.Duration
	timer    *time.Timer
	onStale  func()
	stopped  bool
	detected bool
}

// NewStaleDetector arms a detector for the given heartbeat interval. onStale
// fires at most once, from the timer goroutine.
func NewStaleDetector(heartbeatInterval time.Duration, onStale func()) *StaleDetector {
	d := &StaleDetector{
		window:  staleMultiplier * heartbeatInterval,
		onStale: onStale,
	}
	d.timer = time.AfterFunc(d.window, d.fire)
	return d
}

// Touch resets the silence window. Call on every received event.
func (d *StaleDetector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.detected {
		return
	}
	d.timer.Reset(d.window)
}

// Stop disarms the detector.
func (d *StaleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.timer.Stop()
}

// Stale reports whether the detector fired.
func (d *StaleDetector) Stale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detected
}

func (d *StaleDetector) fire() {
	d.mu.Lock()
	if d.stopped || d.detected {
		d.mu.Unlock()
		return
	}
	d.detected = true
	d.mu.Unlock()
	if d.onStale != nil {
		d.onStale()
	}
}

// ClientConfig configures a WebSocket channel client.
type ClientConfig struct {
	// URL is the ws:// or wss:// turn endpoint.
	URL string

	// Headers are sent during the handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout.
	DialTimeout time.Duration

	// HeartbeatInterval must match the server's cadence; it sizes the stale
	// window.
	HeartbeatInterval time.Duration

	// Reconnect governs redial behavior. Zero value means defaults.
	Reconnect ReconnectPolicy
}

func (c *ClientConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect = DefaultReconnectPolicy()
	}
}

// Client is the viewer-side WebSocket channel: it dials with the reconnect
// policy, sends the turn-open request, and surfaces decoded events.
type Client struct {
	cfg ClientConfig

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewClient creates a client. Call Connect before Open.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Connect dials the endpoint, redialing per the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	return c.cfg.Reconnect.Run(ctx, c.dial)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	return nil
}

// Open sends the turn-open request and returns a channel of decoded events.
// The channel closes after the end event, on error, or when the connection
// goes stale.
func (c *Client) Open(ctx context.Context, req any) (<-chan Event, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send turn request: %w", err)
	}

	events := make(chan Event)
	go c.receiveLoop(ctx, conn, events)
	return events, nil
}

func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn, events chan<- Event) {
	defer close(events)

	stale := NewStaleDetector(c.cfg.HeartbeatInterval, func() {
		logger.Warn("channel went silent, tearing down", "url", c.cfg.URL)
		_ = conn.Close()
	})
	defer stale.Stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !stale.Stale() {
				logger.Warn("channel read failed", "error", err)
			}
			return
		}
		stale.Touch()

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Warn("undecodable event, skipping", "error", err)
			continue
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
		if evt.Type == EventEnd {
			return
		}
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
	c.writeMu.Unlock()

	return c.conn.Close()
}
