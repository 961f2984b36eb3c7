package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docent-ai/docent/directives"
	"github.com/docent-ai/docent/geom"
	"github.com/docent-ai/docent/logger"
	metrics "github.com/docent-ai/docent/metrics/prometheus"
	"github.com/docent-ai/docent/providers"
	"github.com/docent-ai/docent/statestore"
	"github.com/docent-ai/docent/stream"
	"github.com/docent-ai/docent/types"
	"github.com/docent-ai/docent/version"
)

// Channel timing defaults.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultTurnTimeout       = 60 * time.Second
	DefaultMaxRetries        = 2
	DefaultRetryBackoffBase  = 500 * time.Millisecond
	DefaultRetryBackoffMax   = 5 * time.Second
)

// NoRetries disables transient-fault retries when set as MaxRetries.
const NoRetries = -1

// Terminal apology texts. One of these reaches the viewer on every terminal
// failure path. The channel never closes bare: whatever went wrong, the last
// thing the client sees is readable content followed by an end event.
const (
	apologyText        = "Sorry, something went wrong while I was putting that together. Please try again."
	apologyTimeoutText = "Sorry, that took longer than I'm allowed to spend. Try asking a shorter or more specific question."
)

// persistTimeout bounds the end-of-turn store handoff so a slow store cannot
// hold the channel open.
const persistTimeout = 5 * time.Second

// State is the channel lifecycle state.
type State int32

// Channel states. Opening and Streaming are transient; the rest are terminal
// flavors that all funnel into Closed.
const (
	StateOpening State = iota
	StateStreaming
	StateCompleting
	StateErroring
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateErroring:
		return "erroring"
	case StateTimedOut:
		return "timed_out"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelConfig configures one turn's delivery channel.
type ChannelConfig struct {
	Provider providers.Provider
	Store    statestore.Store
	Bounds   geom.PageBounds

	// System is the deployment-configured narration directive passed to the
	// provider verbatim. Prompt assembly beyond this is not this runtime's
	// concern.
	System string

	HeartbeatInterval time.Duration
	TurnTimeout       time.Duration

	// MaxRetries bounds transient-fault retries within a turn. Zero means
	// DefaultMaxRetries; NoRetries turns retrying off.
	MaxRetries int

	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

func (c *ChannelConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if c.Bounds.Width == 0 || c.Bounds.Height == 0 {
		c.Bounds = geom.DefaultBounds()
	}
}

// Channel runs one turn: it opens, streams content and directives, keeps the
// client alive with heartbeats, applies the retry policy, and guarantees a
// content+end closing sequence on every exit path.
type Channel struct {
	cfg    ChannelConfig
	sink   Sink
	state  atomic.Int32
	tracer trace.Tracer
}

// NewChannel creates a channel for one turn, delivering events to sink.
func NewChannel(cfg ChannelConfig, sink Sink) *Channel {
	cfg.defaults()
	return &Channel{
		cfg:    cfg,
		sink:   sink,
		tracer: otel.Tracer("docent/transport"),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) { c.state.Store(int32(s)) }

// Run executes one turn to completion. It always terminates the event stream
// with an end event; the returned error reports what went wrong for logging,
// not for retrying (retries already happened inside).
func (c *Channel) Run(ctx context.Context, req types.TurnRequest) error {
	req.Normalize()
	start := time.Now()
	status := "complete"
	turnID := uuid.NewString()
	metrics.RecordTurnStart()
	defer func() { metrics.RecordTurnEnd(status, time.Since(start).Seconds()) }()

	ctx, span := c.tracer.Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("session.id", req.SessionID),
			attribute.String("document.id", req.DocumentID),
			attribute.Int("page.current", req.CurrentPage),
		))
	defer span.End()

	c.setState(StateOpening)

	if err := version.CheckProtocol(req.ProtocolVersion); err != nil {
		status = "error"
		c.terminate(req.SessionID, terminalSequence{
			state:   StateErroring,
			code:    "config",
			message: err.Error(),
			apology: apologyText,
		})
		return err
	}

	_ = c.sink.Send(Event{
		Type:      EventConnect,
		SessionID: req.SessionID,
		TurnID:    turnID,
		Timestamp: time.Now(),
		Protocol:  version.ProtocolVersion,
	})

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	stopHeartbeat := c.startHeartbeat(ctx, req.SessionID)
	defer stopHeartbeat()

	session := stream.NewSession(req.SessionID, req.CurrentPage, req.PageCount, c.cfg.Bounds)

	c.setState(StateStreaming)
	err := c.streamTurn(ctx, req, session)

	// The heartbeat must be fully stopped before any closing event goes out:
	// end is terminal and nothing may trail it on the wire.
	stopHeartbeat()

	if err != nil {
		return c.fail(req, session, err, &status)
	}

	c.setState(StateCompleting)
	c.ensureFallback(req, session)
	c.persist(req, session)

	_ = c.sink.Send(Event{
		Type:       EventEnd,
		SessionID:  req.SessionID,
		Timestamp:  time.Now(),
		Directives: session.Directives(),
	})
	c.setState(StateClosed)

	logger.Info("turn complete",
		"turn", turnID,
		"session", req.SessionID,
		"directives", len(session.Directives()),
		"duration", time.Since(start))
	return nil
}

// streamTurn drives the provider stream, applying the retry policy on the
// live channel: one minimized retry for context-length, bounded backoff
// retries for transient faults, immediate surrender for config faults.
// Session dedup makes re-streaming after a partial failure safe.
func (c *Channel) streamTurn(ctx context.Context, req types.TurnRequest, session *stream.Session) error {
	preq := providers.PredictionRequest{
		System:   c.cfg.System,
		Messages: req.Messages,
		Snapshot: pageSnapshot(req),
	}

	minimized := false
	attempt := 0
	backoff := c.cfg.RetryBackoffBase

	for {
		err := c.pumpOnce(ctx, preq, session)
		if err == nil {
			return nil
		}

		switch class := providers.Classify(err); {
		case class == providers.ClassContextLength && !minimized:
			minimized = true
			preq = preq.Minimized()
			logger.Warn("context window exceeded, retrying minimized", "session", session.ID())
			c.diagnostic(session.ID(), "retrying with a reduced request")

		case providers.IsRetryable(err) && attempt < c.cfg.MaxRetries:
			attempt++
			logger.Warn("stream attempt failed",
				"session", session.ID(), "attempt", attempt, "error", err)
			c.diagnostic(session.ID(), fmt.Sprintf("reconnecting to the model (attempt %d)", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitteredBackoff(backoff, c.cfg.RetryBackoffMax)):
			}
			backoff *= 2

		default:
			return err
		}
	}
}

// pumpOnce consumes one provider stream, feeding every delta through the
// session and forwarding cleaned prose and freshly completed directives.
func (c *Channel) pumpOnce(ctx context.Context, preq providers.PredictionRequest, session *stream.Session) error {
	chunks, err := c.cfg.Provider.PredictStream(ctx, preq)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return chunk.Err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		metrics.RecordStreamChunk(c.cfg.Provider.ID())

		fresh, cleaned := session.Feed(chunk.Delta)
		for _, d := range fresh {
			metrics.RecordDirective(string(d.Kind), string(d.Origin))
		}
		if cleaned == "" && len(fresh) == 0 {
			continue
		}
		if err := c.sink.Send(Event{
			Type:       EventContent,
			SessionID:  session.ID(),
			Timestamp:  time.Now(),
			Text:       cleaned,
			Directives: fresh,
		}); err != nil {
			return fmt.Errorf("client write: %w", err)
		}
	}
	return nil
}

// ensureFallback synthesizes a highlight when the finished turn pointed at
// nothing. Turns that navigated are exempt: moving the viewer is already a
// visible outcome.
func (c *Channel) ensureFallback(req types.TurnRequest, session *stream.Session) {
	if session.HasGeometric() || session.HasNavigation() {
		return
	}

	fb := stream.Fallback(session.CurrentPage(), string(req.Hint), c.cfg.Bounds)
	session.RecordFallback(fb)
	metrics.RecordDirective(string(fb.Kind), string(fb.Origin))

	_ = c.sink.Send(Event{
		Type:       EventContent,
		SessionID:  session.ID(),
		Timestamp:  time.Now(),
		Directives: []directives.Directive{fb},
	})
}

// persist hands the turn's messages to the store. Uses a fresh context so a
// canceled request cannot lose the handoff.
func (c *Channel) persist(req types.TurnRequest, session *stream.Session) {
	if c.cfg.Store == nil {
		return
	}
	key := statestore.Key{DocumentID: req.DocumentID, UserID: req.UserID}
	if !key.Valid() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if u := req.LatestUserMessage(); u != nil {
		if err := c.cfg.Store.AppendMessage(ctx, key, *u); err != nil {
			logger.Error("persist user message", "session", req.SessionID, "error", err)
		}
	}
	msg := types.Message{
		Role:        types.RoleAssistant,
		Content:     session.Text(),
		Annotations: session.Directives(),
	}
	if err := c.cfg.Store.AppendMessage(ctx, key, msg); err != nil {
		logger.Error("persist assistant message", "session", req.SessionID, "error", err)
	}
}

// fail resolves a stream error into the right terminal state and closing
// event sequence, and sets the metrics status label.
func (c *Channel) fail(req types.TurnRequest, session *stream.Session, err error, status *string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		*status = "timeout"
		logger.Error("turn timed out", "session", req.SessionID, "timeout", c.cfg.TurnTimeout)
		c.terminate(req.SessionID, terminalSequence{
			state:     StateTimedOut,
			code:      "timeout",
			message:   "the turn exceeded its time budget",
			apology:   apologyTimeoutText,
			retryable: true,
			emitted:   session.Directives(),
		})

	case errors.Is(err, context.Canceled):
		// Client is gone; the closing writes are best-effort.
		*status = "canceled"
		logger.Info("turn canceled", "session", req.SessionID)
		c.terminate(req.SessionID, terminalSequence{
			state:   StateErroring,
			code:    "canceled",
			message: "the turn was canceled",
			apology: apologyText,
			emitted: session.Directives(),
		})

	default:
		*status = "error"
		class := providers.Classify(err)
		logger.Error("turn failed", "session", req.SessionID, "class", class.String(),
			"error", logger.Redact(err.Error()))
		c.terminate(req.SessionID, terminalSequence{
			state:   StateErroring,
			code:    class.String(),
			message: "the model request could not be completed",
			apology: apologyText,
			// A blown context window is recoverable from the client's side:
			// a shorter question fits.
			retryable: providers.IsRetryable(err) || class == providers.ClassContextLength,
			emitted:   session.Directives(),
		})
	}
	return err
}

// terminalSequence describes the closing event triple for a failed turn.
type terminalSequence struct {
	state     State
	code      string
	message   string
	apology   string
	retryable bool
	emitted   []directives.Directive
}

// terminate emits the closing sequence every terminal path owes the client:
// error, apology content, end. Send failures are ignored; the client may
// already be gone.
func (c *Channel) terminate(sessionID string, seq terminalSequence) {
	c.setState(seq.state)
	now := time.Now()
	_ = c.sink.Send(Event{
		Type:      EventError,
		SessionID: sessionID,
		Timestamp: now,
		Code:      seq.code,
		Message:   seq.message,
		Retryable: seq.retryable,
	})
	_ = c.sink.Send(Event{
		Type:      EventContent,
		SessionID: sessionID,
		Timestamp: now,
		Text:      seq.apology,
	})
	_ = c.sink.Send(Event{
		Type:       EventEnd,
		SessionID:  sessionID,
		Timestamp:  now,
		Directives: seq.emitted,
	})
	c.setState(StateClosed)
}

func (c *Channel) diagnostic(sessionID, message string) {
	_ = c.sink.Send(Event{
		Type:      EventDiagnostic,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Message:   message,
	})
}

// pageSnapshot captures the request's immutable page context for the
// completion call, or nil when the client sent no page text.
func pageSnapshot(req types.TurnRequest) *providers.PageSnapshot {
	if req.PageText == "" && len(req.Neighbors) == 0 {
		return nil
	}
	return &providers.PageSnapshot{
		CurrentPage: req.CurrentPage,
		PageCount:   req.PageCount,
		Text:        req.PageText,
		Neighbors:   req.Neighbors,
	}
}

// startHeartbeat sends heartbeat events at the configured cadence until the
// returned stop function is called or the context ends. Heartbeats are
// independent of content: a slow model never silences the channel. Stop
// blocks until the sender has exited, so after it returns no heartbeat can
// reach the sink.
func (c *Channel) startHeartbeat(ctx context.Context, sessionID string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				metrics.RecordHeartbeat()
				if err := c.sink.Send(Event{
					Type:      EventHeartbeat,
					SessionID: sessionID,
					Timestamp: time.Now(),
				}); err != nil {
					logger.Warn("heartbeat write failed", "session", sessionID, "error", err)
					return
				}
			}
		}
	}()

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
		<-finished
	}
}

// jitterPrecision is the granularity for crypto/rand jitter generation.
const jitterPrecision = 1000

// jitteredBackoff applies +-25% jitter to delay, capped at maxDelay.
func jitteredBackoff(delay, maxDelay time.Duration) time.Duration {
	if delay > maxDelay {
		delay = maxDelay
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	jitter := float64(delay) * 0.25 * (float64(n.Int64())/(jitterPrecision/2) - 1)
	result := time.Duration(float64(delay) + jitter)
	if result < 0 {
		result = delay
	}
	if result > maxDelay {
		result = maxDelay
	}
	return result
}
