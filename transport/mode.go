package transport

import (
	"context"
	"time"

	"github.com/docent-ai/docent/directives"
	"github.com/docent-ai/docent/logger"
	metrics "github.com/docent-ai/docent/metrics/prometheus"
	"github.com/docent-ai/docent/providers"
	"github.com/docent-ai/docent/stream"
	"github.com/docent-ai/docent/types"
	"github.com/docent-ai/docent/version"
)

// Mode is the delivery mode for one turn, chosen before the channel opens.
// There is no mid-turn downgrade: a turn that starts streaming finishes
// streaming or fails.
type Mode string

// Delivery modes.
const (
	ModeStreaming Mode = "streaming"
	ModeBlocking  Mode = "blocking"
)

// blockingErrorThreshold is how many recent channel failures push a client
// into blocking mode.
const blockingErrorThreshold = 2

// ModeSignals are the client-reported conditions that select the delivery
// mode at turn open.
type ModeSignals struct {
	// PriorErrorCount is how many of the client's recent turns ended in a
	// channel error.
	PriorErrorCount int `json:"prior_error_count,omitempty"`

	// ReducedData reports the client is on a metered or data-saver
	// connection.
	ReducedData bool `json:"reduced_data,omitempty"`

	// MemoryPressure reports the client is shedding work.
	MemoryPressure bool `json:"memory_pressure,omitempty"`
}

// SelectMode picks the delivery mode from client signals. Streaming is the
// default; a struggling client gets one complete response instead of a
// channel it keeps dropping.
func SelectMode(sig ModeSignals) Mode {
	if sig.PriorErrorCount >= blockingErrorThreshold || sig.ReducedData || sig.MemoryPressure {
		return ModeBlocking
	}
	return ModeStreaming
}

// TurnResult is the complete outcome of a blocking-mode turn.
type TurnResult struct {
	SessionID  string                 `json:"session_id"`
	Text       string                 `json:"text"`
	Directives []directives.Directive `json:"directives"`
}

// RunBlocking executes one turn with a single blocking prediction: no
// events, no heartbeats, the full text and directive set in one response.
// The same parsing, normalization, dedup, and fallback rules apply; the
// whole completion is just fed through the session in one piece.
func (c *Channel) RunBlocking(ctx context.Context, req types.TurnRequest) (*TurnResult, error) {
	req.Normalize()
	start := time.Now()
	status := "complete"
	metrics.RecordTurnStart()
	defer func() { metrics.RecordTurnEnd(status, time.Since(start).Seconds()) }()

	if err := version.CheckProtocol(req.ProtocolVersion); err != nil {
		status = "error"
		return nil, err
	}

	preq := providers.PredictionRequest{
		System:   c.cfg.System,
		Messages: req.Messages,
		Snapshot: pageSnapshot(req),
	}

	resp, err := c.cfg.Provider.Predict(ctx, preq)
	if err != nil && providers.IsContextLength(err) {
		logger.Warn("context window exceeded, retrying minimized", "session", req.SessionID)
		resp, err = c.cfg.Provider.Predict(ctx, preq.Minimized())
	}
	if err != nil {
		status = "error"
		return nil, err
	}

	session := stream.NewSession(req.SessionID, req.CurrentPage, req.PageCount, c.cfg.Bounds)
	fresh, _ := session.Feed(resp.Content)
	for _, d := range fresh {
		metrics.RecordDirective(string(d.Kind), string(d.Origin))
	}
	c.ensureBlockingFallback(req, session)
	c.persist(req, session)

	return &TurnResult{
		SessionID:  req.SessionID,
		Text:       session.Text(),
		Directives: session.Directives(),
	}, nil
}

// ensureBlockingFallback mirrors ensureFallback without the event emission.
func (c *Channel) ensureBlockingFallback(req types.TurnRequest, session *stream.Session) {
	if session.HasGeometric() || session.HasNavigation() {
		return
	}
	fb := stream.Fallback(session.CurrentPage(), string(req.Hint), c.cfg.Bounds)
	session.RecordFallback(fb)
	metrics.RecordDirective(string(fb.Kind), string(fb.Origin))
}
