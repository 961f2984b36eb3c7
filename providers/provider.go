// Package providers abstracts the completion service that generates the
// assistant's narration. The runtime consumes raw incremental text from a
// provider; prompt construction and model selection stay on the caller's
// side of the boundary.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/docent-ai/docent/types"
)

// Finish reasons reported on the terminal stream chunk.
const (
	FinishReasonStop     = "stop"
	FinishReasonLength   = "length"
	FinishReasonError    = "error"
	FinishReasonCanceled = "canceled"
)

// MinimizedMaxTokens is the reduced output budget used for the single
// minimized-payload retry after a context-length failure.
const MinimizedMaxTokens = 256

// minimizedSystem replaces the full system directive on a minimized retry.
const minimizedSystem = "You are a concise document tutoring assistant. Answer briefly."

// PageSnapshot is the page context captured at turn open: the text of the
// page the viewer is looking at plus neighbor excerpts. It is serialized into
// the completion request so the narration is grounded in what is actually on
// screen.
type PageSnapshot struct {
	CurrentPage int                 `json:"current_page"`
	PageCount   int                 `json:"page_count"`
	Text        string              `json:"text"`
	Neighbors   []types.PageContext `json:"neighbors,omitempty"`
}

// Prompt renders the snapshot as a context block for the completion request.
func (s *PageSnapshot) Prompt() string {
	var b strings.Builder
	if s.PageCount > 0 {
		fmt.Fprintf(&b, "The viewer is on page %d of %d.", s.CurrentPage, s.PageCount)
	} else {
		fmt.Fprintf(&b, "The viewer is on page %d.", s.CurrentPage)
	}
	if s.Text != "" {
		fmt.Fprintf(&b, "\n\nPage %d text:\n%s", s.CurrentPage, s.Text)
	}
	for _, n := range s.Neighbors {
		if n.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nPage %d excerpt:\n%s", n.Number, n.Text)
	}
	return b.String()
}

// PredictionRequest is one completion call.
type PredictionRequest struct {
	System      string          `json:"system,omitempty"`
	Messages    []types.Message `json:"messages"`
	Snapshot    *PageSnapshot   `json:"snapshot,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// Minimized returns a copy of the request shrunk for a context-length retry:
// the system directive collapses to a short prompt, only the latest user
// message survives, the page snapshot is dropped, and the output budget
// drops. Retrying the full payload would just hit the same limit again.
func (r PredictionRequest) Minimized() PredictionRequest {
	min := PredictionRequest{
		System:      minimizedSystem,
		Temperature: r.Temperature,
		MaxTokens:   MinimizedMaxTokens,
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == types.RoleUser {
			min.Messages = []types.Message{{Role: types.RoleUser, Content: r.Messages[i].Content}}
			break
		}
	}
	return min
}

// PredictionResponse is the result of a non-streaming completion call.
type PredictionResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// StreamChunk is one increment of a streaming completion. Chunk boundaries
// are arbitrary relative to any structure in the text.
type StreamChunk struct {
	// Content is the accumulated text so far.
	Content string `json:"content"`

	// Delta is the new text in this chunk.
	Delta string `json:"delta"`

	TokenCount  int `json:"token_count"`
	DeltaTokens int `json:"delta_tokens"`

	// FinishReason is nil until the stream is complete.
	FinishReason *string `json:"finish_reason,omitempty"`

	// Err is set if the stream failed mid-flight.
	Err error `json:"-"`
}

// Provider is a completion service client. Implementations must be safe for
// concurrent use: turns share nothing but the provider itself.
type Provider interface {
	// ID returns a stable identifier for logging and metrics.
	ID() string

	// Predict performs a blocking completion (non-streaming mode).
	Predict(ctx context.Context, req PredictionRequest) (*PredictionResponse, error)

	// PredictStream starts a streaming completion. The returned channel is
	// closed after the terminal chunk (FinishReason or Err set).
	PredictStream(ctx context.Context, req PredictionRequest) (<-chan StreamChunk, error)

	// Close releases any held resources.
	Close() error
}

// StringPtr returns a pointer to s, for FinishReason fields.
func StringPtr(s string) *string { return &s }
