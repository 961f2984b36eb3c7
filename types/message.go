// Package types defines the message and request shapes exchanged with
// external collaborators: the client opening a turn, the persistence store,
// and the renderer-facing consumer.
package types

import (
	"encoding/json"

	"github.com/docent-ai/docent/directives"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Ingestion caps. Page text beyond these limits is truncated at turn-open so
// a single oversized page cannot blow the completion request budget.
const (
	MaxPageTextLen     = 5000
	MaxNeighborTextLen = 300
)

// Message is a single conversation entry. This is also the persistence
// handoff shape: at end-of-turn the assembled assistant message, with its
// ordered directive list, is handed to the external store.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Annotations are the directives recovered from this message's text,
	// in emission order, including any synthesized fallback.
	Annotations []directives.Directive `json:"annotations,omitempty"`
}

// PageContext carries the text of one page for grounding the narration.
type PageContext struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// TurnRequest opens one conversational turn. SessionID is caller-chosen and
// opaque; the page snapshot is immutable for the duration of the turn.
type TurnRequest struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`

	Messages []Message `json:"messages"`

	PageText    string        `json:"page_text"`
	Neighbors   []PageContext `json:"neighbors,omitempty"`
	CurrentPage int           `json:"current_page"`
	PageCount   int           `json:"page_count"`

	// Hint is optional client-supplied position data, passed through to the
	// fallback generator. Kept raw: its structure belongs to the client.
	Hint json.RawMessage `json:"hint,omitempty"`

	// ProtocolVersion is the client's announced event protocol version.
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

// Normalize applies ingestion caps and page sanity in place.
func (r *TurnRequest) Normalize() {
	if len(r.PageText) > MaxPageTextLen {
		r.PageText = r.PageText[:MaxPageTextLen]
	}
	for i := range r.Neighbors {
		if len(r.Neighbors[i].Text) > MaxNeighborTextLen {
			r.Neighbors[i].Text = r.Neighbors[i].Text[:MaxNeighborTextLen]
		}
	}
	if r.CurrentPage < 1 {
		r.CurrentPage = 1
	}
	if r.PageCount > 0 && r.CurrentPage > r.PageCount {
		r.CurrentPage = r.PageCount
	}
}

// LatestUserMessage returns the most recent user message, or nil.
func (r *TurnRequest) LatestUserMessage() *Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return &r.Messages[i]
		}
	}
	return nil
}
