// Package statestore hands completed turns to persistent storage.
//
// The runtime only defines the handoff shape: an assembled message with its
// ordered directive list, keyed by document and user. Anything beyond that
// (schema, retention policy) belongs to the storing collaborator.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/docent-ai/docent/types"
)

// Store errors.
var (
	ErrNotFound     = errors.New("conversation not found")
	ErrInvalidKey   = errors.New("invalid conversation key")
	ErrInvalidState = errors.New("invalid conversation state")
)

// defaultTTL is how long persisted conversations live without access.
const defaultTTL = 24 * time.Hour

// Key identifies one conversation: one user reading one document.
type Key struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

// Valid reports whether both components are present.
func (k Key) Valid() bool { return k.DocumentID != "" && k.UserID != "" }

func (k Key) String() string { return k.DocumentID + "|" + k.UserID }

// ConversationState is the stored history for one conversation.
type ConversationState struct {
	DocumentID     string          `json:"document_id"`
	UserID         string          `json:"user_id"`
	Messages       []types.Message `json:"messages"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
}

// Key returns the state's conversation key.
func (s *ConversationState) Key() Key {
	return Key{DocumentID: s.DocumentID, UserID: s.UserID}
}

// Store persists conversation state across turns.
type Store interface {
	// Load retrieves a conversation. Returns ErrNotFound if absent.
	Load(ctx context.Context, key Key) (*ConversationState, error)

	// Save persists a conversation, replacing any existing state.
	Save(ctx context.Context, state *ConversationState) error

	// AppendMessage adds one message to a conversation, creating it if
	// absent. This is the end-of-turn handoff path.
	AppendMessage(ctx context.Context, key Key, msg types.Message) error

	// Delete removes a conversation. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
}
