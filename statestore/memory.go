package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/docent-ai/docent/types"
)

// MemoryStore is a thread-safe in-memory Store, suitable for development,
// tests, and single-instance deployments. Distributed deployments should use
// RedisStore.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]*ConversationState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]*ConversationState)}
}

// Load implements Store. Returns a deep copy so callers cannot mutate
// stored state.
func (s *MemoryStore) Load(_ context.Context, key Key) (*ConversationState, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyState(state), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, state *ConversationState) error {
	if state == nil {
		return ErrInvalidState
	}
	if !state.Key().Valid() {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyState(state)
	stored.LastAccessedAt = time.Now()
	s.states[state.Key()] = stored
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, key Key, msg types.Message) error {
	if !key.Valid() {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	if !ok {
		state = &ConversationState{DocumentID: key.DocumentID, UserID: key.UserID}
		s.states[key] = state
	}
	state.Messages = append(state.Messages, msg)
	state.LastAccessedAt = time.Now()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func copyState(in *ConversationState) *ConversationState {
	out := &ConversationState{
		DocumentID:     in.DocumentID,
		UserID:         in.UserID,
		LastAccessedAt: in.LastAccessedAt,
	}
	out.Messages = make([]types.Message, len(in.Messages))
	copy(out.Messages, in.Messages)
	return out
}
