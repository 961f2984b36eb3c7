package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docent-ai/docent/types"
)

// defaultPrefix namespaces all keys written by this runtime.
const defaultPrefix = "docent"

// RedisStore is a Redis-backed Store using JSON values with TTL-based
// cleanup. Suitable for distributed deployments where several runtime
// instances serve the same users.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets how long conversations live without access. Zero disables
// expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) redisKey(key Key) string {
	return fmt.Sprintf("%s:conversation:%s:%s", s.prefix, key.DocumentID, key.UserID)
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key Key) (*ConversationState, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, state *ConversationState) error {
	if state == nil {
		return ErrInvalidState
	}
	if !state.Key().Valid() {
		return ErrInvalidKey
	}

	state.LastAccessedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := s.client.Set(ctx, s.redisKey(state.Key()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// AppendMessage implements Store via a load-modify-save cycle. Turns for one
// conversation are serialized by the client, so last-write-wins is
// acceptable here.
func (s *RedisStore) AppendMessage(ctx context.Context, key Key, msg types.Message) error {
	if !key.Valid() {
		return ErrInvalidKey
	}

	state, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		state = &ConversationState{DocumentID: key.DocumentID, UserID: key.UserID}
	} else if err != nil {
		return err
	}

	state.Messages = append(state.Messages, msg)
	return s.Save(ctx, state)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
