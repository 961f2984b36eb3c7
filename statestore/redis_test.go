package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docent-ai/docent/types"
)

func newTestRedisStore(t *testing.T, opts ...RedisOption) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, opts...)
}

func TestRedisStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	state := &ConversationState{
		DocumentID: "doc-1",
		UserID:     "user-1",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "what is on this page?"},
			{Role: types.RoleAssistant, Content: "a diagram"},
		},
	}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, Key{DocumentID: "doc-1", UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "a diagram", loaded.Messages[1].Content)
	assert.False(t, loaded.LastAccessedAt.IsZero())
}

func TestRedisStore_LoadMissing(t *testing.T) {
	store := newTestRedisStore(t)

	_, err := store.Load(context.Background(), Key{DocumentID: "doc", UserID: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_InvalidKey(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, Key{DocumentID: "doc"})
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, store.AppendMessage(ctx, Key{UserID: "u"}, types.Message{}), ErrInvalidKey)
	assert.ErrorIs(t, store.Save(ctx, &ConversationState{}), ErrInvalidKey)
}

func TestRedisStore_AppendMessage(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	key := Key{DocumentID: "doc", UserID: "u"}

	require.NoError(t, store.AppendMessage(ctx, key, types.Message{Role: types.RoleUser, Content: "first"}))
	require.NoError(t, store.AppendMessage(ctx, key, types.Message{Role: types.RoleAssistant, Content: "second"}))

	state, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "first", state.Messages[0].Content)
	assert.Equal(t, "second", state.Messages[1].Content)
}

func TestRedisStore_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, WithTTL(time.Minute))
	ctx := context.Background()
	key := Key{DocumentID: "doc", UserID: "u"}

	require.NoError(t, store.AppendMessage(ctx, key, types.Message{Role: types.RoleUser, Content: "hi"}))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisStore(client, WithPrefix("staging"))
	b := NewRedisStore(client, WithPrefix("prod"))
	ctx := context.Background()
	key := Key{DocumentID: "doc", UserID: "u"}

	require.NoError(t, a.AppendMessage(ctx, key, types.Message{Role: types.RoleUser, Content: "staging only"}))

	_, err := b.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	key := Key{DocumentID: "doc", UserID: "u"}

	require.NoError(t, store.AppendMessage(ctx, key, types.Message{Role: types.RoleUser, Content: "hi"}))
	require.NoError(t, store.Delete(ctx, key))

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is fine.
	assert.NoError(t, store.Delete(ctx, key))
}
