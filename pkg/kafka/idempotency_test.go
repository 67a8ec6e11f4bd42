package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore_AddAndContains(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	ctx := context.Background()

	got, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, store.Add(ctx, "evt-1"))

	got, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "evt-1"))

	now = now.Add(2 * time.Minute)
	got, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, store.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisIdempotencyStore(client, "processed:stock:", time.Hour)
	ctx := context.Background()

	got, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, store.Add(ctx, "evt-1"))
	assert.True(t, mr.Exists("processed:stock:evt-1"))

	got, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, got)

	mr.FastForward(2 * time.Hour)
	got, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestRedisIdempotencyStore_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := NewRedisIdempotencyStore(client, "p:", time.Hour)
	_, err := store.Contains(context.Background(), "evt-1")
	require.Error(t, err)
}

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	calls := 0
	handler := IdempotentHandler(store, "g", func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	event := &Event{EventID: "evt-1", EventType: "order.accepted"}
	require.NoError(t, handler(context.Background(), event))
	require.NoError(t, handler(context.Background(), event))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_FailureIsNotRecorded(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	fail := true
	calls := 0
	handler := IdempotentHandler(store, "g", func(context.Context, *Event) error {
		calls++
		if fail {
			return errors.New("transient")
		}
		return nil
	}, testLogger())

	event := &Event{EventID: "evt-2"}
	require.Error(t, handler(context.Background(), event))

	fail = false
	require.NoError(t, handler(context.Background(), event))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandler_EmptyIDPassesThrough(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Hour)
	calls := 0
	handler := IdempotentHandler(store, "g", func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	require.NoError(t, handler(context.Background(), &Event{}))
	require.NoError(t, handler(context.Background(), &Event{}))
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.Len())
}

type brokenStore struct{}

func (brokenStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (brokenStore) Add(context.Context, string) error { return errors.New("redis down") }

func TestIdempotentHandler_StoreFailureStillProcesses(t *testing.T) {
	calls := 0
	handler := IdempotentHandler(brokenStore{}, "g", func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	require.NoError(t, handler(context.Background(), &Event{EventID: "evt-3"}))
	assert.Equal(t, 1, calls)
}
