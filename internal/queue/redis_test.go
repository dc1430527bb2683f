package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *RedisDeadLetterQueue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig("test-abuse-log")
	q, err := NewRedisQueue(client, cfg)
	require.NoError(t, err)
	dlq, err := NewRedisDeadLetterQueue(client, cfg)
	require.NoError(t, err)

	return q, dlq
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	event := logEvent{AccountID: "acc-1", Activity: "refund", Score: 65}
	require.NoError(t, q.Enqueue(ctx, event))

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Redis round-trips items as raw JSON, the way the worker sees them.
	raw, ok := items[0].(json.RawMessage)
	require.True(t, ok)

	var got logEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, event, got)
}

func TestRedisQueue_DrainsInOrder(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, q.Enqueue(ctx, logEvent{AccountID: "acc", Score: i}))
	}

	items, err := q.DequeueWithTimeout(ctx, 5, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 5)

	var first logEvent
	require.NoError(t, json.Unmarshal(items[0].(json.RawMessage), &first))
	assert.Equal(t, 0, first.Score, "FIFO order")

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestRedisQueue_SurvivesReconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig("test-abuse-log")
	ctx := context.Background()

	first := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q, err := NewRedisQueue(first, cfg)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, logEvent{AccountID: "acc-1", Score: 40}))
	require.NoError(t, q.Close())
	require.NoError(t, first.Close())

	// A fresh client over the same Redis sees the queued item.
	second := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer second.Close()
	q, err = NewRedisQueue(second, cfg)
	require.NoError(t, err)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestRedisQueue_RequiresClient(t *testing.T) {
	_, err := NewRedisQueue(nil, DefaultConfig("x"))
	assert.Error(t, err)
	_, err = NewRedisDeadLetterQueue(nil, DefaultConfig("x"))
	assert.Error(t, err)
}

func TestRedisDeadLetterQueue_ParkAndRemove(t *testing.T) {
	_, dlq := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, logEvent{AccountID: "acc-1"}, ErrMaxRetriesExceeded))
	require.NoError(t, dlq.Add(ctx, logEvent{AccountID: "acc-2"}, ErrMaxRetriesExceeded))

	items, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.NotEmpty(t, item.ID)
		assert.Equal(t, ErrMaxRetriesExceeded.Error(), item.Error)
	}

	require.NoError(t, dlq.Remove(ctx, items[0].ID))

	items, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
