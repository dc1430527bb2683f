package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logEvent stands in for the abuse log entries the production worker
// pushes through the queue.
type logEvent struct {
	AccountID string `json:"account_id"`
	Activity  string `json:"activity"`
	Score     int    `json:"score"`
}

func TestMemoryQueue_RoundTrip(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	event := logEvent{AccountID: "acc-1", Activity: "refund", Score: 65}
	require.NoError(t, q.Enqueue(ctx, event))

	items, err := q.DequeueWithTimeout(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, event, items[0].(logEvent))
}

func TestMemoryQueue_DrainsUpToBatchSize(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, q.Enqueue(ctx, logEvent{AccountID: "acc-1", Score: i}))
	}

	items, err := q.DequeueWithTimeout(ctx, 5, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, length)
}

func TestMemoryQueue_TimeoutReturnsEmpty(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	const producers, perProducer = 10, 50

	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				assert.NoError(t, q.Enqueue(ctx, logEvent{AccountID: "acc", Score: id}))
			}
		}(i)
	}
	wg.Wait()

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, producers*perProducer, length)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	require.NoError(t, q.Close())
	ctx := context.Background()

	assert.ErrorIs(t, q.Enqueue(ctx, logEvent{}), ErrQueueClosed)
	_, err := q.Length(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Closing twice is fine.
	assert.NoError(t, q.Close())
}

func TestMemoryDeadLetterQueue_ParkAndRemove(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, logEvent{AccountID: "acc-1"}, ErrMaxRetriesExceeded))
	require.NoError(t, dlq.Add(ctx, logEvent{AccountID: "acc-2"}, ErrMaxRetriesExceeded))

	items, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	for _, item := range items {
		assert.Equal(t, ErrMaxRetriesExceeded.Error(), item.Error)
		assert.False(t, item.Timestamp.IsZero())
	}

	require.NoError(t, dlq.Remove(ctx, items[0].ID))

	items, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestMemoryDeadLetterQueue_RemoveUnknownID(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	assert.ErrorIs(t, dlq.Remove(context.Background(), "missing"), ErrItemNotFound)
}

func TestMemoryDeadLetterQueue_Closed(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	require.NoError(t, dlq.Close())
	ctx := context.Background()

	assert.ErrorIs(t, dlq.Add(ctx, logEvent{}, ErrMaxRetriesExceeded), ErrQueueClosed)
	_, err := dlq.List(ctx, 10)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, dlq.Remove(ctx, "x"), ErrQueueClosed)
}
