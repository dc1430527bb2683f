package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the full worker flow against the memory backend: enqueue,
// drain in batches, park a failure in the DLQ, and retire it.
func TestQueueFlow_BatchThenDeadLetter(t *testing.T) {
	cfg := DefaultConfig("flow-test")
	cfg.BatchSize = 5
	cfg.BatchTimeout = 100 * time.Millisecond

	q := NewMemoryQueue(cfg)
	dlq := NewMemoryDeadLetterQueue()
	defer q.Close()
	defer dlq.Close()

	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(ctx, logEvent{AccountID: "acc-1", Activity: "message", Score: i}))
	}

	// First pass fills the batch, second takes the remainder.
	batch, err := q.DequeueWithTimeout(ctx, cfg.BatchSize, cfg.BatchTimeout)
	require.NoError(t, err)
	require.Len(t, batch, 5)

	rest, err := q.DequeueWithTimeout(ctx, cfg.BatchSize, cfg.BatchTimeout)
	require.NoError(t, err)
	require.Len(t, rest, 3)

	// One item fails persistence and lands in the DLQ.
	require.NoError(t, dlq.Add(ctx, batch[0], ErrMaxRetriesExceeded))

	parked, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, batch[0], parked[0].Item)

	// Operator replays it and clears the entry.
	require.NoError(t, dlq.Remove(ctx, parked[0].ID))
	parked, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, parked)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}
