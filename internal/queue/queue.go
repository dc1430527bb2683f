package queue

import (
	"context"
	"time"
)

// Package queue buffers risk bookkeeping between the authorization path
// and Postgres, so writing an abuse log never adds latency to a decision.
// Two backends share one interface:
//
//   - memory: channel-based, nothing survives a restart. For single-pod
//     and development deployments.
//   - redis: list-based, survives restarts and can feed workers in other
//     pods. Reuses the service's shared Redis client.
//
// Flow:
//
//	┌─────────────┐
//	│ Authorize   │
//	└──────┬──────┘
//	       │
//	       ▼
//	┌──────────────┐
//	│ Abuse Log    │
//	│ Queue        │
//	└──────┬───────┘
//	       │
//	       ▼
//	┌──────────────┐
//	│ Abuse Log    │
//	│ Worker       │
//	│ (batches)    │
//	└──────┬───────┘
//	       │
//	       │ (retry)
//	       ├─────────┐
//	       │         │
//	       ▼         ▼
//	 ┌──────────┐ ┌─────┐
//	 │   DB     │ │ DLQ │
//	 │  Abuse   │ └─────┘
//	 │  Logs    │
//	 └──────────┘
//
// The worker drains in batches (BatchSize items or BatchTimeout,
// whichever comes first), retries failed inserts with exponential
// backoff, and parks entries that exhaust their retries in the dead
// letter queue for manual inspection.

// Queue is the producer/consumer contract for async persistence.
type Queue interface {
	// Enqueue adds an item to the queue.
	Enqueue(ctx context.Context, item interface{}) error

	// DequeueWithTimeout waits up to timeout for the first item, then
	// drains without blocking up to maxItems. An empty slice means the
	// timeout elapsed with nothing queued.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the number of items currently queued.
	Length(ctx context.Context) (int, error)

	// Close shuts the queue down. Enqueued items that were never
	// dequeued are dropped (memory) or left in Redis for the next run.
	Close() error
}

// DeadLetterQueue parks items that could not be persisted after retries.
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem wraps a failed item with the error that killed it.
type DeadLetterItem struct {
	ID        string
	Item      interface{}
	Error     string
	Timestamp time.Time
	Retries   int
}

// Config tunes batching and retry behavior. The same config is shared by
// the queue and the worker draining it.
type Config struct {
	// BatchSize caps how many items one worker pass drains.
	BatchSize int

	// BatchTimeout is how long a pass waits before giving up on filling
	// a batch.
	BatchTimeout time.Duration

	// MaxRetries bounds per-item insert attempts before the DLQ.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration

	// QueueName namespaces the Redis keys.
	QueueName string
}

// DefaultConfig returns the batching defaults used for abuse logs.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		QueueName:    queueName,
	}
}
