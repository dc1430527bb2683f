package queue

import "errors"

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter ID does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrMaxRetriesExceeded wraps the last insert error when an item is
	// moved to the dead letter queue.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
