package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jumpstudy/internal/models"
	"jumpstudy/internal/queue"
	"jumpstudy/internal/utils"
)

// AbuseLogQueueWorker persists abuse log entries asynchronously, so risk
// bookkeeping never adds latency to the authorization path. Entries that
// exhaust their retries land in the dead letter queue.
type AbuseLogQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	db          *DB
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewAbuseLogQueueWorker creates a new abuse log queue worker
func NewAbuseLogQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, db *DB, config *queue.Config) *AbuseLogQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("abuse-log")
	}

	return &AbuseLogQueueWorker{
		queue:       q,
		dlq:         dlq,
		db:          db,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *AbuseLogQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *AbuseLogQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds an abuse log entry to the queue
func (w *AbuseLogQueueWorker) Enqueue(ctx context.Context, entry *models.AbuseLog) error {
	return w.queue.Enqueue(ctx, entry)
}

// run is the main worker loop
func (w *AbuseLogQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("abuse-log-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Abuse log worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Abuse log worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch processes a batch of abuse log entries
func (w *AbuseLogQueueWorker) processBatch(ctx context.Context, logger *utils.Logger) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue abuse log entries", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(items) == 0 {
		return
	}

	logger.Debug("Processing abuse log batch", "count", len(items))

	entries := make([]*models.AbuseLog, 0, len(items))
	for _, item := range items {
		var entry models.AbuseLog
		if err := w.unmarshalItem(item, &entry); err != nil {
			logger.Error("Failed to unmarshal abuse log entry", "error", err)
			continue
		}
		entries = append(entries, &entry)
	}

	if len(entries) == 0 {
		return
	}

	if err := w.insertBatch(ctx, entries, logger); err != nil {
		logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, entry := range entries {
			if err := w.processItem(ctx, entry, logger); err != nil {
				logger.Error("Failed to process abuse log entry", "error", err)
			}
		}
	}
}

// insertBatch inserts multiple abuse log entries in a single transaction
func (w *AbuseLogQueueWorker) insertBatch(ctx context.Context, entries []*models.AbuseLog, logger *utils.Logger) error {
	repo := NewAbuseLogRepository(w.db)

	tx, err := w.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := repo.Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("Inserted batch successfully", "count", len(entries))
	return nil
}

// processItem processes a single abuse log entry with retries
func (w *AbuseLogQueueWorker) processItem(ctx context.Context, entry *models.AbuseLog, logger *utils.Logger) error {
	repo := NewAbuseLogRepository(w.db)

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying abuse log entry", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := repo.Create(ctx, entry); err != nil {
			lastErr = err
			logger.Error("Failed to insert abuse log entry", "attempt", attempt, "error", err)
			continue
		}

		logger.Debug("Abuse log entry inserted", "account_id", entry.AccountID)
		return nil
	}

	// Max retries exceeded - add to dead letter queue
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, entry, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Abuse log entry moved to DLQ", "account_id", entry.AccountID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// unmarshalItem unmarshals a queue item into an AbuseLog
func (w *AbuseLogQueueWorker) unmarshalItem(item interface{}, entry *models.AbuseLog) error {
	switch v := item.(type) {
	case *models.AbuseLog:
		*entry = *v
		return nil
	case models.AbuseLog:
		*entry = v
		return nil
	case []byte:
		return json.Unmarshal(v, entry)
	case json.RawMessage:
		return json.Unmarshal(v, entry)
	default:
		// Items that round-tripped through Redis arrive as generic JSON.
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("unsupported queue item type %T: %w", item, err)
		}
		return json.Unmarshal(data, entry)
	}
}
