package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"jumpstudy/internal/utils"
)

// ErrSinkFull is returned when the buffer is at capacity. The caller
// drops the record rather than blocking the authorization path.
var ErrSinkFull = errors.New("audit sink buffer full")

// ErrSinkClosed is returned after Shutdown has started.
var ErrSinkClosed = errors.New("audit sink closed")

// BatchWriter persists a batch of decision records somewhere durable.
// S3Writer is the production implementation.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*DecisionRecord) (string, error)
}

// S3SinkConfig holds configuration for the buffered audit sink
type S3SinkConfig struct {
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// DefaultS3SinkConfig returns default sink configuration
func DefaultS3SinkConfig() S3SinkConfig {
	return S3SinkConfig{
		BufferSize:    10000,
		FlushSize:     1000,
		FlushInterval: 5 * time.Minute,
	}
}

// S3Sink buffers decision records in memory and flushes them to the
// writer in batches, either when the batch fills or on the flush
// interval. Enqueue never blocks; a full buffer loses the record and the
// loss is logged.
type S3Sink struct {
	writer BatchWriter
	config S3SinkConfig
	logger *utils.Logger

	records chan *DecisionRecord

	mu     sync.Mutex
	closed bool

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewS3Sink creates a sink flushing to the given writer and starts its
// background flush loop
func NewS3Sink(writer BatchWriter, config S3SinkConfig) *S3Sink {
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if config.FlushSize <= 0 {
		config.FlushSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Minute
	}

	s := &S3Sink{
		writer:  writer,
		config:  config,
		logger:  utils.NewLogger("audit-sink"),
		records: make(chan *DecisionRecord, config.BufferSize),
		doneCh:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Enqueue adds a record to the buffer without blocking
func (s *S3Sink) Enqueue(rec *DecisionRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()

	select {
	case s.records <- rec:
		return nil
	default:
		s.logger.Warn("Audit buffer full, dropping record", "request_id", rec.RequestID)
		return ErrSinkFull
	}
}

// Shutdown stops the flush loop and drains whatever is buffered
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the background flush loop
func (s *S3Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*DecisionRecord, 0, s.config.FlushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("Failed to flush audit batch", "count", len(batch), "error", err)
		}
		cancel()

		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.records:
			batch = append(batch, rec)
			if len(batch) >= s.config.FlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			// Drain remaining records before exiting.
			for {
				select {
				case rec := <-s.records:
					batch = append(batch, rec)
					if len(batch) >= s.config.FlushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
