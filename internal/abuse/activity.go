package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActivityTracker keeps a sliding window of recent actions per account in
// Redis sorted sets, keyed by timestamp. It backs the rate-oriented risk
// signals (requests per minute, generations per hour).
type ActivityTracker struct {
	client *redis.Client
	now    func() time.Time
}

// NewActivityTracker creates a tracker on an existing Redis client.
func NewActivityTracker(client *redis.Client) *ActivityTracker {
	return &ActivityTracker{client: client, now: time.Now}
}

// maxWindow bounds how far back any signal looks; entries older than this
// are dropped and keys expire shortly after.
const maxWindow = time.Hour

func activityKey(accountID uuid.UUID, action Action) string {
	return fmt.Sprintf("activity:%s:%s", accountID, action)
}

// Record registers one occurrence of action for the account.
func (t *ActivityTracker) Record(ctx context.Context, accountID uuid.UUID, action Action) error {
	key := activityKey(accountID, action)
	now := t.now()

	pipe := t.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Add(-maxWindow).UnixMilli()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%d", now.UnixMilli(), now.Nanosecond()),
	})
	pipe.Expire(ctx, key, maxWindow+10*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// CountWindow returns how many occurrences of action fall within the
// trailing window.
func (t *ActivityTracker) CountWindow(ctx context.Context, accountID uuid.UUID, action Action, window time.Duration) (int, error) {
	if window > maxWindow {
		window = maxWindow
	}

	key := activityKey(accountID, action)
	cutoff := t.now().Add(-window).UnixMilli()

	count, err := t.client.ZCount(ctx, key, fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count activity: %w", err)
	}
	return int(count), nil
}

// GenerationsLastHour sums the generation-feature actions for an account
// over the trailing hour.
func (t *ActivityTracker) GenerationsLastHour(ctx context.Context, accountID uuid.UUID) (int, error) {
	var total int
	for _, action := range []Action{ActionQuiz, ActionNote, ActionSlideshow} {
		count, err := t.CountWindow(ctx, accountID, action, time.Hour)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}
