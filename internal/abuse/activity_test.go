package abuse

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestActivityTracker_RecordAndCount(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	tracker := NewActivityTracker(client)
	ctx := context.Background()
	accountID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Record(ctx, accountID, ActionMessage))
	}

	count, err := tracker.CountWindow(ctx, accountID, ActionMessage, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestActivityTracker_ActionsAreIndependent(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	tracker := NewActivityTracker(client)
	ctx := context.Background()
	accountID := uuid.New()

	require.NoError(t, tracker.Record(ctx, accountID, ActionMessage))
	require.NoError(t, tracker.Record(ctx, accountID, ActionImage))

	count, err := tracker.CountWindow(ctx, accountID, ActionMessage, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivityTracker_AccountsAreIndependent(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	tracker := NewActivityTracker(client)
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	require.NoError(t, tracker.Record(ctx, first, ActionMessage))

	count, err := tracker.CountWindow(ctx, second, ActionMessage, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestActivityTracker_WindowExcludesOldEntries(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	tracker := NewActivityTracker(client)
	current := time.Now()
	tracker.now = func() time.Time { return current }
	ctx := context.Background()
	accountID := uuid.New()

	require.NoError(t, tracker.Record(ctx, accountID, ActionQuiz))

	// Entries slide out of the one-minute window but stay in the hour one.
	current = current.Add(2 * time.Minute)
	mr.FastForward(2 * time.Minute)

	count, err := tracker.CountWindow(ctx, accountID, ActionQuiz, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = tracker.CountWindow(ctx, accountID, ActionQuiz, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivityTracker_GenerationsLastHour(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	tracker := NewActivityTracker(client)
	ctx := context.Background()
	accountID := uuid.New()

	require.NoError(t, tracker.Record(ctx, accountID, ActionQuiz))
	require.NoError(t, tracker.Record(ctx, accountID, ActionNote))
	require.NoError(t, tracker.Record(ctx, accountID, ActionSlideshow))
	require.NoError(t, tracker.Record(ctx, accountID, ActionMessage)) // not a generation

	total, err := tracker.GenerationsLastHour(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
