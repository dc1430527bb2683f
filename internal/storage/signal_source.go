package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/models"
)

// SignalCollector assembles the risk signals for an account from the
// account row, refund history, usage periods and the Redis activity
// windows. It implements abuse.SignalSource; any failure here propagates
// to the scorer, which decides the fail-open/fail-closed posture.
type SignalCollector struct {
	store    *LedgerStore
	refunds  *RefundRepository
	usage    *UsageRepository
	activity *abuse.ActivityTracker

	// Email domains containing any of these substrings count as
	// disposable.
	disposablePatterns []string
}

// NewSignalCollector creates a signal collector over the given stores
func NewSignalCollector(db *DB, activity *abuse.ActivityTracker, disposablePatterns []string) *SignalCollector {
	return &SignalCollector{
		store:              NewLedgerStore(db),
		refunds:            NewRefundRepository(db),
		usage:              NewUsageRepository(db),
		activity:           activity,
		disposablePatterns: disposablePatterns,
	}
}

var _ abuse.SignalSource = (*SignalCollector)(nil)

// usagePeriodLookback bounds how many periods feed the saturation and
// spike signals.
const usagePeriodLookback = 6

// Collect gathers the signals for one evaluation
func (c *SignalCollector) Collect(ctx context.Context, accountID uuid.UUID, action abuse.Action) (*abuse.Signal, error) {
	now := time.Now()

	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	sig := &abuse.Signal{
		AccountAgeDays:      account.AgeDays(now),
		Tier:                account.Tier,
		DaysSinceLastRefund: -1,
		IsDisposableEmail:   c.isDisposableEmail(account.Email),
	}

	stats, err := c.refunds.Stats(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund stats: %w", err)
	}
	sig.RefundCount = stats.TotalCount
	sig.ApprovedRefundCount = stats.ApprovedCount
	if stats.LastRequestAt != nil {
		sig.DaysSinceLastRefund = int(now.Sub(*stats.LastRequestAt).Hours() / 24)
	}

	periods, err := c.usage.ListRecentPeriods(ctx, accountID, usagePeriodLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage periods: %w", err)
	}
	sig.LimitSaturatedPeriods = saturatedPeriods(account.Tier, periods)
	sig.UsageSpikePercent = usageSpikePercent(now, periods)

	requests, err := c.activity.CountWindow(ctx, accountID, action, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent requests: %w", err)
	}
	sig.RequestsLastMinute = requests

	generations, err := c.activity.GenerationsLastHour(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent generations: %w", err)
	}
	sig.GenerationsLastHour = generations

	return sig, nil
}

func (c *SignalCollector) isDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])

	for _, pattern := range c.disposablePatterns {
		if strings.Contains(domain, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// saturatedPeriods counts how many consecutive periods, newest first,
// exhausted the tier's legacy message quota. The streak breaks at the
// first period under the cap. Unmetered tiers never saturate.
func saturatedPeriods(tier string, periods []*models.UsagePeriod) int {
	limit := models.TierMessageLimit(tier)
	if limit <= 0 {
		return 0
	}

	// periods come ordered most recent first
	saturated := 0
	for _, p := range periods {
		if p.MessagesUsed < limit {
			break
		}
		saturated++
	}
	return saturated
}

// usageSpikePercent is the percentage increase of the current period's
// message volume over the average of the preceding periods. Returns 0
// when there is no history to compare against, and never goes negative.
func usageSpikePercent(now time.Time, periods []*models.UsagePeriod) float64 {
	current := models.PeriodKey(now)

	var currentUsed int
	var priorSum, priorCount int
	for _, p := range periods {
		if p.Period == current {
			currentUsed = p.MessagesUsed
			continue
		}
		priorSum += p.MessagesUsed
		priorCount++
	}

	if priorCount == 0 || priorSum == 0 {
		return 0
	}

	avg := float64(priorSum) / float64(priorCount)
	increase := (float64(currentUsed) - avg) / avg * 100
	if increase < 0 {
		return 0
	}
	return increase
}
