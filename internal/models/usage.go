package models

import (
	"time"

	"github.com/google/uuid"
)

// UsagePeriod is one observation period of activity counters for an
// account. Periods are calendar months ("2026-08"); the counters back the
// saturation and spike risk signals.
type UsagePeriod struct {
	ID              uuid.UUID `db:"id"`
	AccountID       uuid.UUID `db:"account_id"`
	Period          string    `db:"period"`
	MessagesUsed    int       `db:"messages_used"`
	ImagesUsed      int       `db:"images_used"`
	GenerationsUsed int       `db:"generations_used"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// TierMessageLimit returns the legacy per-period message quota for a tier.
// The quotas no longer gate requests; they only feed the saturation signal.
// A zero return means the tier is unmetered.
func TierMessageLimit(tier string) int {
	switch tier {
	case TierFree:
		return 10
	case TierStarter:
		return 100
	case TierPremium:
		return 500
	default:
		return 0
	}
}

// PeriodKey formats the observation period a timestamp belongs to.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
