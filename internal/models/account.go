package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers. The credits system replaced the old per-tier message
// quotas, but the tier still feeds the risk signals (free-tier heuristics,
// saturation checks against the legacy limits).
const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPremium = "premium"
	TierCredits = "credits"
)

// Account holds a user's credit balance and ban state.
// The balance is a cached projection of the credits_transactions log;
// replaying the log must reproduce it exactly.
type Account struct {
	ID             uuid.UUID  `db:"id"`
	Email          string     `db:"email"`
	Tier           string     `db:"subscription_tier"`
	Balance        float64    `db:"credits_balance"`
	TotalPurchased float64    `db:"total_credits_purchased"`
	TotalUsed      float64    `db:"total_credits_used"`
	Banned         bool       `db:"is_banned"`
	BanReason      *string    `db:"ban_reason"`
	BanExpiresAt   *time.Time `db:"ban_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// AgeDays returns the whole days since the account was created.
func (a *Account) AgeDays(now time.Time) int {
	age := now.Sub(a.CreatedAt)
	if age < 0 {
		return 0
	}
	return int(age.Hours() / 24)
}

// BanActive reports whether a ban is currently in force.
// A ban with no expiry is permanent.
func (a *Account) BanActive(now time.Time) bool {
	if !a.Banned {
		return false
	}
	if a.BanExpiresAt == nil {
		return true
	}
	return now.Before(*a.BanExpiresAt)
}

// BanExpired reports whether a previously applied ban has lapsed and
// should be cleared on the next authorization check.
func (a *Account) BanExpired(now time.Time) bool {
	return a.Banned && a.BanExpiresAt != nil && !now.Before(*a.BanExpiresAt)
}
