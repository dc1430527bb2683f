package models

import (
	"time"

	"github.com/google/uuid"
)

// AbuseLog records a suspicious-activity event for later review.
// Rows are written asynchronously through the abuse log queue worker.
type AbuseLog struct {
	ID        uuid.UUID `db:"id"`
	AccountID uuid.UUID `db:"account_id"`
	Activity  string    `db:"activity"`
	Score     int       `db:"score"`
	RiskLevel string    `db:"risk_level"`
	Details   JSONB     `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}
