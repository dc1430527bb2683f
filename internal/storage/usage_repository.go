package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"jumpstudy/internal/models"
)

// UsageRepository handles per-period usage counter operations. The
// counters feed the saturation and spike risk signals; they do not gate
// requests themselves.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment bumps one counter for the account's period, creating the row
// on first use. Column must be one of the fixed counter names; it is never
// caller input.
func (r *UsageRepository) increment(ctx context.Context, accountID uuid.UUID, period, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO usage_periods (id, account_id, period, %s, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (account_id, period)
		DO UPDATE SET %s = usage_periods.%s + 1, updated_at = NOW()
	`, column, column, column)

	_, err := r.db.conn.ExecContext(ctx, query, uuid.New(), accountID, period)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}

	return nil
}

// IncrementMessages bumps the message counter for the period
func (r *UsageRepository) IncrementMessages(ctx context.Context, accountID uuid.UUID, period string) error {
	return r.increment(ctx, accountID, period, "messages_used")
}

// IncrementImages bumps the image counter for the period
func (r *UsageRepository) IncrementImages(ctx context.Context, accountID uuid.UUID, period string) error {
	return r.increment(ctx, accountID, period, "images_used")
}

// IncrementGenerations bumps the generation counter for the period
func (r *UsageRepository) IncrementGenerations(ctx context.Context, accountID uuid.UUID, period string) error {
	return r.increment(ctx, accountID, period, "generations_used")
}

// GetPeriod retrieves one usage period for an account
func (r *UsageRepository) GetPeriod(ctx context.Context, accountID uuid.UUID, period string) (*models.UsagePeriod, error) {
	var row models.UsagePeriod
	query := `
		SELECT id, account_id, period, messages_used, images_used, generations_used,
		       created_at, updated_at
		FROM usage_periods
		WHERE account_id = $1 AND period = $2
	`

	err := r.db.conn.GetContext(ctx, &row, query, accountID, period)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUsagePeriodNotFound
		}
		return nil, fmt.Errorf("failed to get usage period: %w", err)
	}

	return &row, nil
}

// ListRecentPeriods returns the account's most recent usage periods,
// newest first
func (r *UsageRepository) ListRecentPeriods(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.UsagePeriod, error) {
	query := `
		SELECT id, account_id, period, messages_used, images_used, generations_used,
		       created_at, updated_at
		FROM usage_periods
		WHERE account_id = $1
		ORDER BY period DESC
		LIMIT $2
	`

	var rows []*models.UsagePeriod
	err := r.db.conn.SelectContext(ctx, &rows, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage periods: %w", err)
	}

	return rows, nil
}
