package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/models"
)

// AbuseLogRepository handles abuse log database operations
type AbuseLogRepository struct {
	db *DB
}

// NewAbuseLogRepository creates a new abuse log repository
func NewAbuseLogRepository(db *DB) *AbuseLogRepository {
	return &AbuseLogRepository{db: db}
}

// Create inserts a new abuse log entry
func (r *AbuseLogRepository) Create(ctx context.Context, entry *models.AbuseLog) error {
	query := `
		INSERT INTO abuse_logs (id, account_id, activity, score, risk_level, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query,
		entry.ID, entry.AccountID, entry.Activity, entry.Score, entry.RiskLevel, entry.Details,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert abuse log: %w", err)
	}

	return nil
}

// ListByAccount returns an account's abuse log entries, most recent first
func (r *AbuseLogRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.AbuseLog, error) {
	query := `
		SELECT id, account_id, activity, score, risk_level, details, created_at
		FROM abuse_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var entries []*models.AbuseLog
	err := r.db.conn.SelectContext(ctx, &entries, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list abuse logs: %w", err)
	}

	return entries, nil
}

// ListRecent returns the most recent abuse log entries across all
// accounts, optionally filtered to a minimum risk level score
func (r *AbuseLogRepository) ListRecent(ctx context.Context, minScore, limit int) ([]*models.AbuseLog, error) {
	query := `
		SELECT id, account_id, activity, score, risk_level, details, created_at
		FROM abuse_logs
		WHERE score >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var entries []*models.AbuseLog
	err := r.db.conn.SelectContext(ctx, &entries, query, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent abuse logs: %w", err)
	}

	return entries, nil
}

// CountSince returns how many entries an account accrued since the cutoff
func (r *AbuseLogRepository) CountSince(ctx context.Context, accountID uuid.UUID, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM abuse_logs WHERE account_id = $1 AND created_at >= $2`

	err := r.db.conn.GetContext(ctx, &count, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count abuse logs: %w", err)
	}

	return count, nil
}
