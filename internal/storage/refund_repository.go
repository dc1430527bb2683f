package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/models"
)

// RefundRepository handles refund request database operations
type RefundRepository struct {
	db *DB
}

// NewRefundRepository creates a new refund repository
func NewRefundRepository(db *DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// Create inserts a new refund request in pending state
func (r *RefundRepository) Create(ctx context.Context, request *models.RefundRequest) error {
	query := `
		INSERT INTO refund_requests (id, account_id, amount, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query,
		request.ID, request.AccountID, request.Amount, request.Reason, request.Status,
	).Scan(&request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund request: %w", err)
	}

	return nil
}

// GetByID retrieves a refund request by ID
func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request models.RefundRequest
	query := `
		SELECT id, account_id, amount, reason, status, created_at, updated_at
		FROM refund_requests
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &request, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to get refund request: %w", err)
	}

	return &request, nil
}

// UpdateStatus transitions a refund request to a new status
func (r *RefundRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE refund_requests SET status = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update refund status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRefundNotFound
	}

	return nil
}

// Decide transitions a pending request to approved or denied. The
// pending-only predicate makes the decision single-shot: a second admin
// approving the same request gets ErrRefundAlreadyDecided instead of a
// second credit.
func (r *RefundRepository) Decide(ctx context.Context, id uuid.UUID, status string) (*models.RefundRequest, error) {
	var request models.RefundRequest
	query := `
		UPDATE refund_requests
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, account_id, amount, reason, status, created_at, updated_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query, id, status).StructScan(&request)
	if err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrRefundAlreadyDecided
		}
		return nil, fmt.Errorf("failed to decide refund request: %w", err)
	}

	return &request, nil
}

// ListByAccount returns an account's refund requests, most recent first
func (r *RefundRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.RefundRequest, error) {
	query := `
		SELECT id, account_id, amount, reason, status, created_at, updated_at
		FROM refund_requests
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var requests []*models.RefundRequest
	err := r.db.conn.SelectContext(ctx, &requests, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list refund requests: %w", err)
	}

	return requests, nil
}

// RefundStats holds the aggregate refund history feeding the risk signals
type RefundStats struct {
	TotalCount    int        `db:"total_count"`
	ApprovedCount int        `db:"approved_count"`
	LastRequestAt *time.Time `db:"last_request_at"`
}

// Stats returns the refund history aggregates for one account in a single
// round trip
func (r *RefundRepository) Stats(ctx context.Context, accountID uuid.UUID) (*RefundStats, error) {
	var stats RefundStats
	query := `
		SELECT COUNT(*) AS total_count,
		       COUNT(*) FILTER (WHERE status = 'approved') AS approved_count,
		       MAX(created_at) AS last_request_at
		FROM refund_requests
		WHERE account_id = $1
	`

	err := r.db.conn.GetContext(ctx, &stats, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get refund stats: %w", err)
	}

	return &stats, nil
}
