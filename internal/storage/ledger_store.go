package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"jumpstudy/internal/ledger"
	"jumpstudy/internal/models"
)

// LedgerStore is the PostgreSQL implementation of ledger.Store. Balance
// mutation is pushed down to the database as conditional updates, so two
// concurrent debits against the same account can never both succeed on
// insufficient funds. Every mutation and its transaction row commit in one
// database transaction.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new ledger store
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ ledger.Store = (*LedgerStore)(nil)

const accountColumns = `
	id, email, subscription_tier, credits_balance,
	total_credits_purchased, total_credits_used,
	is_banned, ban_reason, ban_expires_at, created_at, updated_at
`

func accountCacheKey(id uuid.UUID) string {
	return "account:" + id.String()
}

// GetAccount retrieves an account by ID, serving from cache when possible.
// Cached rows may lag a concurrent mutation by up to the cache TTL; the
// conditional updates keep the balance itself safe regardless.
func (s *LedgerStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if cached, found := s.db.accountCache.Get(accountCacheKey(id)); found {
		copied := *cached
		return &copied, nil
	}

	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	err := s.db.conn.GetContext(ctx, &account, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	cached := account
	s.db.accountCache.Set(accountCacheKey(id), &cached)

	return &account, nil
}

// GetAccountByEmail retrieves an account by email. Lookups by email are
// rare (admin tooling, signup dedup) and bypass the cache.
func (s *LedgerStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	err := s.db.conn.GetContext(ctx, &account, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	return &account, nil
}

// CreateAccount inserts a new account row
func (s *LedgerStore) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (
			id, email, subscription_tier, credits_balance,
			total_credits_purchased, total_credits_used,
			is_banned, ban_reason, ban_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := s.db.conn.QueryRowxContext(ctx, query,
		account.ID, account.Email, account.Tier, account.Balance,
		account.TotalPurchased, account.TotalUsed,
		account.Banned, account.BanReason, account.BanExpiresAt,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// Debit subtracts amount from the account balance if and only if the
// balance covers it. The WHERE clause carries the funds check, so a lost
// race surfaces as zero updated rows rather than a negative balance.
func (s *LedgerStore) Debit(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (*models.CreditTransaction, error) {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceAfter float64
	query := `
		UPDATE accounts
		SET credits_balance = credits_balance - $2,
		    total_credits_used = total_credits_used + $2,
		    updated_at = NOW()
		WHERE id = $1 AND credits_balance >= $2
		RETURNING credits_balance
	`

	err = tx.QueryRowxContext(ctx, query, id, amount).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		// Zero rows means either the account is missing or the funds are.
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id); err != nil {
			return nil, fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, ledger.ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	record, err := s.insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:           uuid.New(),
		AccountID:    id,
		Kind:         models.TransactionUsage,
		Amount:       -amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		Metadata:     metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	s.db.accountCache.Delete(accountCacheKey(id))

	return record, nil
}

// DebitClamped subtracts up to amount, stopping at zero. The row is locked
// for the duration so the pre-update balance read and the clamped write are
// one atomic step.
func (s *LedgerStore) DebitClamped(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (float64, *models.CreditTransaction, error) {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev, balanceAfter float64
	query := `
		UPDATE accounts a
		SET credits_balance = GREATEST(a.credits_balance - $2, 0),
		    total_credits_used = a.total_credits_used + LEAST(a.credits_balance, $2),
		    updated_at = NOW()
		FROM (
			SELECT credits_balance AS prev
			FROM accounts
			WHERE id = $1
			FOR UPDATE
		) locked
		WHERE a.id = $1
		RETURNING locked.prev, a.credits_balance
	`

	err = tx.QueryRowxContext(ctx, query, id, amount).Scan(&prev, &balanceAfter)
	if err == sql.ErrNoRows {
		return 0, nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to debit account: %w", err)
	}

	charged := prev - balanceAfter
	if charged <= 0 {
		// Balance was already zero; nothing to record.
		if err := tx.Commit(); err != nil {
			return 0, nil, fmt.Errorf("failed to commit debit: %w", err)
		}
		s.db.accountCache.Delete(accountCacheKey(id))
		return 0, nil, nil
	}

	record, err := s.insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:           uuid.New(),
		AccountID:    id,
		Kind:         models.TransactionUsage,
		Amount:       -charged,
		BalanceAfter: balanceAfter,
		Description:  description,
		Metadata:     metadata,
	})
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	s.db.accountCache.Delete(accountCacheKey(id))

	return charged, record, nil
}

// Credit adds amount to the account balance unconditionally. Purchases
// also bump the lifetime purchased counter.
func (s *LedgerStore) Credit(ctx context.Context, id uuid.UUID, amount float64, kind models.TransactionKind, description string, externalRef *string) (*models.CreditTransaction, error) {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	purchased := 0.0
	if kind == models.TransactionPurchase {
		purchased = amount
	}

	var balanceAfter float64
	query := `
		UPDATE accounts
		SET credits_balance = credits_balance + $2,
		    total_credits_purchased = total_credits_purchased + $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING credits_balance
	`

	err = tx.QueryRowxContext(ctx, query, id, amount, purchased).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	record, err := s.insertTransaction(ctx, tx, &models.CreditTransaction{
		ID:           uuid.New(),
		AccountID:    id,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		ExternalRef:  externalRef,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	s.db.accountCache.Delete(accountCacheKey(id))

	return record, nil
}

// ListTransactions returns up to limit ledger entries, most recent first
func (s *LedgerStore) ListTransactions(ctx context.Context, id uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	query := `
		SELECT id, account_id, kind, amount, balance_after,
		       description, metadata, external_ref, created_at
		FROM credits_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	var records []*models.CreditTransaction
	err := s.db.conn.SelectContext(ctx, &records, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return records, nil
}

// SetBan marks the account banned. A nil expiry makes the ban permanent.
func (s *LedgerStore) SetBan(ctx context.Context, id uuid.UUID, reason string, expiresAt *time.Time) error {
	query := `
		UPDATE accounts
		SET is_banned = TRUE, ban_reason = $2, ban_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.conn.ExecContext(ctx, query, id, reason, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to ban account: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.ErrAccountNotFound
	}

	s.db.accountCache.Delete(accountCacheKey(id))

	return nil
}

// ClearBan lifts any ban on the account
func (s *LedgerStore) ClearBan(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET is_banned = FALSE, ban_reason = NULL, ban_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear ban: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.ErrAccountNotFound
	}

	s.db.accountCache.Delete(accountCacheKey(id))

	return nil
}

func (s *LedgerStore) insertTransaction(ctx context.Context, tx sqlx.ExtContext, record *models.CreditTransaction) (*models.CreditTransaction, error) {
	query := `
		INSERT INTO credits_transactions (
			id, account_id, kind, amount, balance_after,
			description, metadata, external_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`

	err := tx.QueryRowxContext(ctx, query,
		record.ID, record.AccountID, record.Kind, record.Amount, record.BalanceAfter,
		record.Description, record.Metadata, record.ExternalRef,
	).Scan(&record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return record, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
