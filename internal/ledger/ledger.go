// Package ledger is the single source of truth for account credit
// balances. All balance mutation goes through Debit/Credit, which the
// backing store must make atomic per account; the transaction log is
// append-only and the cached balance is a projection of it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/models"
	"jumpstudy/internal/utils"
)

var (
	// ErrAccountNotFound indicates a caller bug or a deleted account;
	// it is fatal to the request and never retried.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientCredits is an expected, user-facing outcome,
	// not a system error.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUnavailable is returned after transient storage failures exhaust
	// their retries. Callers must treat it as a denial (fail closed).
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrInvalidAmount is a contract violation by the caller.
	ErrInvalidAmount = errors.New("invalid credit amount")

	// ErrDuplicateEmail is returned when creating an account with an
	// email that is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store is the persistence contract the ledger runs on. Implementations
// must make each mutating call atomic with respect to concurrent calls on
// the same account: either a conditional update pushed down to the
// datastore or per-account serialization.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error

	// Debit subtracts amount if and only if the balance covers it, bumps
	// total_credits_used, and appends a usage transaction. Returns
	// ErrInsufficientCredits without any partial effect otherwise.
	Debit(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (*models.CreditTransaction, error)

	// DebitClamped subtracts up to amount, stopping at zero. Returns the
	// credits actually charged and the resulting balance; the transaction
	// is nil when nothing was charged.
	DebitClamped(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (charged float64, tx *models.CreditTransaction, err error)

	// Credit adds amount unconditionally, bumps total_credits_purchased
	// for purchases, and appends a transaction of the given kind.
	Credit(ctx context.Context, id uuid.UUID, amount float64, kind models.TransactionKind, description string, externalRef *string) (*models.CreditTransaction, error)

	// ListTransactions returns up to limit entries, most recent first.
	ListTransactions(ctx context.Context, id uuid.UUID, limit int) ([]*models.CreditTransaction, error)

	SetBan(ctx context.Context, id uuid.UUID, reason string, expiresAt *time.Time) error
	ClearBan(ctx context.Context, id uuid.UUID) error
}

// Service wraps a Store with bounded retries on transient failures and
// input validation. It makes no policy decisions; that is the gate's job.
type Service struct {
	store        Store
	logger       *utils.Logger
	maxRetries   int
	retryBackoff time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRetries overrides the transient-failure retry bounds.
func WithRetries(maxRetries int, backoff time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.retryBackoff = backoff
	}
}

// New creates a ledger service on top of a store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       utils.NewLogger("ledger"),
		maxRetries:   3,
		retryBackoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns the account row, including ban state.
func (s *Service) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account *models.Account
	err := s.withRetry(ctx, "get account", func() error {
		var err error
		account, err = s.store.GetAccount(ctx, accountID)
		return err
	})
	return account, err
}

// CreateAccount creates an account and applies the signup grant as a bonus
// transaction, so replaying the log still reproduces the balance.
func (s *Service) CreateAccount(ctx context.Context, email, tier string, signupBonus float64) (*models.Account, error) {
	if signupBonus < 0 {
		return nil, fmt.Errorf("%w: signup bonus %f", ErrInvalidAmount, signupBonus)
	}

	account := &models.Account{
		ID:    uuid.New(),
		Email: email,
		Tier:  tier,
	}
	if err := s.withRetry(ctx, "create account", func() error {
		return s.store.CreateAccount(ctx, account)
	}); err != nil {
		return nil, err
	}

	if signupBonus > 0 {
		tx, err := s.Credit(ctx, account.ID, signupBonus, models.TransactionBonus, "Welcome credits", nil)
		if err != nil {
			return nil, err
		}
		account.Balance = tx.BalanceAfter
	}

	return account, nil
}

// Balance returns the current credit balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (float64, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// CanAfford is an optimistic pre-check only; the authoritative check
// happens inside Debit.
func (s *Service) CanAfford(ctx context.Context, accountID uuid.UUID, creditsNeeded float64) (bool, error) {
	balance, err := s.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance >= creditsNeeded, nil
}

// Debit atomically charges credits, failing with ErrInsufficientCredits
// if the balance does not cover the full amount.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, credits float64, description string, metadata models.JSONB) (*models.CreditTransaction, error) {
	if credits < 0 {
		return nil, fmt.Errorf("%w: debit of %f credits", ErrInvalidAmount, credits)
	}

	var tx *models.CreditTransaction
	err := s.withRetry(ctx, "debit", func() error {
		var err error
		tx, err = s.store.Debit(ctx, accountID, credits, description, metadata)
		return err
	})
	return tx, err
}

// DebitClamped charges up to credits, letting the balance hit exactly zero
// but never go negative. Any shortfall is logged and absorbed; this is the
// documented policy for under-estimated reconciliation, not a bug.
func (s *Service) DebitClamped(ctx context.Context, accountID uuid.UUID, credits float64, description string, metadata models.JSONB) (float64, *models.CreditTransaction, error) {
	if credits < 0 {
		return 0, nil, fmt.Errorf("%w: debit of %f credits", ErrInvalidAmount, credits)
	}

	var charged float64
	var tx *models.CreditTransaction
	err := s.withRetry(ctx, "clamped debit", func() error {
		var err error
		charged, tx, err = s.store.DebitClamped(ctx, accountID, credits, description, metadata)
		return err
	})
	if err != nil {
		return 0, nil, err
	}

	if shortfall := credits - charged; shortfall > 1e-9 {
		s.logger.Warn("debit clamped at zero balance",
			"account_id", accountID,
			"requested", credits,
			"charged", charged,
			"shortfall", shortfall,
		)
	}
	return charged, tx, nil
}

// Credit adds credits to the account. Only purchase, bonus and refund
// kinds are accepted; usage entries are written by Debit alone.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, credits float64, kind models.TransactionKind, description string, externalRef *string) (*models.CreditTransaction, error) {
	if credits < 0 {
		return nil, fmt.Errorf("%w: credit of %f credits", ErrInvalidAmount, credits)
	}
	if kind != models.TransactionPurchase && kind != models.TransactionBonus && kind != models.TransactionRefund {
		return nil, fmt.Errorf("%w: credit kind %q", ErrInvalidAmount, kind)
	}

	var tx *models.CreditTransaction
	err := s.withRetry(ctx, "credit", func() error {
		var err error
		tx, err = s.store.Credit(ctx, accountID, credits, kind, description, externalRef)
		return err
	})
	return tx, err
}

// History returns up to limit transactions, most recent first.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}

	var txs []*models.CreditTransaction
	err := s.withRetry(ctx, "history", func() error {
		var err error
		txs, err = s.store.ListTransactions(ctx, accountID, limit)
		return err
	})
	return txs, err
}

// Ban marks the account banned. A zero duration is a permanent ban.
func (s *Service) Ban(ctx context.Context, accountID uuid.UUID, reason string, duration time.Duration) error {
	var expiresAt *time.Time
	if duration > 0 {
		t := time.Now().Add(duration)
		expiresAt = &t
	}
	return s.withRetry(ctx, "ban", func() error {
		return s.store.SetBan(ctx, accountID, reason, expiresAt)
	})
}

// Unban clears the ban fields.
func (s *Service) Unban(ctx context.Context, accountID uuid.UUID) error {
	return s.withRetry(ctx, "unban", func() error {
		return s.store.ClearBan(ctx, accountID)
	})
}

// withRetry retries fn on transient storage errors with exponential
// backoff. Business errors pass through untouched; exhausted retries are
// wrapped in ErrUnavailable so callers fail closed.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retryBackoff * time.Duration(1<<uint(attempt-1))
			s.logger.Debug("retrying ledger operation", "op", op, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", ErrUnavailable, ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !utils.IsTransientError(err) {
			return err
		}
		lastErr = err
	}

	s.logger.Error("ledger operation failed after retries", "op", op, "error", lastErr)
	return fmt.Errorf("%w: %s", ErrUnavailable, lastErr)
}
