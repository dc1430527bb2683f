package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/models"
)

// MemoryStore is an in-memory Store for tests and standalone deployments.
// A single store-wide mutex serializes every mutating call, so a
// read-check-write sequence cannot interleave with another writer on the
// same account.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*models.Account
	transactions map[uuid.UUID][]*models.CreditTransaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[uuid.UUID]*models.Account),
		transactions: make(map[uuid.UUID][]*models.CreditTransaction),
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return ErrDuplicateEmail
		}
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

func (s *MemoryStore) Debit(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if account.Balance < amount {
		return nil, ErrInsufficientCredits
	}

	account.Balance -= amount
	account.TotalUsed += amount
	account.UpdatedAt = time.Now()

	return s.appendLocked(account, models.TransactionUsage, -amount, description, metadata, nil), nil
}

func (s *MemoryStore) DebitClamped(ctx context.Context, id uuid.UUID, amount float64, description string, metadata models.JSONB) (float64, *models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return 0, nil, ErrAccountNotFound
	}

	charged := amount
	if account.Balance < charged {
		charged = account.Balance
	}
	if charged == 0 {
		return 0, nil, nil
	}

	account.Balance -= charged
	account.TotalUsed += charged
	account.UpdatedAt = time.Now()

	return charged, s.appendLocked(account, models.TransactionUsage, -charged, description, metadata, nil), nil
}

func (s *MemoryStore) Credit(ctx context.Context, id uuid.UUID, amount float64, kind models.TransactionKind, description string, externalRef *string) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	account.Balance += amount
	if kind == models.TransactionPurchase {
		account.TotalPurchased += amount
	}
	account.UpdatedAt = time.Now()

	return s.appendLocked(account, kind, amount, description, nil, externalRef), nil
}

// appendLocked writes a transaction row; callers hold the store lock.
func (s *MemoryStore) appendLocked(account *models.Account, kind models.TransactionKind, amount float64, description string, metadata models.JSONB, externalRef *string) *models.CreditTransaction {
	tx := &models.CreditTransaction{
		ID:           uuid.New(),
		AccountID:    account.ID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: account.Balance,
		Description:  description,
		Metadata:     metadata,
		ExternalRef:  externalRef,
		CreatedAt:    time.Now(),
	}
	s.transactions[account.ID] = append(s.transactions[account.ID], tx)

	copied := *tx
	return &copied
}

func (s *MemoryStore) ListTransactions(ctx context.Context, id uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[id]; !ok {
		return nil, ErrAccountNotFound
	}

	all := s.transactions[id]
	out := make([]*models.CreditTransaction, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *all[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) SetBan(ctx context.Context, id uuid.UUID, reason string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Banned = true
	account.BanReason = &reason
	account.BanExpiresAt = expiresAt
	account.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ClearBan(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Banned = false
	account.BanReason = nil
	account.BanExpiresAt = nil
	account.UpdatedAt = time.Now()
	return nil
}
