package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionUsage    TransactionKind = "usage"
	TransactionRefund   TransactionKind = "refund"
	TransactionBonus    TransactionKind = "bonus"
)

// IsValid checks if the kind is a known transaction kind
func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionPurchase, TransactionUsage, TransactionRefund, TransactionBonus:
		return true
	default:
		return false
	}
}

// CreditTransaction is one append-only ledger entry. Amount is negative for
// usage and positive for purchase/bonus/refund; BalanceAfter snapshots the
// account balance at the moment the entry was written.
type CreditTransaction struct {
	ID           uuid.UUID       `db:"id"`
	AccountID    uuid.UUID       `db:"account_id"`
	Kind         TransactionKind `db:"kind"`
	Amount       float64         `db:"amount"`
	BalanceAfter float64         `db:"balance_after"`
	Description  string          `db:"description"`
	Metadata     JSONB           `db:"metadata"`
	ExternalRef  *string         `db:"external_ref"` // payment processor reference
	CreatedAt    time.Time       `db:"created_at"`
}
