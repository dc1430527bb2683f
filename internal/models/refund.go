package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund request statuses.
const (
	RefundPending  = "pending"
	RefundApproved = "approved"
	RefundDenied   = "denied"
)

// RefundRequest is a user-initiated refund petition. The decision itself is
// made outside this service; the rows feed the refund risk signals and an
// approved request results in a Credit(kind=refund) call.
type RefundRequest struct {
	ID        uuid.UUID `db:"id"`
	AccountID uuid.UUID `db:"account_id"`
	Amount    float64   `db:"amount"`
	Reason    string    `db:"reason"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
