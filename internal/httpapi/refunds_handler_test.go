package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/models"
)

// churnerSignals marks the account as a repeat refund requester.
type churnerSignals struct{}

func (churnerSignals) Collect(ctx context.Context, accountID uuid.UUID, action abuse.Action) (*abuse.Signal, error) {
	return &abuse.Signal{
		AccountAgeDays:      120,
		Tier:                models.TierPremium,
		RefundCount:         2,
		ApprovedRefundCount: 2,
		DaysSinceLastRefund: 30,
	}, nil
}

func TestRefundRequest_Validation(t *testing.T) {
	handler, deps := newTestHandler(t)
	account := createAccount(t, deps, "refunder@example.com", 100)

	rec := postJSON(t, handler, "/v1/refunds", map[string]any{
		"account_id": account.ID.String(),
		"amount":     -5.0,
		"reason":     "accidental purchase",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/v1/refunds", map[string]any{
		"account_id": account.ID.String(),
		"amount":     5.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/v1/refunds", map[string]any{
		"account_id": "nope",
		"amount":     5.0,
		"reason":     "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefundRequest_BlocksChurners(t *testing.T) {
	handler, deps := newTestHandler(t)
	deps.Gate = newGateWithSignals(t, deps, churnerSignals{})
	account := createAccount(t, deps, "churner@example.com", 100)

	rec := postJSON(t, handler, "/v1/refunds", map[string]any{
		"account_id": account.ID.String(),
		"amount":     10.0,
		"reason":     "changed my mind again",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	resp := decodeResponse[authorizeResponse](t, rec)
	assert.False(t, resp.Allowed)
	require.NotNil(t, resp.Risk)
	assert.GreaterOrEqual(t, resp.Risk.Score, 60)
}
