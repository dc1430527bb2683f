package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/gate"
	"jumpstudy/internal/models"
	"jumpstudy/internal/storage"
	"jumpstudy/internal/utils"
)

type refundRequestBody struct {
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

type refundResponse struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func refundPayload(req *models.RefundRequest) refundResponse {
	return refundResponse{
		ID:        req.ID,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Status:    req.Status,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
}

// handleRefundRequest files a refund petition. The request itself is
// risk-scored: refund churners get blocked or banned here, before a human
// ever reviews the petition.
func (d *Dependencies) handleRefundRequest(w http.ResponseWriter, r *http.Request) {
	var body refundRequestBody
	if err := utils.DecodeJSONBody(r, &body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	accountID, err := uuid.Parse(body.AccountID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
		return
	}
	if body.Amount <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if body.Reason == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "reason is required")
		return
	}

	result, err := d.Gate.Authorize(r.Context(), gate.AuthorizeRequest{
		AccountID: accountID,
		Action:    abuse.ActionRefund,
	})
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}
	if !result.Allowed() {
		utils.RespondWithJSON(w, http.StatusForbidden, authorizeResultPayload(result, 0))
		return
	}

	request := &models.RefundRequest{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    body.Amount,
		Reason:    body.Reason,
		Status:    models.RefundPending,
	}
	if err := d.Refunds.Create(r.Context(), request); err != nil {
		d.logger.Error("Failed to create refund request", "account_id", accountID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, refundPayload(request))
}

// handleRefundApprove approves a pending refund and credits the amount
// back as a refund transaction.
func (d *Dependencies) handleRefundApprove(w http.ResponseWriter, r *http.Request) {
	refundID, ok := pathRefundID(w, r)
	if !ok {
		return
	}

	request, err := d.Refunds.Decide(r.Context(), refundID, models.RefundApproved)
	if err != nil {
		d.respondRefundError(w, err)
		return
	}

	tx, err := d.Ledger.Credit(r.Context(), request.AccountID, request.Amount,
		models.TransactionRefund, "Refund: "+request.Reason, nil)
	if err != nil {
		// The request is marked approved but the credit failed; surface
		// loudly so an operator reconciles it by hand.
		d.logger.Error("Approved refund credit failed",
			"refund_id", refundID, "account_id", request.AccountID, "error", err)
		d.respondLedgerError(w, err)
		return
	}

	d.Metrics.RecordCredit(string(models.TransactionRefund), request.Amount)
	d.logger.Info("Refund approved",
		"refund_id", refundID, "account_id", request.AccountID,
		"amount", request.Amount, "admin", adminActor(r))

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"refund":         refundPayload(request),
		"balance":        tx.BalanceAfter,
		"transaction_id": tx.ID,
	})
}

// handleRefundDeny denies a pending refund. No ledger change.
func (d *Dependencies) handleRefundDeny(w http.ResponseWriter, r *http.Request) {
	refundID, ok := pathRefundID(w, r)
	if !ok {
		return
	}

	request, err := d.Refunds.Decide(r.Context(), refundID, models.RefundDenied)
	if err != nil {
		d.respondRefundError(w, err)
		return
	}

	d.logger.Info("Refund denied", "refund_id", refundID, "account_id", request.AccountID, "admin", adminActor(r))

	utils.RespondWithJSON(w, http.StatusOK, refundPayload(request))
}

// handleRefundList lists an account's refund requests for review.
func (d *Dependencies) handleRefundList(w http.ResponseWriter, r *http.Request) {
	accountID, ok := d.queryAccountID(w, r)
	if !ok {
		return
	}

	requests, err := d.Refunds.ListByAccount(r.Context(), accountID, 100)
	if err != nil {
		d.logger.Error("Failed to list refund requests", "account_id", accountID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]refundResponse, 0, len(requests))
	for _, request := range requests {
		out = append(out, refundPayload(request))
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"refunds": out})
}

func pathRefundID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	refundID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid refund id")
		return uuid.Nil, false
	}
	return refundID, true
}

func (d *Dependencies) respondRefundError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrRefundNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "refund request not found")
	case errors.Is(err, storage.ErrRefundAlreadyDecided):
		utils.RespondWithError(w, http.StatusConflict, "refund request already decided")
	default:
		d.logger.Error("Refund operation failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
