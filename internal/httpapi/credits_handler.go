package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/gate"
	"jumpstudy/internal/ledger"
	"jumpstudy/internal/models"
	"jumpstudy/internal/pricing"
	"jumpstudy/internal/utils"
)

// actionFeatures maps chargeable actions to their flat-priced feature.
// Message is absent: chat is word-priced and needs the prompt text.
var actionFeatures = map[abuse.Action]pricing.Feature{
	abuse.ActionImage:     pricing.FeatureImage,
	abuse.ActionQuiz:      pricing.FeatureQuiz,
	abuse.ActionNote:      pricing.FeatureNote,
	abuse.ActionSlideshow: pricing.FeatureSlideshow,
}

type authorizeRequest struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	Action    string `json:"action"`

	// EstimatedCredits overrides the server-side estimate when set.
	EstimatedCredits *float64 `json:"estimated_credits,omitempty"`

	// Input is the prompt text, used to estimate message cost when no
	// explicit estimate is given.
	Input string `json:"input,omitempty"`
}

type riskResponse struct {
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Reasons []string `json:"reasons,omitempty"`
}

type authorizeResponse struct {
	Decision         string        `json:"decision"`
	Allowed          bool          `json:"allowed"`
	Reason           string        `json:"reason,omitempty"`
	Balance          float64       `json:"balance"`
	Unlimited        bool          `json:"unlimited"`
	EstimatedCredits float64       `json:"estimated_credits"`
	Charged          float64       `json:"charged"`
	TransactionID    *uuid.UUID    `json:"transaction_id,omitempty"`
	Risk             *riskResponse `json:"risk,omitempty"`
}

// estimateCost resolves the up-front credit cost for an action.
func estimateCost(action abuse.Action, req *authorizeRequest) (float64, bool) {
	if req.EstimatedCredits != nil {
		return *req.EstimatedCredits, true
	}
	if action == abuse.ActionMessage {
		return pricing.EstimateChatCost(req.Input).EstimatedCredits, true
	}
	if feature, ok := actionFeatures[action]; ok {
		return pricing.FlatCost(feature), true
	}
	// Signup and refund carry no charge; they are scored, not billed.
	if action == abuse.ActionSignup || action == abuse.ActionRefund {
		return 0, true
	}
	return 0, false
}

func parseAction(raw string) (abuse.Action, bool) {
	action := abuse.Action(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range abuse.AllActions {
		if action == known {
			return action, true
		}
	}
	return "", false
}

func authorizeResultPayload(result *gate.Result, estimated float64) authorizeResponse {
	resp := authorizeResponse{
		Decision:         string(result.Decision),
		Allowed:          result.Allowed(),
		Reason:           result.Reason,
		Balance:          result.Balance,
		Unlimited:        result.Unlimited,
		EstimatedCredits: estimated,
		Charged:          result.Charged,
		TransactionID:    result.TransactionID,
	}
	if result.Assessment != nil {
		resp.Risk = &riskResponse{
			Score:   result.Assessment.Score,
			Level:   string(result.Assessment.Level),
			Reasons: result.Assessment.Reasons,
		}
	}
	return resp
}

// handleAuthorize runs the full access decision for one action: admin
// bypass, ban check, risk scoring, affordability, then the debit.
func (d *Dependencies) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
		return
	}

	action, ok := parseAction(req.Action)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}

	estimated, ok := estimateCost(action, &req)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "cannot estimate cost for action: "+req.Action)
		return
	}

	result, err := d.Gate.Authorize(r.Context(), gate.AuthorizeRequest{
		RequestID:        req.RequestID,
		AccountID:        accountID,
		Action:           action,
		EstimatedCredits: estimated,
	})
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	if result.Allowed() && d.Usage != nil {
		d.recordUsage(r.Context(), accountID, action)
	}

	status := http.StatusOK
	if !result.Allowed() {
		// Bans and risk blocks are refusals; only an empty wallet is a
		// payment problem.
		if result.Reason == gate.ReasonInsufficientCredits {
			status = http.StatusPaymentRequired
		} else {
			status = http.StatusForbidden
		}
	}

	utils.RespondWithJSON(w, status, authorizeResultPayload(result, estimated))
}

// recordUsage bumps the per-month counters behind the saturation and
// spike risk signals. Best effort: a missed increment degrades a signal,
// not the request.
func (d *Dependencies) recordUsage(ctx context.Context, accountID uuid.UUID, action abuse.Action) {
	period := models.PeriodKey(time.Now())
	var err error
	switch {
	case action == abuse.ActionMessage:
		err = d.Usage.IncrementMessages(ctx, accountID, period)
	case action == abuse.ActionImage:
		err = d.Usage.IncrementImages(ctx, accountID, period)
	case action.IsGeneration():
		err = d.Usage.IncrementGenerations(ctx, accountID, period)
	}
	if err != nil {
		d.logger.Warn("Failed to record usage", "account_id", accountID, "action", action, "error", err)
	}
}

type reconcileRequest struct {
	RequestID string `json:"request_id"`
	AccountID string `json:"account_id"`
	Action    string `json:"action"`

	EstimatedCredits float64  `json:"estimated_credits"`
	ActualCredits    *float64 `json:"actual_credits,omitempty"`

	// Input and Output recompute the actual message cost server-side
	// when ActualCredits is not given.
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

type reconcileResponse struct {
	Adjustment    float64 `json:"adjustment"`
	Shortfall     float64 `json:"shortfall"`
	ActualCredits float64 `json:"actual_credits"`
	Balance       float64 `json:"balance"`
	Unlimited     bool    `json:"unlimited"`
}

// handleReconcile settles the difference between the estimated debit and
// the actual cost once the action has completed.
func (d *Dependencies) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
		return
	}

	action, ok := parseAction(req.Action)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}

	var actual float64
	switch {
	case req.ActualCredits != nil:
		actual = *req.ActualCredits
	case action == abuse.ActionMessage:
		actual = pricing.ActualChatCost(req.Input, req.Output).CreditsUsed
	default:
		// Flat-priced features cost what was estimated.
		actual = req.EstimatedCredits
	}

	result, err := d.Gate.Reconcile(r.Context(), gate.ReconcileRequest{
		RequestID:        req.RequestID,
		AccountID:        accountID,
		Action:           action,
		EstimatedCredits: req.EstimatedCredits,
		ActualCredits:    actual,
	})
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, reconcileResponse{
		Adjustment:    result.Adjustment,
		Shortfall:     result.Shortfall,
		ActualCredits: actual,
		Balance:       result.Balance,
		Unlimited:     result.Unlimited,
	})
}

type createAccountRequest struct {
	Email string `json:"email"`
	Tier  string `json:"tier,omitempty"`
}

type accountResponse struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Tier    string    `json:"tier"`
	Balance float64   `json:"balance"`
}

// handleCreateAccount registers an account and grants the signup bonus.
func (d *Dependencies) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		utils.RespondWithError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	tier := req.Tier
	if tier == "" {
		tier = models.TierFree
	}
	switch tier {
	case models.TierFree, models.TierStarter, models.TierPremium, models.TierCredits:
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "unknown tier: "+tier)
		return
	}

	account, err := d.Ledger.CreateAccount(r.Context(), req.Email, tier, d.signupBonus)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEmail) {
			utils.RespondWithError(w, http.StatusConflict, "email already registered")
			return
		}
		d.logger.Error("Failed to create account", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	// Score the signup so disposable-email and burst signals are recorded
	// (and a fraudulent account banned) right away. Best effort: the
	// account exists either way.
	if _, err := d.Gate.Authorize(r.Context(), gate.AuthorizeRequest{
		AccountID: account.ID,
		Action:    abuse.ActionSignup,
	}); err != nil {
		d.logger.Warn("Signup risk scoring failed", "account_id", account.ID, "error", err)
	}

	utils.RespondWithJSON(w, http.StatusCreated, accountResponse{
		ID:      account.ID,
		Email:   account.Email,
		Tier:    account.Tier,
		Balance: account.Balance,
	})
}

type balanceResponse struct {
	AccountID      uuid.UUID `json:"account_id"`
	Balance        float64   `json:"balance"`
	TotalPurchased float64   `json:"total_purchased"`
	TotalUsed      float64   `json:"total_used"`
	Display        string    `json:"display"`
}

// handleBalance returns the current balance for ?account_id=<uuid>.
func (d *Dependencies) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := d.queryAccountID(w, r)
	if !ok {
		return
	}

	account, err := d.Ledger.Account(r.Context(), accountID)
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, balanceResponse{
		AccountID:      account.ID,
		Balance:        account.Balance,
		TotalPurchased: account.TotalPurchased,
		TotalUsed:      account.TotalUsed,
		Display:        pricing.FormatCredits(account.Balance),
	})
}

type transactionResponse struct {
	ID           uuid.UUID `json:"id"`
	Kind         string    `json:"kind"`
	Amount       float64   `json:"amount"`
	BalanceAfter float64   `json:"balance_after"`
	Description  string    `json:"description"`
	CreatedAt    string    `json:"created_at"`
}

// handleHistory returns recent ledger entries, newest first.
func (d *Dependencies) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := d.queryAccountID(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	history, err := d.Ledger.History(r.Context(), accountID, limit)
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(history))
	for _, tx := range history {
		out = append(out, transactionResponse{
			ID:           tx.ID,
			Kind:         string(tx.Kind),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

type purchaseRequest struct {
	AccountID   string `json:"account_id"`
	Package     string `json:"package"`
	ExternalRef string `json:"external_ref"`
}

type purchaseResponse struct {
	Credits       float64   `json:"credits"`
	Balance       float64   `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// handlePurchase credits a purchased bundle. It is called by the payment
// provider webhook after the charge has settled, so the package name and
// external reference are trusted as already-paid.
func (d *Dependencies) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
		return
	}

	pkg, ok := pricing.Packages[strings.ToLower(req.Package)]
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "unknown package: "+req.Package)
		return
	}
	if req.ExternalRef == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "external_ref is required")
		return
	}

	tx, err := d.Ledger.Credit(r.Context(), accountID, pkg.Credits,
		models.TransactionPurchase, "Purchase: "+pkg.Name+" package", utils.StringPtr(req.ExternalRef))
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	d.Metrics.RecordCredit(string(models.TransactionPurchase), pkg.Credits)

	utils.RespondWithJSON(w, http.StatusOK, purchaseResponse{
		Credits:       pkg.Credits,
		Balance:       tx.BalanceAfter,
		TransactionID: tx.ID,
	})
}

func (d *Dependencies) queryAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("account_id")
	if raw == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "account_id is required")
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(raw)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
		return uuid.Nil, false
	}
	return accountID, true
}

// respondLedgerError maps ledger sentinels to HTTP statuses.
func (d *Dependencies) respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrInvalidAmount):
		utils.RespondWithError(w, http.StatusBadRequest, "invalid credit amount")
	case errors.Is(err, ledger.ErrInsufficientCredits):
		utils.RespondWithError(w, http.StatusPaymentRequired, "insufficient credits")
	default:
		d.logger.Error("Request failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
