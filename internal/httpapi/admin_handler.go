package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/auth"
	"jumpstudy/internal/middleware"
	"jumpstudy/internal/models"
	"jumpstudy/internal/utils"
)

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleAdminLogin exchanges admin credentials for a short-lived JWT.
func (d *Dependencies) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, expiresAt, err := auth.GenerateAdminJWT(r.Context(), req.Email, req.Password, d.AdminStore, d.jwtSecret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			utils.RespondWithError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		d.logger.Error("Admin login failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

type adminBanRequest struct {
	Reason string `json:"reason"`

	// Duration is a Go duration string such as "168h". Empty means
	// permanent.
	Duration string `json:"duration,omitempty"`
}

// handleAdminBan bans the account in the path.
func (d *Dependencies) handleAdminBan(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	var req adminBanRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "reason is required")
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed < 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		duration = parsed
	}

	if err := d.Ledger.Ban(r.Context(), accountID, req.Reason, duration); err != nil {
		d.respondLedgerError(w, err)
		return
	}

	adminEmail := adminActor(r)
	d.logger.Info("Account banned by admin",
		"account_id", accountID, "admin", adminEmail, "reason", req.Reason, "duration", req.Duration)

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

// handleAdminUnban lifts a ban.
func (d *Dependencies) handleAdminUnban(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	if err := d.Ledger.Unban(r.Context(), accountID); err != nil {
		d.respondLedgerError(w, err)
		return
	}

	d.logger.Info("Account unbanned by admin", "account_id", accountID, "admin", adminActor(r))

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "unbanned"})
}

type adminGrantRequest struct {
	Credits     float64 `json:"credits"`
	Description string  `json:"description,omitempty"`
}

type adminGrantResponse struct {
	Credits       float64   `json:"credits"`
	Balance       float64   `json:"balance"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// handleAdminGrant credits a bonus to the account in the path.
func (d *Dependencies) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	var req adminGrantRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	description := req.Description
	if description == "" {
		description = "Admin grant"
	}

	tx, err := d.Ledger.Credit(r.Context(), accountID, req.Credits, models.TransactionBonus, description, nil)
	if err != nil {
		d.respondLedgerError(w, err)
		return
	}

	d.Metrics.RecordCredit(string(models.TransactionBonus), req.Credits)
	d.logger.Info("Credits granted by admin",
		"account_id", accountID, "admin", adminActor(r), "credits", req.Credits)

	utils.RespondWithJSON(w, http.StatusOK, adminGrantResponse{
		Credits:       req.Credits,
		Balance:       tx.BalanceAfter,
		TransactionID: tx.ID,
	})
}

type abuseLogResponse struct {
	ID        uuid.UUID    `json:"id"`
	AccountID uuid.UUID    `json:"account_id"`
	Activity  string       `json:"activity"`
	Score     int          `json:"score"`
	RiskLevel string       `json:"risk_level"`
	Details   models.JSONB `json:"details,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// handleAdminAbuseLogs lists suspicious-activity entries, optionally
// filtered to one account via ?account_id=.
func (d *Dependencies) handleAdminAbuseLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	minScore := 0
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		minScore = parsed
	}

	var entries []*models.AbuseLog
	var err error
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		accountID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		entries, err = d.AbuseLogs.ListByAccount(r.Context(), accountID, limit)
	} else {
		entries, err = d.AbuseLogs.ListRecent(r.Context(), minScore, limit)
	}
	if err != nil {
		d.logger.Error("Failed to list abuse logs", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]abuseLogResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, abuseLogResponse{
			ID:        entry.ID,
			AccountID: entry.AccountID,
			Activity:  entry.Activity,
			Score:     entry.Score,
			RiskLevel: entry.RiskLevel,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt,
		})
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func pathAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return accountID, true
}

// adminActor returns the authenticated admin's email for log lines.
func adminActor(r *http.Request) string {
	if claims, ok := middleware.GetAdminClaims(r.Context()); ok {
		return claims.Email
	}
	return "unknown"
}
