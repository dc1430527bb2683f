// Package gate is the single entry point feature handlers call before
// consuming a paid action. It composes the admin override list, ban
// state, the risk scorer and the ledger into one Authorize decision, and
// settles estimate-vs-actual differences through Reconcile.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/admin"
	"jumpstudy/internal/ledger"
	"jumpstudy/internal/logging"
	"jumpstudy/internal/metrics"
	"jumpstudy/internal/models"
	"jumpstudy/internal/utils"
)

// Denial reasons reported to the caller.
const (
	ReasonInsufficientCredits = "insufficient credits"
	ReasonBanned              = "account banned"
	ReasonRiskBlock           = "suspicious activity"
)

// DefaultTempBanDuration is how long a risk-triggered ban lasts.
// Permanent bans are only applied by operators.
const DefaultTempBanDuration = 7 * 24 * time.Hour

// AbuseLogSink receives abuse log entries for async persistence.
// storage.AbuseLogQueueWorker is the production implementation.
type AbuseLogSink interface {
	Enqueue(ctx context.Context, entry *models.AbuseLog) error
}

// ActivityRecorder feeds the sliding-window activity counters.
// abuse.ActivityTracker is the production implementation.
type ActivityRecorder interface {
	Record(ctx context.Context, accountID uuid.UUID, action abuse.Action) error
}

// AuthorizeRequest is one authorization attempt.
type AuthorizeRequest struct {
	RequestID        string
	AccountID        uuid.UUID
	Action           abuse.Action
	EstimatedCredits float64
}

// Result is the outcome of an Authorize call.
type Result struct {
	Decision abuse.Decision
	Reason   string

	// Balance after any debit. For admin accounts this is the
	// display-only unlimited sentinel.
	Balance   float64
	Unlimited bool

	// Charged is the credits actually debited (zero unless Decision is
	// allow or warn).
	Charged float64

	// TransactionID references the usage transaction, for later
	// reconciliation.
	TransactionID *uuid.UUID

	// Assessment is nil when risk scoring was skipped (admin bypass,
	// ban short-circuit).
	Assessment *abuse.Assessment
}

// Allowed reports whether the caller may proceed with the action.
func (r *Result) Allowed() bool {
	return r.Decision == abuse.DecisionAllow || r.Decision == abuse.DecisionWarn
}

// ReconcileRequest settles the difference between an estimated charge
// and the actual cost once the provider call completes.
type ReconcileRequest struct {
	RequestID        string
	AccountID        uuid.UUID
	Action           abuse.Action
	EstimatedCredits float64
	ActualCredits    float64
}

// ReconcileResult reports what the reconciliation changed.
type ReconcileResult struct {
	// Adjustment is the signed ledger change: negative for an extra
	// debit, positive for a refund-style credit, zero when the estimate
	// was exact.
	Adjustment float64

	// Shortfall is the part of an extra debit the balance could not
	// cover. It is absorbed, not owed.
	Shortfall float64

	Balance   float64
	Unlimited bool
}

// Gate makes access decisions. All dependencies besides the ledger,
// scorer and override list are optional and default to no-ops.
type Gate struct {
	ledger    *ledger.Service
	scorer    *abuse.Scorer
	overrides *admin.Overrides

	abuseLogs AbuseLogSink
	audit     logging.Sink
	metrics   metrics.Metrics
	activity  ActivityRecorder

	tempBanDuration time.Duration
	logger          *utils.Logger
	now             func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithAbuseLog wires the async abuse log sink.
func WithAbuseLog(sink AbuseLogSink) Option {
	return func(g *Gate) { g.abuseLogs = sink }
}

// WithAuditSink wires the decision audit trail.
func WithAuditSink(sink logging.Sink) Option {
	return func(g *Gate) { g.audit = sink }
}

// WithMetrics wires a metrics implementation.
func WithMetrics(m metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithActivity wires the sliding-window activity recorder.
func WithActivity(a ActivityRecorder) Option {
	return func(g *Gate) { g.activity = a }
}

// WithTempBanDuration overrides how long risk-triggered bans last.
// Zero means permanent.
func WithTempBanDuration(d time.Duration) Option {
	return func(g *Gate) { g.tempBanDuration = d }
}

// New creates a Gate.
func New(l *ledger.Service, scorer *abuse.Scorer, overrides *admin.Overrides, opts ...Option) *Gate {
	g := &Gate{
		ledger:          l,
		scorer:          scorer,
		overrides:       overrides,
		audit:           logging.NewNoopSink(),
		metrics:         metrics.NewNoop(),
		tempBanDuration: DefaultTempBanDuration,
		logger:          utils.NewLogger("gate"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize runs the decision state machine for one request: admin
// override, ban check, risk evaluation, affordability, then the debit.
// The debit is authoritative; CanAfford-style pre-checks never replace it.
func (g *Gate) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	started := g.now()

	if req.EstimatedCredits < 0 {
		return nil, fmt.Errorf("%w: estimate %f", ledger.ErrInvalidAmount, req.EstimatedCredits)
	}

	// Accounts on the ID allow-list never touch the ledger at all.
	if g.overrides.IsAdminAccount(req.AccountID, "") {
		return g.adminResult(req, started), nil
	}

	account, err := g.ledger.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	if g.overrides.IsAdminEmail(account.Email) {
		return g.adminResult(req, started), nil
	}

	now := g.now()
	if account.BanExpired(now) {
		if err := g.ledger.Unban(ctx, req.AccountID); err != nil {
			return nil, fmt.Errorf("failed to clear expired ban: %w", err)
		}
		g.logger.Info("Expired ban cleared", "account_id", req.AccountID)
	} else if account.BanActive(now) {
		result := &Result{
			Decision: abuse.DecisionBan,
			Reason:   banReason(account),
			Balance:  account.Balance,
		}
		g.finish(ctx, req, result, started)
		return result, nil
	}

	// Record the attempt before scoring so rapid-fire requests see their
	// own volume. Failures here degrade the signals, not the request.
	if g.activity != nil {
		if err := g.activity.Record(ctx, req.AccountID, req.Action); err != nil {
			g.logger.Warn("Failed to record activity", "account_id", req.AccountID, "error", err)
		}
	}

	assessment := g.scorer.Evaluate(ctx, req.AccountID, req.Action)
	g.metrics.RecordRiskScore(assessment.Score)

	switch assessment.Action {
	case abuse.DecisionBan:
		reason := strings.Join(assessment.Reasons, "; ")
		if err := g.ledger.Ban(ctx, req.AccountID, reason, g.tempBanDuration); err != nil {
			return nil, fmt.Errorf("failed to apply ban: %w", err)
		}
		result := &Result{
			Decision:   abuse.DecisionBan,
			Reason:     reason,
			Balance:    account.Balance,
			Assessment: &assessment,
		}
		g.finish(ctx, req, result, started)
		return result, nil

	case abuse.DecisionBlock:
		result := &Result{
			Decision:   abuse.DecisionBlock,
			Reason:     ReasonRiskBlock,
			Balance:    account.Balance,
			Assessment: &assessment,
		}
		g.finish(ctx, req, result, started)
		return result, nil
	}

	// allow or warn from here on; the charge happens either way.
	decision := assessment.Action

	if req.EstimatedCredits > 0 {
		affordable, err := g.ledger.CanAfford(ctx, req.AccountID, req.EstimatedCredits)
		if err != nil {
			return nil, err
		}
		if !affordable {
			result := &Result{
				Decision:   abuse.DecisionBlock,
				Reason:     ReasonInsufficientCredits,
				Balance:    account.Balance,
				Assessment: &assessment,
			}
			g.finish(ctx, req, result, started)
			return result, nil
		}

		tx, err := g.ledger.Debit(ctx, req.AccountID, req.EstimatedCredits, debitDescription(req.Action), models.JSONB{
			"request_id": req.RequestID,
			"action":     string(req.Action),
			"estimated":  true,
		})
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			// Lost the race against a concurrent debit.
			result := &Result{
				Decision:   abuse.DecisionBlock,
				Reason:     ReasonInsufficientCredits,
				Balance:    account.Balance,
				Assessment: &assessment,
			}
			g.finish(ctx, req, result, started)
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		g.metrics.RecordDebit(req.EstimatedCredits)

		result := &Result{
			Decision:      decision,
			Balance:       tx.BalanceAfter,
			Charged:       req.EstimatedCredits,
			TransactionID: &tx.ID,
			Assessment:    &assessment,
		}
		g.finish(ctx, req, result, started)
		return result, nil
	}

	result := &Result{
		Decision:   decision,
		Balance:    account.Balance,
		Assessment: &assessment,
	}
	g.finish(ctx, req, result, started)
	return result, nil
}

// Reconcile adjusts the ledger by the difference between the estimated
// and actual cost. It never re-debits the full actual amount; an extra
// debit that the balance cannot cover is clamped at zero and the
// shortfall absorbed.
func (g *Gate) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	if req.EstimatedCredits < 0 || req.ActualCredits < 0 {
		return nil, fmt.Errorf("%w: estimate %f, actual %f", ledger.ErrInvalidAmount, req.EstimatedCredits, req.ActualCredits)
	}

	if g.overrides.IsAdminAccount(req.AccountID, "") {
		return &ReconcileResult{Balance: admin.UnlimitedBalance, Unlimited: true}, nil
	}

	account, err := g.ledger.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if g.overrides.IsAdminEmail(account.Email) {
		return &ReconcileResult{Balance: admin.UnlimitedBalance, Unlimited: true}, nil
	}

	diff := roundCredits(req.ActualCredits - req.EstimatedCredits)

	switch {
	case diff == 0:
		return &ReconcileResult{Balance: account.Balance}, nil

	case diff < 0:
		refund := -diff
		tx, err := g.ledger.Credit(ctx, req.AccountID, refund, models.TransactionRefund, reconcileDescription(req.Action), nil)
		if err != nil {
			return nil, err
		}
		g.metrics.RecordCredit(string(models.TransactionRefund), refund)
		return &ReconcileResult{Adjustment: refund, Balance: tx.BalanceAfter}, nil

	default:
		charged, tx, err := g.ledger.DebitClamped(ctx, req.AccountID, diff, reconcileDescription(req.Action), models.JSONB{
			"request_id": req.RequestID,
			"action":     string(req.Action),
			"estimated":  false,
		})
		if err != nil {
			return nil, err
		}

		result := &ReconcileResult{Adjustment: -charged, Shortfall: roundCredits(diff - charged), Balance: account.Balance}
		if tx != nil {
			result.Balance = tx.BalanceAfter
		}
		if result.Shortfall > 0 {
			g.logger.Warn("Reconciliation shortfall absorbed",
				"account_id", req.AccountID,
				"request_id", req.RequestID,
				"owed", diff,
				"charged", charged,
			)
		}
		if charged > 0 {
			g.metrics.RecordDebit(charged)
		}
		return result, nil
	}
}

func (g *Gate) adminResult(req AuthorizeRequest, started time.Time) *Result {
	result := &Result{
		Decision:  abuse.DecisionAllow,
		Balance:   admin.UnlimitedBalance,
		Unlimited: true,
	}
	g.metrics.RecordAuthorization(string(result.Decision), g.now().Sub(started))
	g.writeAudit(req, result, true)
	return result
}

// finish emits metrics, the audit record, and the async abuse log entry.
// Low-risk clean allows skip the abuse log but still hit the audit trail.
func (g *Gate) finish(ctx context.Context, req AuthorizeRequest, result *Result, started time.Time) {
	g.metrics.RecordAuthorization(string(result.Decision), g.now().Sub(started))
	if !result.Allowed() {
		g.metrics.RecordDenial(result.Reason)
	}

	g.writeAudit(req, result, false)

	noteworthy := result.Decision != abuse.DecisionAllow ||
		(result.Assessment != nil && result.Assessment.Score > 0)
	if !noteworthy {
		return
	}

	g.logger.Info("Authorization decision",
		"account_id", req.AccountID,
		"action", req.Action,
		"decision", result.Decision,
		"reason", result.Reason,
		"score", assessmentScore(result.Assessment),
	)

	if g.abuseLogs != nil && result.Assessment != nil {
		entry := &models.AbuseLog{
			ID:        uuid.New(),
			AccountID: req.AccountID,
			Activity:  string(req.Action),
			Score:     result.Assessment.Score,
			RiskLevel: string(result.Assessment.Level),
			Details: models.JSONB{
				"decision":   string(result.Decision),
				"reasons":    result.Assessment.Reasons,
				"request_id": req.RequestID,
			},
		}
		if err := g.abuseLogs.Enqueue(ctx, entry); err != nil {
			g.logger.Error("Failed to enqueue abuse log", "account_id", req.AccountID, "error", err)
		}
	}
}

func (g *Gate) writeAudit(req AuthorizeRequest, result *Result, adminBypass bool) {
	rec := &logging.DecisionRecord{
		Timestamp:    g.now(),
		RequestID:    req.RequestID,
		AccountID:    req.AccountID.String(),
		Action:       string(req.Action),
		Decision:     string(result.Decision),
		CreditsCost:  result.Charged,
		BalanceAfter: result.Balance,
		AdminBypass:  adminBypass,
	}
	if result.Assessment != nil {
		rec.RiskScore = result.Assessment.Score
		rec.RiskLevel = string(result.Assessment.Level)
		rec.Reasons = result.Assessment.Reasons
	}
	if result.Reason != "" && len(rec.Reasons) == 0 {
		rec.Reasons = []string{result.Reason}
	}

	if err := g.audit.Enqueue(rec); err != nil {
		g.logger.Warn("Failed to enqueue audit record", "request_id", req.RequestID, "error", err)
	}
}

func banReason(account *models.Account) string {
	if reason := utils.StringPtrValue(account.BanReason); reason != "" {
		return fmt.Sprintf("%s: %s", ReasonBanned, reason)
	}
	return ReasonBanned
}

func debitDescription(action abuse.Action) string {
	return fmt.Sprintf("Usage: %s", action)
}

func reconcileDescription(action abuse.Action) string {
	return fmt.Sprintf("Reconciliation: %s", action)
}

func assessmentScore(a *abuse.Assessment) int {
	if a == nil {
		return 0
	}
	return a.Score
}

// roundCredits rounds to one decimal place, matching the pricing
// resolution, so float noise never produces phantom adjustments.
func roundCredits(credits float64) float64 {
	return math.Round(credits*10) / 10
}
