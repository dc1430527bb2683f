package gate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jumpstudy/internal/abuse"
	"jumpstudy/internal/admin"
	"jumpstudy/internal/ledger"
	"jumpstudy/internal/models"
)

// stubSource returns a fixed signal or error and counts collections.
type stubSource struct {
	sig   *abuse.Signal
	err   error
	calls int
}

func (s *stubSource) Collect(ctx context.Context, accountID uuid.UUID, action abuse.Action) (*abuse.Signal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.sig, nil
}

func cleanSignal() *abuse.Signal {
	return &abuse.Signal{
		AccountAgeDays:      120,
		Tier:                models.TierPremium,
		DaysSinceLastRefund: -1,
	}
}

type testEnv struct {
	gate    *Gate
	ledger  *ledger.Service
	store   *ledger.MemoryStore
	source  *stubSource
	account *models.Account
}

func setupGate(t *testing.T, sig *abuse.Signal, balance float64, opts ...Option) *testEnv {
	t.Helper()

	store := ledger.NewMemoryStore()
	svc := ledger.New(store)

	account, err := svc.CreateAccount(context.Background(), "student@example.com", models.TierPremium, balance)
	require.NoError(t, err)

	source := &stubSource{sig: sig}
	scorer := abuse.NewScorer(source)
	overrides := admin.New([]string{"ops@jumpstudy.app"}, nil)

	return &testEnv{
		gate:    New(svc, scorer, overrides, opts...),
		ledger:  svc,
		store:   store,
		source:  source,
		account: account,
	}
}

func (e *testEnv) balance(t *testing.T) float64 {
	t.Helper()
	balance, err := e.ledger.Balance(context.Background(), e.account.ID)
	require.NoError(t, err)
	return balance
}

func TestAuthorize_Allow(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		RequestID:        "req-1",
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 2.5,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionAllow, result.Decision)
	assert.True(t, result.Allowed())
	assert.Equal(t, 7.5, result.Balance)
	assert.Equal(t, 2.5, result.Charged)
	require.NotNil(t, result.TransactionID)
	assert.Equal(t, 7.5, env.balance(t))
}

func TestAuthorize_AdminBypassSkipsLedgerAndScoring(t *testing.T) {
	id := uuid.New()

	store := ledger.NewMemoryStore()
	svc := ledger.New(store)
	source := &stubSource{sig: cleanSignal()}
	g := New(svc, abuse.NewScorer(source), admin.New(nil, []string{id.String()}))

	// The admin account has no ledger row at all; the override must
	// short-circuit before any lookup.
	result, err := g.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        id,
		Action:           abuse.ActionImage,
		EstimatedCredits: 150,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionAllow, result.Decision)
	assert.True(t, result.Unlimited)
	assert.Equal(t, float64(admin.UnlimitedBalance), result.Balance)
	assert.Zero(t, result.Charged)
	assert.Nil(t, result.Assessment)
	assert.Zero(t, source.calls, "admin accounts must not be scored")
}

func TestAuthorize_AdminBypassByEmail(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	env.gate.overrides = admin.New([]string{"student@example.com"}, nil)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 5,
	})
	require.NoError(t, err)

	assert.True(t, result.Unlimited)
	assert.Zero(t, env.source.calls)
	assert.Equal(t, 10.0, env.balance(t), "admin is never charged")
}

func TestAuthorize_InsufficientCredits(t *testing.T) {
	env := setupGate(t, cleanSignal(), 1)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionQuiz,
		EstimatedCredits: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionBlock, result.Decision)
	assert.Equal(t, ReasonInsufficientCredits, result.Reason)
	assert.False(t, result.Allowed())
	assert.Zero(t, result.Charged)
	assert.Equal(t, 1.0, env.balance(t), "failed authorization must not charge")
}

func TestAuthorize_BannedShortCircuits(t *testing.T) {
	env := setupGate(t, cleanSignal(), 100)

	require.NoError(t, env.ledger.Ban(context.Background(), env.account.ID, "refund abuse", 0))

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionBan, result.Decision)
	assert.Contains(t, result.Reason, "refund abuse")
	assert.Zero(t, env.source.calls, "banned accounts are not re-scored")
	assert.Equal(t, 100.0, env.balance(t))
}

func TestAuthorize_ExpiredBanIsCleared(t *testing.T) {
	env := setupGate(t, cleanSignal(), 100)

	require.NoError(t, env.ledger.Ban(context.Background(), env.account.ID, "cooling off", time.Hour))
	env.gate.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionAllow, result.Decision)
	assert.Equal(t, 99.0, env.balance(t))

	account, err := env.ledger.Account(context.Background(), env.account.ID)
	require.NoError(t, err)
	assert.False(t, account.Banned)
	assert.Nil(t, account.BanReason)
}

func TestAuthorize_RiskBlockDoesNotCharge(t *testing.T) {
	// refund history alone: 50 + 15 = no; use 2 refunds(30)+approved(35) = 65 → block
	sig := cleanSignal()
	sig.RefundCount = 2
	sig.ApprovedRefundCount = 2
	env := setupGate(t, sig, 100)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionRefund,
		EstimatedCredits: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionBlock, result.Decision)
	assert.Equal(t, ReasonRiskBlock, result.Reason)
	require.NotNil(t, result.Assessment)
	assert.True(t, result.Assessment.IsAbusive)
	assert.Equal(t, 100.0, env.balance(t), "risk block must not touch the ledger")
}

func TestAuthorize_RiskWarnStillCharges(t *testing.T) {
	// 3+ saturated periods (15) + new account on free tier (30) = 45 → warn
	sig := &abuse.Signal{
		AccountAgeDays:        0,
		Tier:                  models.TierFree,
		DaysSinceLastRefund:   -1,
		LimitSaturatedPeriods: 3,
	}
	env := setupGate(t, sig, 10)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionWarn, result.Decision)
	assert.True(t, result.Allowed())
	assert.Equal(t, 2.0, result.Charged)
	assert.Equal(t, 8.0, env.balance(t))
}

func TestAuthorize_RiskBanPersists(t *testing.T) {
	// 3 refunds (50) + recent refund (40) = 90 → ban
	sig := cleanSignal()
	sig.RefundCount = 3
	sig.DaysSinceLastRefund = 1
	env := setupGate(t, sig, 100)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionRefund,
		EstimatedCredits: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionBan, result.Decision)
	assert.Equal(t, 100.0, env.balance(t))

	account, err := env.ledger.Account(context.Background(), env.account.ID)
	require.NoError(t, err)
	assert.True(t, account.Banned)
	require.NotNil(t, account.BanExpiresAt, "risk bans are temporary")
	assert.WithinDuration(t, time.Now().Add(DefaultTempBanDuration), *account.BanExpiresAt, time.Minute)
}

func TestAuthorize_ZeroCostActionSkipsDebit(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionSignup,
		EstimatedCredits: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionAllow, result.Decision)
	assert.Nil(t, result.TransactionID)
	assert.Equal(t, 10.0, env.balance(t))
}

func TestAuthorize_DetectionUnavailableFailsOpen(t *testing.T) {
	env := setupGate(t, nil, 10)
	env.source.err = assert.AnError

	result, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, abuse.DecisionAllow, result.Decision)
	require.NotNil(t, result.Assessment)
	assert.Contains(t, result.Assessment.Reasons, "detection unavailable")
	assert.Equal(t, 9.0, env.balance(t), "fail-open still charges normally")
}

func TestAuthorize_UnknownAccount(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	_, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        uuid.New(),
		Action:           abuse.ActionMessage,
		EstimatedCredits: 1,
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestReconcile_NeverDoubleCharges(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	// Estimate 2.0 was debited up front.
	auth, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 2.0,
	})
	require.NoError(t, err)
	require.Equal(t, 8.0, auth.Balance)

	// Actual cost came to 3.0: exactly one more debit of 1.0.
	result, err := env.gate.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 2.0,
		ActualCredits:    3.0,
	})
	require.NoError(t, err)

	assert.Equal(t, -1.0, result.Adjustment)
	assert.Zero(t, result.Shortfall)
	assert.Equal(t, 7.0, result.Balance)
	assert.Equal(t, 7.0, env.balance(t), "total charge is 3.0, not 5.0")
}

func TestReconcile_RefundsOverestimate(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	_, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 3.0,
	})
	require.NoError(t, err)

	result, err := env.gate.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 3.0,
		ActualCredits:    1.8,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.2, result.Adjustment)
	assert.Equal(t, 8.2, result.Balance)

	history, err := env.ledger.History(context.Background(), env.account.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TransactionRefund, history[0].Kind)
}

func TestReconcile_ExactEstimateChangesNothing(t *testing.T) {
	env := setupGate(t, cleanSignal(), 10)

	result, err := env.gate.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 2.0,
		ActualCredits:    2.0,
	})
	require.NoError(t, err)

	assert.Zero(t, result.Adjustment)
	assert.Equal(t, 10.0, result.Balance)
}

func TestReconcile_ShortfallAbsorbed(t *testing.T) {
	env := setupGate(t, cleanSignal(), 5)

	_, err := env.gate.Authorize(context.Background(), AuthorizeRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 4.5,
	})
	require.NoError(t, err)
	require.Equal(t, 0.5, env.balance(t))

	// Owes 2.0 more but only 0.5 remains: charge 0.5, absorb 1.5.
	result, err := env.gate.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 4.5,
		ActualCredits:    6.5,
	})
	require.NoError(t, err)

	assert.Equal(t, -0.5, result.Adjustment)
	assert.Equal(t, 1.5, result.Shortfall)
	assert.Zero(t, result.Balance)
	assert.Zero(t, env.balance(t), "balance stops at exactly zero")

	// With the account already drained a further shortfall charges
	// nothing, and the result still reports the live balance.
	result, err = env.gate.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        env.account.ID,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 0,
		ActualCredits:    2,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Adjustment)
	assert.Equal(t, 2.0, result.Shortfall)
	assert.Equal(t, env.balance(t), result.Balance)
}

func TestReconcile_AdminUnlimited(t *testing.T) {
	id := uuid.New()
	g := New(ledger.New(ledger.NewMemoryStore()), abuse.NewScorer(&stubSource{sig: cleanSignal()}), admin.New(nil, []string{id.String()}))

	result, err := g.Reconcile(context.Background(), ReconcileRequest{
		AccountID:        id,
		Action:           abuse.ActionMessage,
		EstimatedCredits: 1,
		ActualCredits:    5,
	})
	require.NoError(t, err)

	assert.True(t, result.Unlimited)
	assert.Zero(t, result.Adjustment)
}
