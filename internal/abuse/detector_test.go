package abuse

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_CleanAccount(t *testing.T) {
	sig := &Signal{AccountAgeDays: 90, Tier: "credits", DaysSinceLastRefund: -1}

	result := Score(ActionMessage, sig)

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, LevelLow, result.Level)
	assert.Equal(t, DecisionAllow, result.Action)
	assert.False(t, result.IsAbusive)
	assert.Empty(t, result.Reasons)
}

func TestScore_NewAccount(t *testing.T) {
	t.Run("paid tier", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 0, Tier: "credits", DaysSinceLastRefund: -1})
		assert.Equal(t, 20, result.Score)
		assert.Equal(t, DecisionAllow, result.Action)
		assert.Len(t, result.Reasons, 1)
	})

	t.Run("free tier compounds", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 0, Tier: "free", DaysSinceLastRefund: -1})
		assert.Equal(t, 30, result.Score)
		assert.Len(t, result.Reasons, 2)
	})
}

func TestScore_RefundRules(t *testing.T) {
	testCases := []struct {
		name      string
		sig       Signal
		wantScore int
		wantAct   Decision
	}{
		{
			name:      "second refund request",
			sig:       Signal{AccountAgeDays: 60, RefundCount: 2, DaysSinceLastRefund: 30},
			wantScore: 30,
			wantAct:   DecisionAllow,
		},
		{
			name:      "three refunds",
			sig:       Signal{AccountAgeDays: 60, RefundCount: 3, DaysSinceLastRefund: 30},
			wantScore: 50,
			wantAct:   DecisionWarn,
		},
		{
			name: "three refunds and recent",
			// 50 + 40 = 90, the canonical ban example.
			sig:       Signal{AccountAgeDays: 60, RefundCount: 3, DaysSinceLastRefund: 3},
			wantScore: 90,
			wantAct:   DecisionBan,
		},
		{
			name:      "approved refund pattern",
			sig:       Signal{AccountAgeDays: 60, RefundCount: 1, DaysSinceLastRefund: 30, ApprovedRefundCount: 2},
			wantScore: 35,
			wantAct:   DecisionWarn,
		},
		{
			name:      "everything compounds and caps at 100",
			sig:       Signal{AccountAgeDays: 0, Tier: "free", RefundCount: 5, DaysSinceLastRefund: 1, ApprovedRefundCount: 3},
			wantScore: 100,
			wantAct:   DecisionBan,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Score(ActionRefund, &tc.sig)
			assert.Equal(t, tc.wantScore, result.Score)
			assert.Equal(t, tc.wantAct, result.Action)
		})
	}
}

func TestScore_RefundRulesOnlyApplyToRefundActions(t *testing.T) {
	sig := &Signal{AccountAgeDays: 60, RefundCount: 5, DaysSinceLastRefund: 1, ApprovedRefundCount: 3}

	result := Score(ActionMessage, sig)

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, DecisionAllow, result.Action)
}

func TestScore_UsagePatterns(t *testing.T) {
	t.Run("limit saturation", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 60, DaysSinceLastRefund: -1, LimitSaturatedPeriods: 3})
		assert.Equal(t, 15, result.Score)
	})

	t.Run("spike on young account", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 10, DaysSinceLastRefund: -1, UsageSpikePercent: 700})
		assert.Equal(t, 25, result.Score)
	})

	t.Run("same spike on old account is fine", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 120, DaysSinceLastRefund: -1, UsageSpikePercent: 700})
		assert.Equal(t, 0, result.Score)
	})
}

func TestScore_RateRules(t *testing.T) {
	t.Run("request burst", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 60, DaysSinceLastRefund: -1, RequestsLastMinute: 21})
		assert.Equal(t, 30, result.Score)
	})

	t.Run("exactly twenty is fine", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 60, DaysSinceLastRefund: -1, RequestsLastMinute: 20})
		assert.Equal(t, 0, result.Score)
	})

	t.Run("generation burst", func(t *testing.T) {
		result := Score(ActionQuiz, &Signal{AccountAgeDays: 60, DaysSinceLastRefund: -1, GenerationsLastHour: 11})
		assert.Equal(t, 25, result.Score)
	})

	t.Run("generation count ignored for chat", func(t *testing.T) {
		result := Score(ActionMessage, &Signal{AccountAgeDays: 60, DaysSinceLastRefund: -1, GenerationsLastHour: 50})
		assert.Equal(t, 0, result.Score)
	})
}

func TestScore_DisposableEmail(t *testing.T) {
	sig := &Signal{AccountAgeDays: 0, Tier: "free", DaysSinceLastRefund: -1, IsDisposableEmail: true}

	result := Score(ActionSignup, sig)

	// 20 + 10 + 40
	assert.Equal(t, 70, result.Score)
	assert.Equal(t, DecisionBlock, result.Action)
	assert.True(t, result.IsAbusive)

	// The same email is not re-scored on ordinary feature use.
	result = Score(ActionMessage, sig)
	assert.Equal(t, 30, result.Score)
}

func TestClassify_ThresholdBoundaries(t *testing.T) {
	testCases := []struct {
		score    int
		level    Level
		decision Decision
	}{
		{score: 0, level: LevelLow, decision: DecisionAllow},
		{score: 34, level: LevelLow, decision: DecisionAllow},
		{score: 35, level: LevelMedium, decision: DecisionWarn},
		{score: 59, level: LevelMedium, decision: DecisionWarn},
		{score: 60, level: LevelHigh, decision: DecisionBlock},
		{score: 79, level: LevelHigh, decision: DecisionBlock},
		{score: 80, level: LevelCritical, decision: DecisionBan},
		{score: 100, level: LevelCritical, decision: DecisionBan},
	}

	for _, tc := range testCases {
		level, decision := classify(tc.score)
		assert.Equal(t, tc.level, level, "score %d", tc.score)
		assert.Equal(t, tc.decision, decision, "score %d", tc.score)
	}
}

func TestScore_IsAbusiveBoundary(t *testing.T) {
	// 20 + 40 = 60: the exact block threshold.
	sig := &Signal{AccountAgeDays: 0, Tier: "credits", RefundCount: 1, DaysSinceLastRefund: 2}
	result := Score(ActionRefund, sig)
	require.Equal(t, 60, result.Score)
	assert.True(t, result.IsAbusive)
	assert.Equal(t, DecisionBlock, result.Action)

	// 20 + 35 = 55: warn territory, not abusive.
	sig = &Signal{AccountAgeDays: 0, Tier: "credits", RefundCount: 1, DaysSinceLastRefund: 30, ApprovedRefundCount: 2}
	result = Score(ActionRefund, sig)
	require.Equal(t, 55, result.Score)
	assert.False(t, result.IsAbusive)
	assert.Equal(t, DecisionWarn, result.Action)
}

// staticSource returns a fixed signal or error.
type staticSource struct {
	sig *Signal
	err error
}

func (s *staticSource) Collect(ctx context.Context, accountID uuid.UUID, action Action) (*Signal, error) {
	return s.sig, s.err
}

func TestEvaluate(t *testing.T) {
	scorer := NewScorer(&staticSource{sig: &Signal{AccountAgeDays: 0, Tier: "free", DaysSinceLastRefund: -1}})

	result := scorer.Evaluate(context.Background(), uuid.New(), ActionMessage)

	assert.Equal(t, 30, result.Score)
	assert.Equal(t, LevelLow, result.Level)
}

func TestEvaluate_SourceFailureFailsOpen(t *testing.T) {
	scorer := NewScorer(&staticSource{err: errors.New("redis: connection refused")})

	result := scorer.Evaluate(context.Background(), uuid.New(), ActionMessage)

	assert.Equal(t, DecisionAllow, result.Action)
	assert.Equal(t, LevelLow, result.Level)
	assert.False(t, result.IsAbusive)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, "detection unavailable", result.Reasons[0])
}

func TestEvaluate_SourceFailureFailClosed(t *testing.T) {
	scorer := NewScorer(&staticSource{err: errors.New("redis: connection refused")}, WithFailClosed())

	result := scorer.Evaluate(context.Background(), uuid.New(), ActionMessage)

	assert.Equal(t, DecisionBlock, result.Action)
	require.Len(t, result.Reasons, 1)
	assert.Equal(t, "detection unavailable", result.Reasons[0])
}
