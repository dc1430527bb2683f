// Package abuse scores recent account behavior and recommends an action.
// Scoring is a pure function of the collected signals; the gate is the only
// component that acts on the recommendation.
package abuse

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"jumpstudy/internal/utils"
)

// Action is the kind of activity being scored.
type Action string

const (
	ActionMessage   Action = "message"
	ActionImage     Action = "image"
	ActionRefund    Action = "refund"
	ActionSignup    Action = "signup"
	ActionQuiz      Action = "quiz"
	ActionNote      Action = "note"
	ActionSlideshow Action = "slideshow"
)

// AllActions lists every scoreable action, for callers that aggregate
// activity across kinds.
var AllActions = []Action{
	ActionMessage, ActionImage, ActionRefund, ActionSignup,
	ActionQuiz, ActionNote, ActionSlideshow,
}

// IsGeneration reports whether the action is a content-generation feature.
func (a Action) IsGeneration() bool {
	return a == ActionQuiz || a == ActionNote || a == ActionSlideshow
}

// Level buckets a score into a severity.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Decision is the recommended handling for the scored request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
	DecisionBan   Decision = "ban"
)

// Signal carries the behavioral inputs to a single evaluation. It is
// derived on demand from the account row, recent transactions and the
// sliding-window activity counters; nothing here is persisted.
type Signal struct {
	AccountAgeDays        int
	Tier                  string
	RefundCount           int
	DaysSinceLastRefund   int // -1 when the account has never asked
	ApprovedRefundCount   int
	LimitSaturatedPeriods int
	UsageSpikePercent     float64
	RequestsLastMinute    int
	GenerationsLastHour   int
	IsDisposableEmail     bool
}

// Assessment is the result of one evaluation. It is created fresh per call
// and never stored as the canonical account status.
type Assessment struct {
	Score     int      `json:"score"`
	Level     Level    `json:"risk_level"`
	Reasons   []string `json:"reasons"`
	Action    Decision `json:"action"`
	IsAbusive bool     `json:"is_abusive"`
}

// SignalSource collects the signals for an account and action.
// Reads may be slightly stale relative to concurrent ledger writes; the
// scorer is a heuristic, not a security boundary.
type SignalSource interface {
	Collect(ctx context.Context, accountID uuid.UUID, action Action) (*Signal, error)
}

// Scorer evaluates accounts against the rule set.
type Scorer struct {
	source     SignalSource
	logger     *utils.Logger
	failClosed bool
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithFailClosed makes signal-collection failures block instead of the
// default allow-with-audit behavior.
func WithFailClosed() ScorerOption {
	return func(s *Scorer) { s.failClosed = true }
}

// NewScorer creates a scorer backed by a signal source.
func NewScorer(source SignalSource, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		source: source,
		logger: utils.NewLogger("abuse"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate collects signals and scores them. A signal-collection failure
// does not propagate as an error: availability wins over strictness by
// default, and the degraded assessment is logged for audit.
func (s *Scorer) Evaluate(ctx context.Context, accountID uuid.UUID, action Action) Assessment {
	signal, err := s.source.Collect(ctx, accountID, action)
	if err != nil {
		s.logger.Error("signal collection failed, detection degraded",
			"account_id", accountID,
			"action", action,
			"fail_closed", s.failClosed,
			"error", err,
		)
		if s.failClosed {
			return Assessment{
				Score:     0,
				Level:     LevelHigh,
				Reasons:   []string{"detection unavailable"},
				Action:    DecisionBlock,
				IsAbusive: false,
			}
		}
		return Assessment{
			Score:     0,
			Level:     LevelLow,
			Reasons:   []string{"detection unavailable"},
			Action:    DecisionAllow,
			IsAbusive: false,
		}
	}

	return Score(action, signal)
}

// Score applies the rule set to a signal snapshot. Rules are independent
// and all of them run, so simultaneous concerns compound; each triggered
// rule adds its fixed weight and one reason.
func Score(action Action, sig *Signal) Assessment {
	var score int
	var reasons []string

	if sig.AccountAgeDays < 1 {
		score += 20
		reasons = append(reasons, "very new account (< 1 day old)")

		if sig.Tier == "free" {
			score += 10
			reasons = append(reasons, "free tier with immediate heavy usage")
		}
	}

	if action == ActionRefund {
		if sig.RefundCount >= 3 {
			score += 50
			reasons = append(reasons, fmt.Sprintf("multiple refund requests (%d total)", sig.RefundCount))
		} else if sig.RefundCount == 2 {
			score += 30
			reasons = append(reasons, "second refund request")
		}

		if sig.RefundCount > 0 && sig.DaysSinceLastRefund >= 0 && sig.DaysSinceLastRefund < 7 {
			score += 40
			reasons = append(reasons, fmt.Sprintf("recent refund request (%d days ago)", sig.DaysSinceLastRefund))
		}

		if sig.ApprovedRefundCount >= 2 {
			score += 35
			reasons = append(reasons, fmt.Sprintf("pattern of approved refunds (%d)", sig.ApprovedRefundCount))
		}
	}

	if sig.LimitSaturatedPeriods >= 3 {
		score += 15
		reasons = append(reasons, "consistently hitting usage limits")
	}

	if sig.UsageSpikePercent > 500 && sig.AccountAgeDays < 30 {
		score += 25
		reasons = append(reasons, fmt.Sprintf("sudden usage spike (%.0f%% increase)", sig.UsageSpikePercent))
	}

	if sig.RequestsLastMinute > 20 {
		score += 30
		reasons = append(reasons, fmt.Sprintf("excessive requests (%d in last minute)", sig.RequestsLastMinute))
	}

	if action.IsGeneration() && sig.GenerationsLastHour > 10 {
		score += 25
		reasons = append(reasons, fmt.Sprintf("excessive %s generation (%d in last hour)", action, sig.GenerationsLastHour))
	}

	if action == ActionSignup && sig.IsDisposableEmail {
		score += 40
		reasons = append(reasons, "disposable email address detected")
	}

	if score > 100 {
		score = 100
	}

	level, decision := classify(score)
	return Assessment{
		Score:     score,
		Level:     level,
		Reasons:   reasons,
		Action:    decision,
		IsAbusive: score >= 60,
	}
}

// classify maps a score to its level and recommended action.
// Thresholds are fixed; first match from the top wins.
func classify(score int) (Level, Decision) {
	switch {
	case score >= 80:
		return LevelCritical, DecisionBan
	case score >= 60:
		return LevelHigh, DecisionBlock
	case score >= 35:
		return LevelMedium, DecisionWarn
	default:
		return LevelLow, DecisionAllow
	}
}
