package logging

import (
	"context"
	"time"
)

// DecisionRecord is one authorization decision as written to the audit
// trail. Records are append-only and never read back by the service.
type DecisionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	AccountID    string    `json:"account_id"`
	Action       string    `json:"action"`
	Decision     string    `json:"decision"`
	RiskScore    int       `json:"risk_score"`
	RiskLevel    string    `json:"risk_level"`
	Reasons      []string  `json:"reasons,omitempty"`
	CreditsCost  float64   `json:"credits_cost"`
	BalanceAfter float64   `json:"balance_after"`
	AdminBypass  bool      `json:"admin_bypass,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Sink receives decision records from the gate.
type Sink interface {
	Enqueue(rec *DecisionRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink is a placeholder implementation that discards records.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *DecisionRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}
