package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records authorization and ledger outcomes. The interface keeps
// the gate testable without a Prometheus registry.
type Metrics interface {
	RecordAuthorization(decision string, duration time.Duration)
	RecordRiskScore(score int)
	RecordDebit(credits float64)
	RecordCredit(kind string, credits float64)
	RecordDenial(reason string)
	HTTPHandler() http.Handler
}

// Collector is the Prometheus-backed Metrics implementation
type Collector struct {
	registry *prometheus.Registry

	authorizations *prometheus.CounterVec
	authDuration   prometheus.Histogram
	riskScores     prometheus.Histogram
	creditsDebited prometheus.Counter
	creditsGranted *prometheus.CounterVec
	denials        *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		authorizations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "authorizations_total",
			Help: "Authorization outcomes by decision",
		}, []string{"decision"}),
		authDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "authorization_duration_seconds",
			Help:    "Time taken to authorize a request",
			Buckets: prometheus.DefBuckets,
		}),
		riskScores: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "risk_score_distribution",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0, 20, 35, 60, 80, 100},
		}),
		creditsDebited: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited from accounts",
		}),
		creditsGranted: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "credits_granted_total",
			Help: "Total credits granted by transaction kind",
		}, []string{"kind"}),
		denials: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "authorization_denials_total",
			Help: "Denied authorizations by reason",
		}, []string{"reason"}),
	}
}

func (c *Collector) RecordAuthorization(decision string, duration time.Duration) {
	c.authorizations.WithLabelValues(decision).Inc()
	c.authDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordRiskScore(score int) {
	c.riskScores.Observe(float64(score))
}

func (c *Collector) RecordDebit(credits float64) {
	c.creditsDebited.Add(credits)
}

func (c *Collector) RecordCredit(kind string, credits float64) {
	c.creditsGranted.WithLabelValues(kind).Add(credits)
}

func (c *Collector) RecordDenial(reason string) {
	c.denials.WithLabelValues(reason).Inc()
}

func (c *Collector) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Noop is a placeholder metrics implementation
type Noop struct{}

// NewNoop creates a no-op metrics implementation
func NewNoop() *Noop {
	return &Noop{}
}

func (m *Noop) RecordAuthorization(string, time.Duration) {}
func (m *Noop) RecordRiskScore(int)                       {}
func (m *Noop) RecordDebit(float64)                       {}
func (m *Noop) RecordCredit(string, float64)              {}
func (m *Noop) RecordDenial(string)                       {}

func (m *Noop) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}
