package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module.
type Metrics struct {
	// Committed decisions by gate and policy class
	DecisionOutcome *prometheus.CounterVec

	// Requests refused before reaching the ledger, by reason
	Denied *prometheus.CounterVec

	// Overall evaluation latency
	EvaluateLatency prometheus.Histogram
}

// New creates a new Metrics instance with all decision module metrics registered.
func New() *Metrics {
	return &Metrics{
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "afterimage_decision_outcomes_total",
			Help: "Total committed decisions by gate and policy class",
		}, []string{"gate", "policy_class"}),

		Denied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "afterimage_decision_denied_total",
			Help: "Decision requests refused without a ledger record, by reason",
		}, []string{"reason"}), // reason: "unknown_actor", "insufficient_tier", "cooldown_active"

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "afterimage_decision_evaluate_duration_seconds",
			Help:    "Duration of full decision evaluation including the ledger append",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementOutcome records a committed decision.
func (m *Metrics) IncrementOutcome(gate, policyClass string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(gate, policyClass).Inc()
	}
}

// IncrementDenied records a refused request.
func (m *Metrics) IncrementDenied(reason string) {
	if m != nil {
		m.Denied.WithLabelValues(reason).Inc()
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
