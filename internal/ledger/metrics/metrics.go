package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger.
type Metrics struct {
	// Appends by outcome: committed, forbidden, cancelled, unavailable, invalid
	Appends *prometheus.CounterVec

	// Committed records by gate
	GateResults *prometheus.CounterVec

	AppendLatency prometheus.Histogram
	LockWait      prometheus.Histogram

	// Current head sequence number
	HeadSequence prometheus.Gauge

	// Verification runs by status (VALID, BROKEN)
	Verifications  *prometheus.CounterVec
	VerifyLatency  prometheus.Histogram
	ChainIntegrity prometheus.Gauge
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Appends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "afterimage_ledger_appends_total",
			Help: "Total ledger append attempts by outcome",
		}, []string{"outcome"}),

		GateResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "afterimage_ledger_gate_results_total",
			Help: "Committed ledger records by gate result",
		}, []string{"gate"}),

		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "afterimage_ledger_append_duration_seconds",
			Help:    "Duration of a ledger append including scoring and persistence",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "afterimage_ledger_lock_wait_seconds",
			Help:    "Time spent waiting for the ledger writer lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		HeadSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "afterimage_ledger_head_sequence",
			Help: "Sequence number of the current ledger head",
		}),

		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "afterimage_ledger_verifications_total",
			Help: "Chain verification runs by result status",
		}, []string{"status"}),

		VerifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "afterimage_ledger_verify_duration_seconds",
			Help:    "Duration of chain verification runs",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		ChainIntegrity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "afterimage_ledger_chain_valid",
			Help: "1 when the last verification found the chain valid, 0 when broken",
		}),
	}
}

// IncrementAppend records an append attempt outcome.
func (m *Metrics) IncrementAppend(outcome string) {
	if m != nil {
		m.Appends.WithLabelValues(outcome).Inc()
	}
}

// RecordCommit records a committed record's gate and the new head.
func (m *Metrics) RecordCommit(gate string, seq uint64) {
	if m != nil {
		m.GateResults.WithLabelValues(gate).Inc()
		m.HeadSequence.Set(float64(seq))
	}
}

// SetHead records the head sequence after open or resync.
func (m *Metrics) SetHead(seq uint64) {
	if m != nil {
		m.HeadSequence.Set(float64(seq))
	}
}

// ObserveAppendLatency records the total append duration.
func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}

// ObserveLockWait records how long an append waited for the writer lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}

// RecordVerification records a verification result.
func (m *Metrics) RecordVerification(status string, valid bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(status).Inc()
	m.VerifyLatency.Observe(d.Seconds())
	if valid {
		m.ChainIntegrity.Set(1)
	} else {
		m.ChainIntegrity.Set(0)
	}
}
