package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks balance-changing operations.
type LedgerMetrics struct {
	credits *prometheus.CounterVec
	debits  *prometheus.CounterVec
	drift   prometheus.Gauge
}

// PayoutMetrics tracks revenue distribution and payout processing.
type PayoutMetrics struct {
	distributions *prometheus.CounterVec
	batches       *prometheus.CounterVec
	paidCents     prometheus.Counter
	transferTime  *prometheus.HistogramVec
	stuckClaims   prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics

	payoutOnce     sync.Once
	payoutRegistry *PayoutMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			credits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leadsong",
				Subsystem: "ledger",
				Name:      "credits_total",
				Help:      "Ledger credit applications segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			debits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leadsong",
				Subsystem: "ledger",
				Name:      "debits_total",
				Help:      "Ledger debit attempts segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			drift: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "leadsong",
				Subsystem: "ledger",
				Name:      "balance_drift_users",
				Help:      "Users whose materialized balance differs from the sum of their ledger entries at the last reconciliation.",
			}),
		}
		prometheus.MustRegister(ledgerRegistry.credits, ledgerRegistry.debits, ledgerRegistry.drift)
	})
	return ledgerRegistry
}

func (m *LedgerMetrics) RecordCredit(source, outcome string) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(source, outcome).Inc()
}

func (m *LedgerMetrics) RecordDebit(source, outcome string) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(source, outcome).Inc()
}

func (m *LedgerMetrics) SetDrift(users int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(users))
}

// Payouts returns the lazily-initialised payout metrics registry.
func Payouts() *PayoutMetrics {
	payoutOnce.Do(func() {
		payoutRegistry = &PayoutMetrics{
			distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leadsong",
				Subsystem: "revenue",
				Name:      "distributions_total",
				Help:      "Revenue distributions segmented by outcome.",
			}, []string{"outcome"}),
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "leadsong",
				Subsystem: "payout",
				Name:      "batches_total",
				Help:      "Payout batches segmented by gateway and outcome.",
			}, []string{"gateway", "outcome"}),
			paidCents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "leadsong",
				Subsystem: "payout",
				Name:      "paid_cents_total",
				Help:      "Total amount transferred to payees, in cents.",
			}),
			transferTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "leadsong",
				Subsystem: "payout",
				Name:      "transfer_duration_seconds",
				Help:      "Latency of external transfer calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"gateway"}),
			stuckClaims: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "leadsong",
				Subsystem: "payout",
				Name:      "stuck_claims",
				Help:      "Payout claims left in processing past the reconciliation threshold at the last run.",
			}),
		}
		prometheus.MustRegister(
			payoutRegistry.distributions,
			payoutRegistry.batches,
			payoutRegistry.paidCents,
			payoutRegistry.transferTime,
			payoutRegistry.stuckClaims,
		)
	})
	return payoutRegistry
}

func (m *PayoutMetrics) RecordDistribution(outcome string) {
	if m == nil {
		return
	}
	m.distributions.WithLabelValues(outcome).Inc()
}

// RecordBatch records one processed payout batch and, on success, the amount paid.
func (m *PayoutMetrics) RecordBatch(gateway, outcome string, cents int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(gateway, outcome).Inc()
	m.transferTime.WithLabelValues(gateway).Observe(elapsed.Seconds())
	if outcome == "paid" && cents > 0 {
		m.paidCents.Add(float64(cents))
	}
}

func (m *PayoutMetrics) SetStuckClaims(n int) {
	if m == nil {
		return
	}
	m.stuckClaims.Set(float64(n))
}
