package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's business counters. One instance per process;
// the collectors register themselves against the default registry.
type Metrics struct {
	mutationsTotal        *prometheus.CounterVec
	mutationsBlockedTotal *prometheus.CounterVec
	disputesOpenedTotal   *prometheus.CounterVec
	accountsFlaggedTotal  *prometheus.CounterVec
	riskScoreHistogram    prometheus.Histogram

	reconciliationRunsTotal     *prometheus.CounterVec
	reconciliationDiscrepancies prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		mutationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_mutations_total",
				Help: "Committed balance mutations by category and flag outcome",
			},
			[]string{"category", "flagged"},
		),
		mutationsBlockedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_mutations_blocked_total",
				Help: "Mutations refused by risk screening",
			},
			[]string{"category"},
		),
		disputesOpenedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_disputes_opened_total",
				Help: "Dispute records created by type and severity",
			},
			[]string{"type", "severity", "auto_flagged"},
		),
		accountsFlaggedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_accounts_flagged_total",
				Help: "Accounts flagged for review",
			},
			[]string{"reason"},
		),
		riskScoreHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_api_risk_score",
				Help:    "Risk scores observed during mutation screening",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		reconciliationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_reconciliation_runs_total",
				Help: "Reconciliation sweeps by outcome",
			},
			[]string{"status"},
		),
		reconciliationDiscrepancies: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_api_reconciliation_discrepancies_total",
				Help: "Accounts whose balance disagreed with their ledger",
			},
		),
	}
}

func (m *Metrics) MutationApplied(category string, flagged bool) {
	m.mutationsTotal.WithLabelValues(category, strconv.FormatBool(flagged)).Inc()
}

func (m *Metrics) MutationBlocked(category string) {
	m.mutationsBlockedTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) RiskScoreObserved(score int) {
	m.riskScoreHistogram.Observe(float64(score))
}

func (m *Metrics) DisputeOpened(disputeType string, severity string, autoFlagged bool) {
	m.disputesOpenedTotal.WithLabelValues(disputeType, severity, strconv.FormatBool(autoFlagged)).Inc()
}

func (m *Metrics) AccountFlagged(reason string) {
	m.accountsFlaggedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReconciliationRun(status string) {
	m.reconciliationRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) DiscrepancyFound() {
	m.reconciliationDiscrepancies.Inc()
}
