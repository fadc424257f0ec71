package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts financial state changes across the order lifecycle.
type LedgerMetrics struct {
	ordersConfirmed *prometheus.CounterVec
	commissions     *prometheus.CounterVec
	payouts         *prometheus.CounterVec
	payoutAmount    *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		ordersConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_confirmed_total",
			Help:      "Orders confirmed, by currency.",
		}, []string{"currency"}),
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commission_transitions_total",
			Help:      "Commission status transitions, by target status.",
		}, []string{"status"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_transitions_total",
			Help:      "Payout status transitions, by target status.",
		}, []string{"status"}),
		payoutAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_amount_minor_total",
			Help:      "Minor units paid out, by currency.",
		}, []string{"currency"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_transitions_total",
			Help:      "Refund status transitions, by target status.",
		}, []string{"status"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Concurrency conflicts observed, by operation.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.ordersConfirmed, m.commissions, m.payouts, m.payoutAmount, m.refunds, m.conflicts)
	return m
}

func (m *LedgerMetrics) OrderConfirmed(currency string) {
	if m == nil || m.ordersConfirmed == nil {
		return
	}
	m.ordersConfirmed.WithLabelValues(currency).Inc()
}

func (m *LedgerMetrics) CommissionTransition(status string, n int) {
	if m == nil || m.commissions == nil || n <= 0 {
		return
	}
	m.commissions.WithLabelValues(status).Add(float64(n))
}

func (m *LedgerMetrics) PayoutTransition(status string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

// PayoutPaid adds the completed payout amount in minor units.
func (m *LedgerMetrics) PayoutPaid(currency string, minor int64) {
	if m == nil || m.payoutAmount == nil || minor <= 0 {
		return
	}
	m.payoutAmount.WithLabelValues(currency).Add(float64(minor))
}

func (m *LedgerMetrics) RefundTransition(status string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

func (m *LedgerMetrics) Conflict(operation string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}
