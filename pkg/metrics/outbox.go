package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts what the publisher does with each row.
type OutboxMetrics struct {
	rows    *prometheus.CounterVec
	backlog prometheus.Gauge
}

// NewOutboxMetrics registers on reg. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "rows_total",
			Help:      "Outbox rows handled by the publisher, by event type and result.",
		}, []string{"event_type", "result"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "last_batch_size",
			Help:      "Rows fetched by the most recent publish batch.",
		}),
	}
	reg.MustRegister(m.rows, m.backlog)
	return m
}

func (m *OutboxMetrics) Published(eventType string) { m.inc(eventType, "published") }

func (m *OutboxMetrics) Failed(eventType string) { m.inc(eventType, "failed") }

func (m *OutboxMetrics) Parked(eventType string) { m.inc(eventType, "parked") }

func (m *OutboxMetrics) Batch(size int) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(size))
}

func (m *OutboxMetrics) inc(eventType, result string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(eventType, result).Inc()
}
