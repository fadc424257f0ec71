package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Batch(3)
	m.Published("order.created")
	m.Published("order.created")
	m.Failed("refund.approved")
	m.Parked("refund.approved")

	expected := `
# HELP tradepost_outbox_rows_total Outbox rows handled by the publisher, by event type and result.
# TYPE tradepost_outbox_rows_total counter
tradepost_outbox_rows_total{event_type="order.created",result="published"} 2
tradepost_outbox_rows_total{event_type="refund.approved",result="failed"} 1
tradepost_outbox_rows_total{event_type="refund.approved",result="parked"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tradepost_outbox_rows_total"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.backlog))

	var nilMetrics *OutboxMetrics
	assert.NotPanics(t, func() { nilMetrics.Published("x") })
}
