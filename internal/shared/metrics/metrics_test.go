package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/api/v1/users/:userId/credits", 200, 100*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/users/:userId/credits", 200, 50*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/v1/users/:userId/credits/deduct", 403, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/users/:userId/credits", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/users/:userId/credits/deduct", "4xx")))
}

func TestMetrics_LedgerCounters(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.RecordDeduction("ok")
	m.RecordDeduction("ok")
	m.RecordDeduction("insufficient")
	m.RecordTierChange("PRO", "COMPLETED")
	m.RecordResets(3)
	m.RecordResets(0)
	m.RecordReconcile("exhausted", 2)
	m.RecordPaymentEvent("checkout.completed", "processed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DeductionsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeductionsTotal.WithLabelValues("insufficient")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TierChangesTotal.WithLabelValues("PRO", "COMPLETED")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ResetsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReconcileAccountsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentEventsTotal.WithLabelValues("checkout.completed", "processed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDeduction("ok")
		m.RecordTierChange("FREE", "FAILED")
		m.RecordResets(1)
		m.RecordReconcile("failed", 1)
		m.RecordBatch("reset", time.Second)
		m.RecordPaymentEvent("ignored", "ignored")
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusCodeToString(tt.code))
	}
}
