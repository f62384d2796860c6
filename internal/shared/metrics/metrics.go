package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ledger metrics
	DeductionsTotal        *prometheus.CounterVec
	TierChangesTotal       *prometheus.CounterVec
	ResetsTotal            prometheus.Counter
	ReconcileAccountsTotal *prometheus.CounterVec
	BatchDuration          *prometheus.HistogramVec

	// Billing metrics
	PaymentEventsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered against reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "iconforge"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Ledger metrics
		DeductionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "deductions_total",
				Help:      "Total number of credit deductions",
			},
			[]string{"result"}, // ok, insufficient, not_found, error
		),
		TierChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "tier_changes_total",
				Help:      "Total number of tier change attempts",
			},
			[]string{"tier", "status"},
		),
		ResetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "resets_total",
				Help:      "Total number of accounts reset by the scheduler",
			},
		),
		ReconcileAccountsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "reconcile_accounts_total",
				Help:      "Accounts seen by reconciliation, by outcome",
			},
			[]string{"outcome"}, // exhausted, cooling_down, succeeded, failed, deferred
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "batch_duration_seconds",
				Help:      "Duration of periodic ledger batches",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
			[]string{"job"},
		),

		// Billing metrics
		PaymentEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "payment_events_total",
				Help:      "Total number of payment processor events",
			},
			[]string{"type", "result"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDeduction records a deduction outcome.
func (m *Metrics) RecordDeduction(result string) {
	if m == nil {
		return
	}
	m.DeductionsTotal.WithLabelValues(result).Inc()
}

// RecordTierChange records a tier change attempt.
func (m *Metrics) RecordTierChange(tier, status string) {
	if m == nil {
		return
	}
	m.TierChangesTotal.WithLabelValues(tier, status).Inc()
}

// RecordResets records accounts reset by one batch.
func (m *Metrics) RecordResets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ResetsTotal.Add(float64(n))
}

// RecordReconcile records reconciliation outcomes.
func (m *Metrics) RecordReconcile(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconcileAccountsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordBatch records the duration of a periodic batch.
func (m *Metrics) RecordBatch(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordPaymentEvent records a payment processor event.
func (m *Metrics) RecordPaymentEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.PaymentEventsTotal.WithLabelValues(eventType, result).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
