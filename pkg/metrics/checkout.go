package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records order placement outcomes and latency.
type CheckoutMetrics struct {
	created  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders successfully placed, by payment method.",
	}, []string{"payment_method"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Failed checkout attempts, by reason.",
	}, []string{"reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Duration of the checkout transaction in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"payment_method"})
	reg.MustRegister(created, failures, duration)
	return &CheckoutMetrics{
		created:  created,
		failures: failures,
		duration: duration,
	}
}

// IncCreated increments the created counter for the payment method.
func (c *CheckoutMetrics) IncCreated(method string) {
	if c == nil || c.created == nil {
		return
	}
	c.created.WithLabelValues(normalizeLabel(method)).Inc()
}

// IncFailure increments the failure counter for the given reason.
func (c *CheckoutMetrics) IncFailure(reason string) {
	if c == nil || c.failures == nil {
		return
	}
	c.failures.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveDuration records how long a checkout took.
func (c *CheckoutMetrics) ObserveDuration(method string, d time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(method)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
