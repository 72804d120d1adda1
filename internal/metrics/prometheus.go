// Package metrics exposes Prometheus counters for copy activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listing_copier"

// Metrics holds the copier's Prometheus collectors.
type Metrics struct {
	Registry           *prometheus.Registry
	CopiesTotal        *prometheus.CounterVec
	SubmissionsTotal   prometheus.Counter
	AdjustmentsTotal   *prometheus.CounterVec
	RateLimitWaits     *prometheus.HistogramVec
	CompatTargetsTotal *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		CopiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_total",
			Help:      "Copy outcomes per (item, destination) pair.",
		}, []string{"status"}),
		SubmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "create_submissions_total",
			Help:      "Create-item submissions, including retries.",
		}),
		AdjustmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_adjustments_total",
			Help:      "Payload repairs applied after a rejection.",
		}, []string{"action"}),
		RateLimitWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting after 429 responses.",
			Buckets:   []float64{1, 3, 6, 12, 24, 48},
		}, []string{"path"}),
		CompatTargetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compat_targets_total",
			Help:      "Compatibility copy outcomes per target item.",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.CopiesTotal,
		m.SubmissionsTotal,
		m.AdjustmentsTotal,
		m.RateLimitWaits,
		m.CompatTargetsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// CopyCompleted counts a finished copy.
func (m *Metrics) CopyCompleted(status string) {
	m.CopiesTotal.WithLabelValues(status).Inc()
}

// SubmissionAttempted counts one create-item submission.
func (m *Metrics) SubmissionAttempted() {
	m.SubmissionsTotal.Inc()
}

// PayloadAdjusted counts one payload repair.
func (m *Metrics) PayloadAdjusted(action string) {
	m.AdjustmentsTotal.WithLabelValues(action).Inc()
}

// ObserveRateLimitWait records a rate-limit pause. Paths are reduced to their
// first segment to keep label cardinality low.
func (m *Metrics) ObserveRateLimitWait(path string, wait time.Duration) {
	m.RateLimitWaits.WithLabelValues(pathFamily(path)).Observe(wait.Seconds())
}

// CompatCompleted counts one compatibility target outcome.
func (m *Metrics) CompatCompleted(status string) {
	m.CompatTargetsTotal.WithLabelValues(status).Inc()
}

func pathFamily(path string) string {
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}
