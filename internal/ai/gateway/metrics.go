package gateway

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

// sanitizeLabel keeps a label value short and free of spaces, and maps empty
// values to "unknown".
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// Metrics instruments the completion path.
type Metrics struct {
	completions     *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
	estimatedUsage  *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton gateway metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

func newMetrics() *Metrics {
	m := &Metrics{
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velto",
				Subsystem: "ai",
				Name:      "completions_total",
				Help:      "Completion requests by provider, tier and outcome",
			},
			[]string{"provider", "tier", "outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velto",
				Subsystem: "ai",
				Name:      "fallbacks_total",
				Help:      "Retries with the fallback model after the routed model was rejected",
			},
			[]string{"provider", "model"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velto",
				Subsystem: "ai",
				Name:      "quota_rejections_total",
				Help:      "Requests refused by the pre-flight quota check",
			},
			[]string{"tier"},
		),
		estimatedUsage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "velto",
				Subsystem: "ai",
				Name:      "estimated_usage_total",
				Help:      "Completions accounted with locally estimated token counts",
			},
			[]string{"provider"},
		),
	}

	prometheus.MustRegister(
		m.completions,
		m.fallbacks,
		m.quotaRejections,
		m.estimatedUsage,
	)

	return m
}

// RecordCompletion records the outcome of one Complete call: "ok", "error" or "quota".
func (m *Metrics) RecordCompletion(provider, tier, outcome string) {
	m.completions.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(tier), outcome).Inc()
}

// RecordFallback records a retry with the fallback model. model is the rejected one.
func (m *Metrics) RecordFallback(provider, model string) {
	m.fallbacks.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(model)).Inc()
}

// RecordQuotaRejection records a pre-flight refusal.
func (m *Metrics) RecordQuotaRejection(tier string) {
	m.quotaRejections.WithLabelValues(sanitizeLabel(tier)).Inc()
}

// RecordEstimatedUsage records a completion whose provider reported no usage.
func (m *Metrics) RecordEstimatedUsage(provider string) {
	m.estimatedUsage.WithLabelValues(sanitizeLabel(provider)).Inc()
}
