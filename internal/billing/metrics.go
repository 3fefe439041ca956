package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "billing",
			Name:      "webhook_requests_total",
			Help:      "Stripe webhook deliveries by event type and response status",
		},
		[]string{"event_type", "status"},
	)

	webhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "velto",
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Stripe webhook processing time by event type",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	checkoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "billing",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)
