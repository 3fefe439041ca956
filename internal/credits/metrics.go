package credits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokensRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "tokens_recorded_total",
			Help:      "Tokens recorded against quotas by tier and direction",
		},
		[]string{"tier", "direction"},
	)

	creditsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "granted_total",
			Help:      "Credits granted by tier",
		},
		[]string{"tier"},
	)

	tierChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "tier_changes_total",
			Help:      "Explicit tier changes by source and destination tier",
		},
		[]string{"from", "to", "payment"},
	)

	monthlyResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "monthly_resets_total",
			Help:      "Usage periods rolled over",
		},
	)

	sessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "sessions_evicted_total",
			Help:      "Credit sessions closed after being idle",
		},
	)

	loadOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "load_total",
			Help:      "Ledger loads by source of the resulting state",
		},
		[]string{"source"},
	)

	remoteWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "remote_write_failures_total",
			Help:      "Failed attempts to write credit records to the document store",
		},
	)

	remoteWritesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "remote_writes_dropped_total",
			Help:      "Credit record writes abandoned after exhausting retries",
		},
	)

	outboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "outbox_pending",
			Help:      "Credit record writes waiting for the document store",
		},
	)

	publishedNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "notifications_published_total",
			Help:      "Credit change notifications delivered to subscribers",
		},
	)

	droppedNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "notifications_dropped_total",
			Help:      "Credit change notifications dropped for slow subscribers",
		},
	)

	mergedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "velto",
			Subsystem: "credits",
			Name:      "notifications_merged_total",
			Help:      "Incoming notifications merged into a ledger, by whether the tier disagreed",
		},
		[]string{"tier_conflict"},
	)
)
