package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbox_relay",
			Name:      "records_published_total",
			Help:      "Total outbox records confirmed by the broker.",
		},
		[]string{"event_type"},
	)

	publishFailureCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbox_relay",
			Name:      "publish_failures_total",
			Help:      "Total failed publish attempts.",
		},
		[]string{"event_type", "kind"}, // kind: "retryable" or "permanent"
	)

	deadLetteredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "outbox_relay",
			Name:      "records_dead_lettered_total",
			Help:      "Total outbox records moved to DEAD_LETTERED.",
		},
		[]string{"event_type"},
	)

	sweepRecoveredCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "outbox_relay",
			Name:      "stuck_records_recovered_total",
			Help:      "Total PUBLISHING records reverted to PENDING by the sweep.",
		},
	)

	claimedBatchSizeHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "outbox_relay",
			Name:      "claimed_batch_size",
			Help:      "Number of records claimed per poll cycle.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	publishDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "outbox_relay",
			Name:      "publish_duration_seconds",
			Help:      "Duration of a single publish attempt including confirmation.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)
)
