package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inventory_consumer",
			Name:      "events_processed_total",
			Help:      "Total event deliveries handled by the consumer.",
		},
		[]string{"event_type", "result"}, // result: applied, duplicate, failed
	)

	unsupportedVersionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inventory_consumer",
			Name:      "unsupported_versions_total",
			Help:      "Total deliveries routed to the dead-letter subject.",
		},
		[]string{"event_type", "payload_version"},
	)
)
