package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sub_events_produced_total",
			Help: "Total number of events appended to the durable log",
		},
		[]string{"event_type"},
	)

	EventsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_sub_events_filtered_total",
			Help: "Total number of events dropped by the client allow-list",
		},
	)

	WebhookRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sub_webhook_rejected_total",
			Help: "Total number of webhook deliveries rejected at the boundary",
		},
		[]string{"reason"},
	)

	// Dispatch metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sub_events_consumed_total",
			Help: "Total number of delivery attempts claimed by consumers",
		},
		[]string{"event_type"},
	)

	EventsAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_sub_events_acked_total",
			Help: "Total number of events acknowledged after successful handling",
		},
	)

	EventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sub_events_failed_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"kind"},
	)

	EventsQuarantined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sub_events_quarantined_total",
			Help: "Total number of events moved to the dead-letter quarantine",
		},
		[]string{"reason"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_sub_processing_duration_seconds",
			Help:    "Duration of handler invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lag metrics
	PendingCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_sub_pending_count",
			Help: "Number of claimed-but-unacknowledged entries in the consumer group",
		},
	)

	QuarantineLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_sub_quarantine_length",
			Help: "Number of entries currently held in quarantine",
		},
	)
)
