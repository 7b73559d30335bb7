package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders accepted",
		},
	)

	ordersRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Total number of order requests rejected",
		},
		[]string{"reason"},
	)

	outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events published to the bus",
		},
		[]string{"topic"},
	)

	outboxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of outbox publish retries scheduled",
		},
	)

	outboxDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dlq_total",
			Help: "Total number of outbox events routed to the dead-letter queue",
		},
		[]string{"outcome"},
	)

	publishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_publish_duration_seconds",
			Help:    "Bus publish duration per outbox event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	statusAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_applied_total",
			Help: "Total number of status events applied to orders",
		},
		[]string{"status"},
	)

	duplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicate_events_total",
			Help: "Total number of events dropped by the idempotency fence",
		},
	)
)

func OrderCreated()               { ordersCreatedTotal.Inc() }
func OrderRejected(reason string) { ordersRejectedTotal.WithLabelValues(reason).Inc() }

func OutboxPublished(topic string)   { outboxPublishedTotal.WithLabelValues(topic).Inc() }
func OutboxRetryScheduled()          { outboxRetriesTotal.Inc() }
func OutboxDLQ(outcome string)       { outboxDLQTotal.WithLabelValues(outcome).Inc() }
func ObservePublish(d time.Duration) { publishDuration.Observe(d.Seconds()) }
func StatusApplied(status string)    { statusAppliedTotal.WithLabelValues(status).Inc() }
func DuplicateEvent()                { duplicateEventsTotal.Inc() }
