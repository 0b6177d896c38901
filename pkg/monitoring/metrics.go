package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Domain-specific metric collectors.
//
// These complement the generic process and client metrics with conductor
// state the framework cannot know about: lifecycle-event throughput, failure
// classification, and how long instances take to become connectable.
var (
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_events_received_total",
			Help: "Lifecycle events leased from the control-plane queue, by message type.",
		},
		[]string{"message_type"},
	)

	eventFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_event_failures_total",
			Help: "Lifecycle events that failed processing, by message type and failure class.",
		},
		[]string{"message_type", "class"},
	)

	reportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_reports_sent_total",
			Help: "Status reports enqueued on the data-plane queue, by report type.",
		},
		[]string{"message_type"},
	)

	readinessWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conductor_readiness_wait_seconds",
			Help:    "Time spent waiting for an applied CoreDB to become connectable.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	messageDeliveries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conductor_message_deliveries",
			Help:    "Lease count of each message at the time it was acked. Values above 1 are redeliveries.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		eventsReceived,
		eventFailures,
		reportsSent,
		readinessWaitSeconds,
		messageDeliveries,
	)
}

// Collectors returns all registered metric collectors. This is useful for
// testing that metrics are properly registered.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		eventsReceived,
		eventFailures,
		reportsSent,
		readinessWaitSeconds,
		messageDeliveries,
	}
}
