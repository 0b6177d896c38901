package monitoring

import "time"

// Failure classes recorded on conductor_event_failures_total.
const (
	FailureTransient = "transient"
	FailurePermanent = "permanent"
)

// RecordEventReceived counts a leased lifecycle event.
func RecordEventReceived(messageType string) {
	eventsReceived.WithLabelValues(messageType).Inc()
}

// RecordEventFailure counts a failed lifecycle event by failure class.
func RecordEventFailure(messageType, class string) {
	eventFailures.WithLabelValues(messageType, class).Inc()
}

// RecordReportSent counts an enqueued status report.
func RecordReportSent(messageType string) {
	reportsSent.WithLabelValues(messageType).Inc()
}

// ObserveReadinessWait records how long a readiness wait took, successful or
// not.
func ObserveReadinessWait(elapsed time.Duration) {
	readinessWaitSeconds.Observe(elapsed.Seconds())
}

// ObserveMessageDeliveries records a message's lease count at ack time.
func ObserveMessageDeliveries(readCount int64) {
	messageDeliveries.Observe(float64(readCount))
}
