// Package monitoring provides Prometheus metrics and recording helpers for
// the conductor. It exposes domain-specific counters and histograms that
// complement the process metrics already served from the metrics endpoint.
//
// All metrics follow the naming convention conductor_<metric>_<unit> and are
// registered against controller-runtime's default Prometheus registry on
// import.
//
// Usage in the reconciliation loop:
//
//	monitoring.RecordEventReceived(evt.MessageType)
//	monitoring.RecordReportSent(report.MessageType)
//	monitoring.ObserveReadinessWait(elapsed)
package monitoring
