package telemetry

// ScanBuckets for discovery scan latencies (local reads plus session setup)
var ScanBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Discovery metrics
var (
	// ScansTotal counts discovery scans triggered by admin changes
	ScansTotal Counter = NoopStat{}

	// ScanErrorsTotal counts scans aborted by an error
	ScanErrorsTotal Counter = NoopStat{}

	// ScanDurationSeconds measures discovery scan latency
	ScanDurationSeconds Histogram = NoopStat{}

	// TrackedRealms tracks the number of realms with live sessions
	TrackedRealms Gauge = NoopStat{}

	// FilterRejectionsTotal counts realms the application filter declined
	FilterRejectionsTotal Counter = NoopStat{}
)

// Notification metrics
var (
	// NotificationsDeliveredTotal counts change notifications handed to the application
	NotificationsDeliveredTotal Counter = NoopStat{}

	// NotificationsPending tracks realms with an undelivered notification
	NotificationsPending Gauge = NoopStat{}
)

// Publisher metrics
var (
	// PublishTotal counts notifications forwarded, by sink
	PublishTotal CounterVec = noopCounterVec{}

	// PublishFailuresTotal counts failed forwarding attempts, by sink
	PublishFailuresTotal CounterVec = noopCounterVec{}
)

// InitMetrics replaces the noop metrics with registered Prometheus
// collectors. Call after InitializeTelemetry.
func InitMetrics() {
	ScansTotal = NewCounter("scans_total", "Discovery scans triggered by admin changes")
	ScanErrorsTotal = NewCounter("scan_errors_total", "Discovery scans aborted by an error")
	ScanDurationSeconds = NewHistogram("scan_duration_seconds", "Discovery scan latency", ScanBuckets)
	TrackedRealms = NewGauge("tracked_realms", "Realms with live sessions")
	FilterRejectionsTotal = NewCounter("filter_rejections_total", "Realms declined by the application filter")

	NotificationsDeliveredTotal = NewCounter("notifications_delivered_total", "Change notifications handed to the application")
	NotificationsPending = NewGauge("notifications_pending", "Realms with an undelivered notification")

	PublishTotal = NewCounterVec("publish_total", "Notifications forwarded to sinks", []string{"sink"})
	PublishFailuresTotal = NewCounterVec("publish_failures_total", "Failed forwarding attempts", []string{"sink"})
}
