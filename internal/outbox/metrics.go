package outbox

import "time"

// MetricsCollector defines the interface for collecting pipeline metrics.
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordEventSkipped(eventType string)
	RecordStreamRestart()
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed.
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordEventSkipped(eventType string) {}
func (n *NoOpMetricsCollector) RecordStreamRestart()                {}
