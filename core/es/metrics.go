package es

import "github.com/wildkoala/chronicle/core/metrics"

// Metrics is the instrumentation surface of the event-sourcing core.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// Write path
	StoreAppendDuration(aggType string) metrics.Timer
	ExecutorLoadDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)
	SnapshotSaved(aggType string)

	// Read-model path
	ProjectionApplied(eventType string, success bool)
	ProjectionQueueDepth(depth int)

	// Sweeper
	StreamsRecovered(count int)
}

type nopMetrics struct{}

func (nopMetrics) StoreAppendDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopMetrics) ExecutorLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)                {}
func (nopMetrics) ConcurrencyConflict(string)                {}
func (nopMetrics) SnapshotSaved(string)                      {}
func (nopMetrics) ProjectionApplied(string, bool)            {}
func (nopMetrics) ProjectionQueueDepth(int)                  {}
func (nopMetrics) StreamsRecovered(int)                      {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
