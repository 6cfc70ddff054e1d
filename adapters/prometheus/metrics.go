// Package prometheus implements the event-sourcing metrics surface on top of
// the Prometheus client.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wildkoala/chronicle/core/es"
	"github.com/wildkoala/chronicle/core/metrics"
)

var defaultBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// Metrics is the Prometheus-backed es.Metrics.
type Metrics struct {
	appendDuration   *prometheus.HistogramVec
	loadDuration     *prometheus.HistogramVec
	eventsAppended   *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	snapshotsSaved   *prometheus.CounterVec
	projections      *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	streamsRecovered prometheus.Counter
}

// New creates and registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chronicle",
			Name:      "store_append_duration_seconds",
			Help:      "Latency of event store appends.",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chronicle",
			Name:      "executor_load_duration_seconds",
			Help:      "Latency of aggregate loads (snapshot restore plus tail replay).",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Name:      "events_appended_total",
			Help:      "Events durably appended to the log.",
		}, []string{"aggregate_type"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Name:      "concurrency_conflicts_total",
			Help:      "Appends rejected by the optimistic concurrency check.",
		}, []string{"aggregate_type"}),
		snapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Name:      "snapshots_saved_total",
			Help:      "Snapshots written by the executor.",
		}, []string{"aggregate_type"}),
		projections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chronicle",
			Name:      "projection_events_total",
			Help:      "Events applied to read models, by outcome.",
		}, []string{"event_type", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chronicle",
			Name:      "projection_queue_depth",
			Help:      "Events waiting in the async projection queue.",
		}),
		streamsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chronicle",
			Name:      "streams_recovered_total",
			Help:      "Orphaned streams failed by the recovery sweeper.",
		}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.loadDuration,
		m.eventsAppended,
		m.conflicts,
		m.snapshotsSaved,
		m.projections,
		m.queueDepth,
		m.streamsRecovered,
	)
	return m
}

// timer adapts prometheus.Timer, whose ObserveDuration returns the elapsed
// time, to the narrower metrics.Timer.
type timer struct{ t *prometheus.Timer }

func (t timer) ObserveDuration() { t.t.ObserveDuration() }

func (m *Metrics) StoreAppendDuration(aggType string) metrics.Timer {
	return timer{prometheus.NewTimer(m.appendDuration.WithLabelValues(aggType))}
}

func (m *Metrics) ExecutorLoadDuration(aggType string) metrics.Timer {
	return timer{prometheus.NewTimer(m.loadDuration.WithLabelValues(aggType))}
}

func (m *Metrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *Metrics) ConcurrencyConflict(aggType string) {
	m.conflicts.WithLabelValues(aggType).Inc()
}

func (m *Metrics) SnapshotSaved(aggType string) {
	m.snapshotsSaved.WithLabelValues(aggType).Inc()
}

func (m *Metrics) ProjectionApplied(eventType string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.projections.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ProjectionQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) StreamsRecovered(count int) {
	m.streamsRecovered.Add(float64(count))
}

var _ es.Metrics = (*Metrics)(nil)
