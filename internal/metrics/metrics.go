// Package metrics holds the Prometheus collectors of the gateway. A nil
// *Metrics is valid and records nothing, so components can be built without
// a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roadstate"

type Metrics struct {
	recordsIngested    *prometheus.CounterVec
	ingestFailures     *prometheus.CounterVec
	ingestDuration     prometheus.Histogram
	subscribers        prometheus.Gauge
	deliveries         prometheus.Counter
	droppedSubscribers prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg yields
// a nil *Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Records persisted by the ingestion pipeline",
		}, []string{"road_state"}),

		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Rejected or failed ingest batches",
		}, []string{"reason"}),

		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time to classify, persist and publish one batch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently registered subscriber connections",
		}),

		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Payloads queued to subscriber connections",
		}),

		droppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers removed because delivery to them failed",
		}),
	}

	reg.MustRegister(
		m.recordsIngested,
		m.ingestFailures,
		m.ingestDuration,
		m.subscribers,
		m.deliveries,
		m.droppedSubscribers,
	)
	return m
}

func (m *Metrics) RecordIngested(roadState string) {
	if m == nil {
		return
	}
	m.recordsIngested.WithLabelValues(roadState).Inc()
}

func (m *Metrics) IngestFailed(reason string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveIngest(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.deliveries.Add(float64(n))
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.droppedSubscribers.Inc()
}
