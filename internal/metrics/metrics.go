// Package metrics exposes Prometheus collectors for the control plane.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for stream clients.
const (
	DropQueueOverflow = "queue_overflow"
	DropWriteFailed   = "write_failed"
)

var (
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "events_published_total",
			Help:      "Total events published on the bus, partitioned by topic.",
		},
		[]string{"topic"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsdeck",
			Name:      "stream_clients",
			Help:      "Stream clients currently connected to the broadcast hub.",
		},
	)

	streamClientsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "stream_clients_dropped_total",
			Help:      "Stream clients dropped by the hub, partitioned by reason.",
		},
		[]string{"reason"},
	)

	eventLogFlushSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsdeck",
			Name:      "event_log_flush_seconds",
			Help:      "Latency of event-log batch flushes to PostgreSQL.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	eventLogPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "event_log_pruned_total",
			Help:      "Events pruned from the persisted log.",
		},
	)

	dependencyUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "opsdeck",
			Name:      "dependency_up",
			Help:      "Probed dependency health (1 healthy, 0.5 degraded, 0 unavailable).",
		},
		[]string{"dependency"},
	)
)

// Register attaches the control-plane collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsPublishedTotal,
		streamClients,
		streamClientsDroppedTotal,
		eventLogFlushSeconds,
		eventLogPrunedTotal,
		dependencyUp,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// EventPublished counts one published event for a topic.
func EventPublished(topic string) {
	eventsPublishedTotal.WithLabelValues(topic).Inc()
}

// SetStreamClients records the current connected-client count.
func SetStreamClients(n int) {
	streamClients.Set(float64(n))
}

// StreamClientDropped counts one dropped client.
func StreamClientDropped(reason string) {
	streamClientsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveFlush records one event-log flush duration.
func ObserveFlush(d time.Duration) {
	if d < 0 {
		d = 0
	}
	eventLogFlushSeconds.Observe(d.Seconds())
}

// EventsPruned counts pruned event-log rows.
func EventsPruned(n int64) {
	if n > 0 {
		eventLogPrunedTotal.Add(float64(n))
	}
}

// SetDependencyUp records a probed dependency's health as a gauge value.
func SetDependencyUp(name string, v float64) {
	dependencyUp.WithLabelValues(name).Set(v)
}
