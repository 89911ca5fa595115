package chatd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "atelierd"

// metrics holds the daemon collectors. Each daemon owns its registry so
// tests can run several daemons in one process.
type metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	events        *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	dropped       prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Client emissions handled, by event and result.",
		}, []string{"event", "result"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pushes_total",
			Help:      "Push frames queued to connections, by event.",
		}, []string{"event"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling a client emission.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slow_connections_dropped_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.events,
		m.pushes,
		m.eventDuration,
		m.dropped,
	)
	return m
}
