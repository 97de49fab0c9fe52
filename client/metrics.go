package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters a Client exposes to a Prometheus registry.
// Grounded on the pack's prometheus/client_golang usage: a handful of
// narrowly-scoped counters/gauges registered once at construction, not a
// generic metrics facade.
type Metrics struct {
	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	migrations     prometheus.Counter
	activeConns    prometheus.Gauge
}

// NewMetrics creates and registers a Metrics set. Passing a nil registry
// is fine for tests; the counters still work, they're just unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtproto",
			Name:      "frames_sent_total",
			Help:      "Encrypted wire frames written to a datacenter connection.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtproto",
			Name:      "frames_received_total",
			Help:      "Encrypted wire frames read from a datacenter connection.",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mtproto",
			Name:      "dc_migrations_total",
			Help:      "Times the client followed a migrate_to RPC error to a new datacenter.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mtproto",
			Name:      "active_connections",
			Help:      "Whether the client currently has a live datacenter connection (0 or 1).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesSent, m.framesReceived, m.migrations, m.activeConns)
	}
	return m
}
