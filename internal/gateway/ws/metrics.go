package ws

import "github.com/prometheus/client_golang/prometheus"

// metrics are the four atomic stats counters of spec §3/§4.7 ("Pub/sub
// client state" and the WebSocket gateway's connection bookkeeping),
// expressed as Prometheus instruments per SPEC_FULL.md §4.7 "Metrics
// detail" rather than the bare atomic counters a single-process
// cooperative scheduler would otherwise use.
type metrics struct {
	connectionsTotal prometheus.Counter
	connectionsOpen  prometheus.Gauge
	pubsubOpen       prometheus.Gauge
	pubsubEvents     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bluecollar_ws_connections_total",
			Help: "Total WebSocket connections accepted by this gateway.",
		}),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluecollar_ws_connections_open",
			Help: "WebSocket connections currently open.",
		}),
		pubsubOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bluecollar_ws_pubsub_open",
			Help: "WebSocket clients currently holding a live pub/sub handle.",
		}),
		pubsubEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bluecollar_ws_pubsub_events_total",
			Help: "Pub/sub messages forwarded to WebSocket clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionsTotal, m.connectionsOpen, m.pubsubOpen, m.pubsubEvents)
	}
	return m
}
