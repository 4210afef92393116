// Package wmetrics exposes optional Prometheus instrumentation for the
// engine. client_golang is a direct teacher dependency and is also used
// independently by two other pack repos (runZeroInc-conniver,
// runZeroInc-sockstats) for socket-level instrumentation, the same
// domain this fills.
package wmetrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups the counters/gauges this engine reports. The zero
// value is nil-safe: every method on a nil *Collector is a no-op, so
// callers that don't want metrics can simply pass a nil *Collector
// around instead of branching everywhere.
type Collector struct {
	packetsSent        *prometheus.CounterVec
	packetsReceived    *prometheus.CounterVec
	packetsRetransmitted prometheus.Counter
	connectionsByStatus *prometheus.GaugeVec
}

// New registers and returns a Collector on reg. Pass prometheus.NewRegistry()
// or prometheus.DefaultRegisterer wrapped in a registry.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnet",
			Name:      "packets_sent_total",
			Help:      "Packets sent, labeled by kind (handshake, reliable, volatile, stream, close).",
		}, []string{"kind"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnet",
			Name:      "packets_received_total",
			Help:      "Packets received, labeled by outcome (delivered, duplicate, dropped).",
		}, []string{"outcome"}),
		packetsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnet",
			Name:      "packets_retransmitted_total",
			Help:      "Reliable packets retransmitted after RTO expiry.",
		}),
		connectionsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gnet",
			Name:      "connections",
			Help:      "Current connection count, labeled by status (open, lost, closed).",
		}, []string{"status"}),
	}
	reg.MustRegister(c.packetsSent, c.packetsReceived, c.packetsRetransmitted, c.connectionsByStatus)
	return c
}

func (c *Collector) PacketSent(kind string) {
	if c == nil {
		return
	}
	c.packetsSent.WithLabelValues(kind).Inc()
}

func (c *Collector) PacketReceived(outcome string) {
	if c == nil {
		return
	}
	c.packetsReceived.WithLabelValues(outcome).Inc()
}

func (c *Collector) PacketRetransmitted() {
	if c == nil {
		return
	}
	c.packetsRetransmitted.Inc()
}

func (c *Collector) SetConnectionsByStatus(status string, count float64) {
	if c == nil {
		return
	}
	c.connectionsByStatus.WithLabelValues(status).Set(count)
}
