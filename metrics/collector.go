// Package metrics exposes a Prometheus collector for the tunnel
// endpoint. It is purely observational: no component's correctness
// depends on it, and it introduces no locking or suspension points of
// its own beyond what the prometheus client types already use.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector aggregates the counters and gauges scraped from this
// process. The zero value is not usable; construct with New.
type Collector struct {
	SegmentsReceived    prometheus.Counter
	SegmentsDropped     prometheus.Counter
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	BytesDelivered      prometheus.Counter
	BytesSent           prometheus.Counter
}

// New builds a Collector with its metrics registered under the
// "tcptun" namespace.
func New() *Collector {
	return &Collector{
		SegmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcptun",
			Name:      "segments_received_total",
			Help:      "TCP segments successfully routed to a connection or accepted as a new one.",
		}),
		SegmentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcptun",
			Name:      "segments_dropped_total",
			Help:      "Ingress segments dropped: malformed, unacceptable, or addressed to no bound port.",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcptun",
			Name:      "connections_accepted_total",
			Help:      "Connections created in SynReceived by a SYN to a bound port and queued for Accept.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcptun",
			Name:      "connections_active",
			Help:      "Connections currently present in the coordinator's connection table.",
		}),
		BytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcptun",
			Name:      "bytes_delivered_total",
			Help:      "Payload bytes delivered to the application via Stream.Read.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcptun",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes accepted from the application via Stream.Write.",
		}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SegmentsReceived,
		c.SegmentsDropped,
		c.ConnectionsAccepted,
		c.ConnectionsActive,
		c.BytesDelivered,
		c.BytesSent,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(descs)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(metrics)
	}
}
