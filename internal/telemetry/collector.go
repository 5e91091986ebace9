package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// Metric naming.
const (
	namespace = "relay"
	subsystem = "pairing"
)

// StatsSource returns current connection counts.
// Satisfied by (*pairing.Registry).Stats.
type StatsSource func() pairing.Stats

// Collector records pairing events as Prometheus metrics.
// It implements pairing.Observer.
type Collector struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	unpairs        *prometheus.CounterVec
	relayedBytes   prometheus.Counter
	deliveries     *prometheus.CounterVec
	available      prometheus.Gauge
}

// NewCollector creates a Collector with its own registry. Connection and
// pair gauges are read from stats at scrape time; they are omitted when
// stats is nil.
func NewCollector(stats StatsSource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Pairing lifecycle events by kind.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pair_rejections_total",
			Help:      "Rejected pair requests by reason.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "protocol_errors_total",
			Help:      "Protocol errors reported to clients by reason.",
		}, []string{"reason"}),
		unpairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unpairs_total",
			Help:      "Dissolved pairings by reason.",
		}, []string{"reason"}),
		relayedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relayed_bytes_total",
			Help:      "Payload bytes forwarded between partners.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "availability_deliveries_total",
			Help:      "Availability messages sent to subscribers by result.",
		}, []string{"result"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "available_connections",
			Help:      "Connections listed in the last availability publish.",
		}),
	}

	c.registry.MustRegister(
		c.events,
		c.rejections,
		c.protocolErrors,
		c.unpairs,
		c.relayedBytes,
		c.deliveries,
		c.available,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		c.registerStats(stats)
	}

	return c
}

func (c *Collector) registerStats(stats StatsSource) {
	gauge := func(name, help string, read func(pairing.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(read(stats()))
		})
	}

	c.registry.MustRegister(
		gauge("controllers", "Live controller connections.", func(s pairing.Stats) int { return s.Controllers }),
		gauge("devices", "Live device connections.", func(s pairing.Stats) int { return s.Devices }),
		gauge("pairs", "Active controller/device pairs.", func(s pairing.Stats) int { return s.Pairs }),
	)
}

// Observe implements pairing.Observer.
func (c *Collector) Observe(ev pairing.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case pairing.EventPairRejected:
		c.rejections.WithLabelValues(ev.Reason).Inc()
	case pairing.EventProtocolError:
		c.protocolErrors.WithLabelValues(ev.Reason).Inc()
	case pairing.EventUnpaired:
		c.unpairs.WithLabelValues(ev.Reason).Inc()
	case pairing.EventRelayed:
		c.relayedBytes.Add(float64(ev.Bytes))
	case pairing.EventAvailability:
		c.available.Set(float64(ev.Available))
		c.deliveries.WithLabelValues("delivered").Add(float64(ev.Delivered))
		c.deliveries.WithLabelValues("failed").Add(float64(ev.Failed))
	}
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
