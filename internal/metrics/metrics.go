package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the core's Prometheus collectors. A single instance is
// wired through the hub and heartbeat monitor.
type Metrics struct {
	Connections      prometheus.Gauge
	Sessions         prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	ReapedTotal      prometheus.Counter
	DeliveryFailures prometheus.Counter
	ProtocolErrors   prometheus.Counter
}

// New registers the collectors with the given registerer and returns
// them. Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_connections",
			Help: "Number of currently registered connections.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_sessions",
			Help: "Number of sessions with at least one connection.",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_messages_total",
			Help: "Inbound frames processed, by frame type.",
		}, []string{"type"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_alerts_total",
			Help: "Emergency alerts raised, by level and trigger.",
		}, []string{"level", "trigger"}),
		ReapedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_heartbeat_reaped_total",
			Help: "Connections reaped after missing two heartbeat cycles.",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_delivery_failures_total",
			Help: "Frame deliveries that failed and triggered disconnect cleanup.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_protocol_errors_total",
			Help: "Malformed or unauthorized inbound frames.",
		}),
	}
}
