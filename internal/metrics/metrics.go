package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relaymesh"

// Metrics holds the session collectors. Carried-message expiry is reported
// here only; the sender is never told.
type Metrics struct {
	Scans        prometheus.Counter
	RelayTicks   prometheus.Counter
	TickFailures *prometheus.CounterVec
	Deliveries   *prometheus.CounterVec
	Handoffs     prometheus.Counter
	Expired      prometheus.Counter
	Carried      prometheus.Gauge
	InRange      prometheus.Gauge
}

// New registers the collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_scans_total",
			Help:      "Discovery passes completed",
		}),
		RelayTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_ticks_total",
			Help:      "Relay passes completed",
		}),
		TickFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_failures_total",
			Help:      "Ticks skipped because storage failed",
		}, []string{"task"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages delivered, by route",
		}, []string{"route"}),
		Handoffs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Messages assigned to a carrier",
		}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carried_expired_total",
			Help:      "Carried messages dropped after expiry",
		}),
		Carried: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carried_messages",
			Help:      "Messages currently in the carried-set",
		}),
		InRange: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_in_range",
			Help:      "Peers in range after the last scan",
		}),
	}
}
