// Package server exposes Prometheus collectors for the relay's operational
// signals: live channel and member counts, relayed frames, join rejections,
// and deliveries dropped on slow recipients.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the relay's Prometheus collectors. Each Server owns its own
// metrics registry so multiple instances (tests included) never collide on the
// default registerer.
type Metrics struct {
	channelsLive      prometheus.Gauge
	membersLive       prometheus.Gauge
	framesRelayed     prometheus.Counter
	joinRejections    prometheus.Counter
	droppedDeliveries prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers the relay collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		channelsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ephemr",
			Subsystem: "relay",
			Name:      "channels",
			Help:      "Number of live channels.",
		}),
		membersLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ephemr",
			Subsystem: "relay",
			Name:      "members",
			Help:      "Number of admitted members across all channels.",
		}),
		framesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemr",
			Subsystem: "relay",
			Name:      "frames_relayed_total",
			Help:      "Payload frames relayed to channel members.",
		}),
		joinRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemr",
			Subsystem: "relay",
			Name:      "join_rejections_total",
			Help:      "Join attempts rejected because the display name was taken.",
		}),
		droppedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ephemr",
			Subsystem: "relay",
			Name:      "dropped_deliveries_total",
			Help:      "Per-recipient deliveries dropped because the send buffer was full.",
		}),
	}
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
