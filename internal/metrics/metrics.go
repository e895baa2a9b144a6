// Package metrics exposes the relay's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	BroadcastsTotal   prometheus.Counter
	SendFailuresTotal prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Open WebSocket connections.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_broadcasts_total",
			Help: "Envelopes fanned out by the broadcast router.",
		}),
		SendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Per-connection delivery failures, swallowed by design.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGaugeFunc attaches a callback-backed gauge, used for room and
// presence occupancy counts owned by the registries.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}
