package scache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the session cache client.
type Metrics struct {
	operations *prometheus.CounterVec
	registry   *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scache_operations_total",
				Help: "Session cache client operations by op and outcome",
			},
			[]string{"op", "outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(m.operations)
	return m
}

// Handler returns an HTTP handler exposing the cache client metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// recordOp is nil-safe so a client without metrics wiring stays cheap.
func (m *Metrics) recordOp(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}
