package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of one host instance
type Metrics struct {
	registry *prometheus.Registry

	// Plugin inventory
	PluginsByStatus    *prometheus.GaugeVec
	RegistrationsTotal *prometheus.CounterVec
	ActivationsTotal   *prometheus.CounterVec

	// Contained callback failures
	CallbackFailuresTotal *prometheus.CounterVec
	ErrorLogWriteFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		PluginsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hookhost_plugins",
				Help: "Number of registered plugins by status",
			},
			[]string{"status"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookhost_plugin_registrations_total",
				Help: "Total number of plugin registrations",
			},
			[]string{"status"},
		),
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookhost_plugin_activations_total",
				Help: "Total number of plugin activations",
			},
			[]string{"plugin_id", "status"},
		),

		CallbackFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookhost_callback_failures_total",
				Help: "Total number of contained callback failures",
			},
			[]string{"plugin_id", "kind"},
		),
		ErrorLogWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hookhost_error_log_write_failures_total",
				Help: "Total number of failures that could not be written to the error log",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.PluginsByStatus)
	m.registry.MustRegister(m.RegistrationsTotal)
	m.registry.MustRegister(m.ActivationsTotal)

	m.registry.MustRegister(m.CallbackFailuresTotal)
	m.registry.MustRegister(m.ErrorLogWriteFailures)
}

// SetPluginCounts replaces the inventory gauge with counts
func (m *Metrics) SetPluginCounts(counts map[string]int) {
	m.PluginsByStatus.Reset()
	for status, n := range counts {
		m.PluginsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
