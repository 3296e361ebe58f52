package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	hookDispatchTotal    *prometheus.CounterVec
	hookDispatchDuration *prometheus.HistogramVec

	callbackTotal    *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec

	permissionDenials *prometheus.CounterVec
	proxyOperations   *prometheus.CounterVec

	lifecycleTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			hookDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hook_dispatch_total",
					Help: "Total hook dispatches by hook name.",
				},
				[]string{"hook"},
			),
			hookDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "hook_dispatch_duration_seconds",
					Help:    "Hook dispatch duration in seconds by hook name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"hook"},
			),
			callbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hook_callback_total",
					Help: "Total callback invocations by hook and outcome (success, error, skipped).",
				},
				[]string{"hook", "status"},
			),
			callbackDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "hook_callback_duration_seconds",
					Help:    "Callback execution duration in seconds by hook.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"hook"},
			),
			permissionDenials: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plugin_permission_denials_total",
					Help: "Total capability denials by permission and resource.",
				},
				[]string{"permission", "resource"},
			),
			proxyOperations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plugin_proxy_operations_total",
					Help: "Total sandboxed resource operations reaching the backing store.",
				},
				[]string{"resource", "operation"},
			),
			lifecycleTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "plugin_lifecycle_total",
					Help: "Total plugin lifecycle transitions by action and status.",
				},
				[]string{"action", "status"},
			),
		}

		prometheus.MustRegister(
			m.hookDispatchTotal,
			m.hookDispatchDuration,
			m.callbackTotal,
			m.callbackDuration,
			m.permissionDenials,
			m.proxyOperations,
			m.lifecycleTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordHookDispatch(hook string, duration time.Duration) {
	m := getMetrics()
	m.hookDispatchTotal.WithLabelValues(hook).Inc()
	m.hookDispatchDuration.WithLabelValues(hook).Observe(duration.Seconds())
}

func RecordCallback(hook string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.callbackTotal.WithLabelValues(hook, status).Inc()
	m.callbackDuration.WithLabelValues(hook).Observe(duration.Seconds())
}

func RecordCallbackSkipped(hook string) {
	getMetrics().callbackTotal.WithLabelValues(hook, "skipped").Inc()
}

func RecordPermissionDenied(permission, resource string) {
	getMetrics().permissionDenials.WithLabelValues(permission, resource).Inc()
}

func RecordProxyOperation(resource, operation string) {
	getMetrics().proxyOperations.WithLabelValues(resource, operation).Inc()
}

func RecordLifecycle(action string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().lifecycleTotal.WithLabelValues(action, status).Inc()
}
