package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}
	if m.PluginsByStatus == nil {
		t.Error("PluginsByStatus is nil")
	}
	if m.RegistrationsTotal == nil {
		t.Error("RegistrationsTotal is nil")
	}
	if m.ActivationsTotal == nil {
		t.Error("ActivationsTotal is nil")
	}
	if m.CallbackFailuresTotal == nil {
		t.Error("CallbackFailuresTotal is nil")
	}
	if m.ErrorLogWriteFailures == nil {
		t.Error("ErrorLogWriteFailures is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.RegistrationsTotal.WithLabelValues("success").Inc()
	m.ActivationsTotal.WithLabelValues("demo", "error").Inc()
	m.CallbackFailuresTotal.WithLabelValues("demo", "panic").Inc()
	m.ErrorLogWriteFailures.Inc()
	m.SetPluginCounts(map[string]int{"active": 1})

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"hookhost_plugins",
		"hookhost_plugin_registrations_total",
		"hookhost_plugin_activations_total",
		"hookhost_callback_failures_total",
		"hookhost_error_log_write_failures_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}

func TestSetPluginCounts(t *testing.T) {
	m := NewMetrics()

	m.SetPluginCounts(map[string]int{"active": 2, "inactive": 1})
	if got := testutil.ToFloat64(m.PluginsByStatus.WithLabelValues("active")); got != 2 {
		t.Errorf("expected 2 active plugins, got %v", got)
	}

	// Statuses missing from a later snapshot are dropped
	m.SetPluginCounts(map[string]int{"inactive": 3})
	if got := testutil.CollectAndCount(m.PluginsByStatus); got != 1 {
		t.Errorf("expected 1 series, got %d", got)
	}
	if got := testutil.ToFloat64(m.PluginsByStatus.WithLabelValues("inactive")); got != 3 {
		t.Errorf("expected 3 inactive plugins, got %v", got)
	}
}

func TestMetricsIsolation(t *testing.T) {
	first := NewMetrics()
	second := NewMetrics()

	first.ErrorLogWriteFailures.Inc()

	if got := testutil.ToFloat64(second.ErrorLogWriteFailures); got != 0 {
		t.Errorf("expected independent registries, got %v", got)
	}
}
