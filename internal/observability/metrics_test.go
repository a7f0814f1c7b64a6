package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.GuardOutcome("inventory", "deny")
	metrics.PermissionLookupFailed()

	body := scrape(t, metrics)
	if !strings.Contains(body, `portal_guard_outcomes_total{outcome="deny",route="inventory"} 1`) {
		t.Fatalf("expected guard outcome to be recorded, got: %s", body)
	}
	if !strings.Contains(body, "portal_permission_lookup_failures_total 1") {
		t.Fatalf("expected lookup failure to be recorded, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.GuardOutcome("x", "allow")
	m.PermissionLookupFailed()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}

func TestRegistererExposesExtraCollectors(t *testing.T) {
	metrics := NewMetrics()
	restores := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_session_restores_total",
		Help: "Session restores.",
	})
	metrics.Registerer().MustRegister(restores)
	restores.Inc()

	if body := scrape(t, metrics); !strings.Contains(body, "portal_session_restores_total 1") {
		t.Fatalf("expected extra collector on the portal registry, got: %s", body)
	}
}
