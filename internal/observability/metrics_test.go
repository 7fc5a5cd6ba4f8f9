package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.MovementsPosted("IN", 2)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, `odyssey_stock_movements_total{type="IN"} 2`)
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("/test", "418")))

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(metricsRR.Body.String(), `odyssey_http_request_duration_seconds_bucket{route="/test"`))
}

func TestLedgerCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.MovementsPosted("AUDIT", 3)
	metrics.MovementsPosted("AUDIT", 0)
	metrics.InsufficientStock("SALE")
	metrics.InsufficientStock("SALE")
	metrics.AuditShortfall()

	require.Equal(t, 3.0, testutil.ToFloat64(metrics.movementsPosted.WithLabelValues("AUDIT")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.insufficientStock.WithLabelValues("SALE")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.auditShortfalls))

	var disabled *Metrics
	disabled.MovementsPosted("IN", 1)
	disabled.AuditShortfall()
	require.Equal(t, http.StatusServiceUnavailable, func() int {
		rr := httptest.NewRecorder()
		disabled.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rr.Code
	}())
}
