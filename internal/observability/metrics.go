package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the service: HTTP traffic and ledger activity.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	movementsPosted   *prometheus.CounterVec
	insufficientStock *prometheus.CounterVec
	auditShortfalls   prometheus.Counter
}

// NewMetrics initialises the registry with runtime, HTTP and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movements_total",
		Help: "Committed stock movements by movement type.",
	}, []string{"type"})
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_insufficient_total",
		Help: "Consumptions rejected for insufficient stock by movement type.",
	}, []string{"type"})
	shortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_stock_audit_shortfalls_total",
		Help: "Audit deficits closed with less stock available than counted missing.",
	})
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requests, duration, movements, insufficient, shortfalls,
	)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		movementsPosted:   movements,
		insufficientStock: insufficient,
		auditShortfalls:   shortfalls,
	}
}

// MovementsPosted counts committed movements of one type.
func (m *Metrics) MovementsPosted(movementType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.movementsPosted.WithLabelValues(movementType).Add(float64(count))
}

// InsufficientStock counts a consumption rejected for lack of stock.
func (m *Metrics) InsufficientStock(movementType string) {
	if m == nil {
		return
	}
	m.insufficientStock.WithLabelValues(movementType).Inc()
}

// AuditShortfall counts an audit deficit that could not be consumed in full.
func (m *Metrics) AuditShortfall() {
	if m == nil {
		return
	}
	m.auditShortfalls.Inc()
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and duration of every HTTP request by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
