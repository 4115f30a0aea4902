package httphandler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "hookrelay"

// Webhook delivery outcomes recorded in hookrelay_webhook_deliveries_total.
const (
	outcomeAccepted         = "accepted"
	outcomeIgnored          = "ignored"
	outcomeDuplicate        = "duplicate"
	outcomeInvalidSignature = "invalid_signature"
	outcomeMalformed        = "malformed"
	outcomeRateLimited      = "rate_limited"
	outcomeProcessed        = "processed"
	outcomeFailed           = "failed"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec

	webhookDeliveries *prometheus.CounterVec
	webhookInFlight   prometheus.Gauge
	webhookDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_class"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Total number of HTTP requests with status >= 400.",
		}, []string{"method", "route", "status_code"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		webhookInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "in_flight",
			Help:      "Webhook deliveries currently being processed.",
		}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing an accepted webhook delivery.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requestTotal, m.requestDuration, m.requestErrors,
			m.webhookDeliveries, m.webhookInFlight, m.webhookDuration,
		)
	}
	return m
}

func (m *Metrics) delivery(event, outcome string) {
	if m == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	m.webhookDeliveries.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) processingStarted() {
	if m != nil {
		m.webhookInFlight.Inc()
	}
}

func (m *Metrics) processingFinished(event string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.webhookInFlight.Dec()
	m.webhookDuration.WithLabelValues(event).Observe(elapsed.Seconds())
}

// MetricsHandler serves the collectors of gatherer in the Prometheus
// exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func requestMetricsMiddleware(metrics *Metrics, next http.Handler) http.Handler {
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Avoid recursive scrape accounting.
		if r.URL != nil && r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := requestRouteLabel(r)
		statusClass := httpStatusClass(sw.status)

		metrics.requestTotal.WithLabelValues(r.Method, route, statusClass).Inc()
		metrics.requestDuration.WithLabelValues(r.Method, route, statusClass).Observe(time.Since(start).Seconds())
		if sw.status >= http.StatusBadRequest {
			metrics.requestErrors.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		}
	})
}

// requestRouteLabel keeps label cardinality bounded by using the matched mux
// pattern instead of the raw path.
func requestRouteLabel(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "unknown"
	}
	if _, route, ok := strings.Cut(r.Pattern, " "); ok {
		return strings.TrimSpace(route)
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return "other"
}

func httpStatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
