// Package observability provides logging, metrics, and tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	// BrokerPublishTotal counts successful/failed publishes by topic.
	BrokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Total number of broker publish attempts",
		},
		[]string{"topic", "outcome"},
	)
	// BrokerConsumeTotal counts handled messages by topic and outcome.
	BrokerConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_consume_total",
			Help: "Total number of broker messages handled",
		},
		[]string{"topic", "outcome"},
	)

	// AggregationsInFlight gauges how many tasks the aggregator currently
	// holds open, waiting for their expected set to drain.
	AggregationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregation_tasks_in_flight",
			Help: "Number of tasks the aggregator currently holds open",
		},
	)
	// AggregationStaleSweepsTotal counts stale-task timeouts that forced a
	// partial final envelope.
	AggregationStaleSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregation_stale_sweeps_total",
			Help: "Total number of stale-task sweeps that emitted a partial envelope",
		},
	)

	// GatewayTimeoutsTotal counts uploads that timed out waiting on the
	// reply topic.
	GatewayTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_timeouts_total",
			Help: "Total number of uploads that timed out waiting for aggregation",
		},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BrokerPublishTotal,
		BrokerConsumeTotal,
		AggregationsInFlight,
		AggregationStaleSweepsTotal,
		GatewayTimeoutsTotal,
	)
}

// MetricsHandler exposes the default Prometheus registry for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// RecordPublish records the outcome of one broker publish call.
func RecordPublish(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	BrokerPublishTotal.WithLabelValues(topic, outcome).Inc()
}

// RecordConsume records the outcome of one broker message handled.
func RecordConsume(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	BrokerConsumeTotal.WithLabelValues(topic, outcome).Inc()
}
