// Package metrics provides Prometheus metrics for the inspection server and
// for pipeline runs.
//
// HTTP metrics are registered with the default registry during package
// initialization:
//   - otkg_http_request_total: Counter with method, path, and status labels
//   - otkg_http_request_duration_seconds: Histogram with method and path labels
//   - otkg_http_request_in_flight: Gauge for concurrent requests
//
// Run metrics live in a registry of their own, created per run, so a batch
// invocation can dump exactly what it did to a textfile.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otkg_http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otkg_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "otkg_http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otkg_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimitedTotal)
}
