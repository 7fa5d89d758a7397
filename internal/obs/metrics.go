package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ledgerCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_commits_total",
			Help: "Committed ledger transactions by operation.",
		},
		[]string{"operation"},
	)

	ledgerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_failures_total",
			Help: "Failed ledger operations by operation.",
		},
		[]string{"operation"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		ledgerCommitsTotal,
		ledgerFailuresTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCommit records a committed ledger transaction for the named operation.
func ObserveCommit(operation string) {
	ledgerCommitsTotal.WithLabelValues(operation).Inc()
}

// ObserveFailure records a failed ledger operation.
func ObserveFailure(operation string) {
	ledgerFailuresTotal.WithLabelValues(operation).Inc()
}

// Instrument wraps an HTTP handler with request rate and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
