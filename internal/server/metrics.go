// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared across counters.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// ingestBatchesTotal counts completed /api/ingest requests by outcome.
	ingestBatchesTotal *prometheus.CounterVec

	// ingestRowsTotal counts ingested rows partitioned by disposition:
	// "inserted", "skipped_empty", or "skipped_duplicate".
	ingestRowsTotal *prometheus.CounterVec

	// searchRequestsTotal counts /api/search requests by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records end-to-end search latency.
	searchDurationSeconds prometheus.Histogram

	// retrainTriggersTotal counts retrain jobs scheduled through the API.
	retrainTriggersTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		ingestBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaserve",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of /api/ingest batches completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestRowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaserve",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Total ingested rows, partitioned by disposition.",
		}, []string{"disposition"}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaserve",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of /api/search requests, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qaserve",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of successful searches, embedding included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		retrainTriggersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qaserve",
			Subsystem: "retrain",
			Name:      "triggers_total",
			Help:      "Total number of retrain jobs scheduled through the API.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaserve",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, path, and status code.",
		}, []string{"method", "path", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qaserve",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// middleware records the request counter and latency histogram for every
// request passing through the mux.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
