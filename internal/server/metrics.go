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

// labelHandler partitions HTTP metrics by the logical endpoint name rather
// than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// tokensTotal counts tokens consumed, partitioned by kind:
	// "prompt", "completion", or "embedding".
	tokensTotal *prometheus.CounterVec

	// costUSD accumulates dollar cost, partitioned by operation:
	// "chat", "chat_raw", "summary", or "embedding".
	costUSD *prometheus.CounterVec

	// documentsIngested counts documents successfully indexed.
	documentsIngested prometheus.Counter

	// chunksIngested counts chunks successfully indexed.
	chunksIngested prometheus.Counter
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by model and embedding calls, partitioned by kind.",
		}, []string{"kind"}),

		costUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Accumulated dollar cost of model and embedding calls, partitioned by operation.",
		}, []string{"operation"}),

		documentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents successfully indexed.",
		}),

		chunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks successfully indexed.",
		}),
	}
}

// RegisterCacheStats exposes embedding cache hit/miss counters on reg as
// gauge functions reading stats. Called by the serve command once the
// pipeline exists.
func RegisterCacheStats(reg prometheus.Registerer, hits, misses func() uint64) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docqa",
		Subsystem: "embedding_cache",
		Name:      "hits",
		Help:      "Embedding cache hits since startup.",
	}, func() float64 { return float64(hits()) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "docqa",
		Subsystem: "embedding_cache",
		Name:      "misses",
		Help:      "Embedding cache misses since startup.",
	}, func() float64 { return float64(misses()) }))
}

// instrument wraps h so its outcome feeds the HTTP request metrics under the
// given handler name.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
