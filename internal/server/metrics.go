package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/bpqa-go/internal/pipeline"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	outcomeOK    = "ok"
	outcomeError = "error"

	// unmatchedHandler labels requests no route matched.
	unmatchedHandler = "unmatched"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queryRequestsTotal counts answered /api/query requests, partitioned by
	// answering mode and outcome ("ok" or the failure class).
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records the time spent answering each query.
	queryDurationSeconds *prometheus.HistogramVec

	// parseFallbacksTotal counts model outputs that were not the expected
	// JSON and were returned as raw text.
	parseFallbacksTotal prometheus.Counter

	// imagesReturned records how many images each answer referenced.
	imagesReturned prometheus.Histogram

	// indexRebuildsTotal counts /api/index/rebuild calls by outcome.
	indexRebuildsTotal *prometheus.CounterVec

	// quotaRejectionsTotal counts requests refused by the generation quota,
	// by endpoint.
	quotaRejectionsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpqa",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/query requests answered, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bpqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Time spent answering /api/query requests.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),

		parseFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bpqa",
			Subsystem: "query",
			Name:      "parse_fallbacks_total",
			Help:      "Model outputs that were not valid answer JSON and were returned as raw text.",
		}),

		imagesReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bpqa",
			Subsystem: "query",
			Name:      "images_returned",
			Help:      "Number of images referenced per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),

		indexRebuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpqa",
			Subsystem: "index",
			Name:      "rebuilds_total",
			Help:      "Total number of forced index rebuilds, partitioned by outcome.",
		}, []string{"outcome"}),

		quotaRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpqa",
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Requests refused because the client exhausted its generation quota.",
		}, []string{"endpoint"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bpqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bpqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeQuery records one answered query.
func (m *serverMetrics) observeQuery(out pipeline.Outcome, images int, elapsed time.Duration) {
	outcome := outcomeOK
	if out.Failure != pipeline.FailureNone {
		outcome = out.Failure
	}
	mode := string(out.Mode)
	m.queryRequestsTotal.WithLabelValues(mode, outcome).Inc()
	m.queryDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.imagesReturned.Observe(float64(images))
	if out.ParseFallback {
		m.parseFallbacksTotal.Inc()
	}
}

// instrument records request count and latency for every request, labelled
// with the matched route pattern. The mux sets r.Pattern while routing.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		handler := r.Pattern
		if handler == "" {
			handler = unmatchedHandler
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rec.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
