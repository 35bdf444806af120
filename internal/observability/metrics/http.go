package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics carries the API server's Prometheus registry: generic
// HTTP request metrics plus the ingestion and chat counters.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	batchesTotal       *prometheus.CounterVec
	invoicesTotal      *prometheus.CounterVec
	invoiceFailures    *prometheus.CounterVec
	cacheHitsTotal     *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	chatRequestsTotal  *prometheus.CounterVec
	chatRetrievedDocs  *prometheus.HistogramVec
	chatDuration       *prometheus.HistogramVec
	suggestionFallback *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ia",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total completed ingestion batches by outcome.",
		},
		[]string{"service", "outcome"},
	)
	invoicesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "ingestion",
			Name:      "invoices_total",
			Help:      "Total analyzed invoices by reimbursement status.",
		},
		[]string{"service", "status"},
	)
	invoiceFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "ingestion",
			Name:      "invoice_failures_total",
			Help:      "Total invoices that failed processing.",
		},
		[]string{"service"},
	)
	cacheHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "ingestion",
			Name:      "cache_hits_total",
			Help:      "Total invoices served from the dedup cache.",
		},
		[]string{"service"},
	)
	batchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Ingestion batch duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat requests by query type.",
		},
		[]string{"service", "endpoint", "query_type"},
	)
	chatRetrievedDocs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "chat",
			Name:      "retrieved_documents",
			Help:      "Distribution of retrieved documents per chat request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		},
		[]string{"service", "endpoint"},
	)
	chatDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	suggestionFallback := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "chat",
			Name:      "suggestion_fallback_total",
			Help:      "Total chat requests that served static fallback suggestions.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		batchesTotal,
		invoicesTotal,
		invoiceFailures,
		cacheHitsTotal,
		batchDuration,
		chatRequestsTotal,
		chatRetrievedDocs,
		chatDuration,
		suggestionFallback,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		batchesTotal:       batchesTotal,
		invoicesTotal:      invoicesTotal,
		invoiceFailures:    invoiceFailures,
		cacheHitsTotal:     cacheHitsTotal,
		batchDuration:      batchDuration,
		chatRequestsTotal:  chatRequestsTotal,
		chatRetrievedDocs:  chatRetrievedDocs,
		chatDuration:       chatDuration,
		suggestionFallback: suggestionFallback,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/chat/history/"):
		return "/v1/chat/history/{session_id}"
	default:
		return path
	}
}

// RecordBatch records one completed ingestion batch and its per-invoice
// outcomes.
func (m *HTTPServerMetrics) RecordBatch(service string, processed, failed, cacheHits int, statuses map[string]int, duration time.Duration) {
	outcome := "success"
	if failed > 0 {
		outcome = "partial_failure"
	}
	if processed == 0 && failed > 0 {
		outcome = "failure"
	}
	m.batchesTotal.WithLabelValues(service, outcome).Inc()
	m.batchDuration.WithLabelValues(service).Observe(duration.Seconds())

	for status, count := range statuses {
		m.invoicesTotal.WithLabelValues(service, status).Add(float64(count))
	}
	if failed > 0 {
		m.invoiceFailures.WithLabelValues(service).Add(float64(failed))
	}
	if cacheHits > 0 {
		m.cacheHitsTotal.WithLabelValues(service).Add(float64(cacheHits))
	}
}

func (m *HTTPServerMetrics) RecordChat(service, endpoint, queryType string, retrievedDocs int, duration time.Duration) {
	if queryType == "" {
		queryType = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, endpoint, queryType).Inc()
	m.chatRetrievedDocs.WithLabelValues(service, endpoint).Observe(float64(retrievedDocs))
	m.chatDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordSuggestionFallback(service string) {
	m.suggestionFallback.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
