package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the report worker consuming batch completions.
type WorkerMetrics struct {
	registry *prometheus.Registry

	reportTotal    *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	reportInFlight prometheus.Gauge
	queueLag       *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	reportTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ia",
			Subsystem: "worker",
			Name:      "report_total",
			Help:      "Total generated batch reports by status.",
		},
		[]string{"service", "status"},
	)
	reportDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "worker",
			Name:      "report_duration_seconds",
			Help:      "Report generation duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	reportInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ia",
			Subsystem: "worker",
			Name:      "report_in_flight",
			Help:      "Number of in-flight report generations.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ia",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between batch completion and report generation start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(reportTotal, reportDuration, reportInFlight, queueLag)

	return &WorkerMetrics{
		registry:       registry,
		reportTotal:    reportTotal,
		reportDuration: reportDuration,
		reportInFlight: reportInFlight,
		queueLag:       queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartReport() {
	m.reportInFlight.Inc()
}

func (m *WorkerMetrics) FinishReport(service string, duration time.Duration, err error) {
	m.reportInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.reportTotal.WithLabelValues(service, status).Inc()
	m.reportDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
