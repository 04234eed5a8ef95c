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

// HTTPServerMetrics carries the api-side registry: generic HTTP counters
// plus the prediction pipeline's own instruments.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	predictionsTotal        *prometheus.CounterVec
	predictionConfidence    *prometheus.HistogramVec
	classificationFailures  *prometheus.CounterVec
	imageCleanupFailures    *prometheus.CounterVec
	statsExportsTotal       *prometheus.CounterVec
	predictionsDeletedTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carvision",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carvision",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	predictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "prediction",
			Name:      "predictions_total",
			Help:      "Total persisted predictions by label.",
		},
		[]string{"service", "label"},
	)
	predictionConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carvision",
			Subsystem: "prediction",
			Name:      "confidence",
			Help:      "Distribution of prediction confidence values.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 0.99, 1},
		},
		[]string{"service"},
	)
	classificationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "prediction",
			Name:      "classification_failures_total",
			Help:      "Total rejected uploads (empty or undecodable images).",
		},
		[]string{"service"},
	)
	imageCleanupFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "prediction",
			Name:      "image_cleanup_failures_total",
			Help:      "Total failed image releases, by operation.",
		},
		[]string{"service", "operation"},
	)
	statsExportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "stats",
			Name:      "exports_total",
			Help:      "Total generated XLSX stats reports.",
		},
		[]string{"service"},
	)
	predictionsDeletedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carvision",
			Subsystem: "prediction",
			Name:      "deleted_total",
			Help:      "Total deleted prediction records.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		predictionsTotal,
		predictionConfidence,
		classificationFailures,
		imageCleanupFailures,
		statsExportsTotal,
		predictionsDeletedTotal,
	)

	return &HTTPServerMetrics{
		registry:                registry,
		requestTotal:            requestTotal,
		requestDuration:         requestDuration,
		requestInFlight:         requestInFlight,
		predictionsTotal:        predictionsTotal,
		predictionConfidence:    predictionConfidence,
		classificationFailures:  classificationFailures,
		imageCleanupFailures:    imageCleanupFailures,
		statsExportsTotal:       statsExportsTotal,
		predictionsDeletedTotal: predictionsDeletedTotal,
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
	case strings.HasPrefix(path, "/api/predictions/"):
		return "/api/predictions/{prediction_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordPrediction(service, label string, confidence float64) {
	if label == "" {
		label = "unknown"
	}
	m.predictionsTotal.WithLabelValues(service, label).Inc()
	m.predictionConfidence.WithLabelValues(service).Observe(confidence)
}

func (m *HTTPServerMetrics) RecordClassificationFailure(service string) {
	m.classificationFailures.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordImageCleanupFailure(service, operation string) {
	if operation == "" {
		operation = "unknown"
	}
	m.imageCleanupFailures.WithLabelValues(service, operation).Inc()
}

func (m *HTTPServerMetrics) RecordStatsExport(service string) {
	m.statsExportsTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordPredictionDeleted(service string) {
	m.predictionsDeletedTotal.WithLabelValues(service).Inc()
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
