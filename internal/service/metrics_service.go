package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	webhookDuration prometheus.Observer
	lockWait        prometheus.Observer
	archivals       *prometheus.CounterVec
	sideEffects     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment processor webhook events by type and outcome",
	}, []string{"type", "outcome"})

	webhookDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "Time spent reconciling one webhook event",
		Buckets: prometheus.DefBuckets,
	})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "customer_lock_wait_seconds",
		Help:    "Time spent waiting for the per-customer reconciliation lock",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	archivals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "client_archivals_total",
		Help: "Archival pipeline runs by outcome",
	}, []string{"outcome"})

	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "side_effects_total",
		Help: "Best-effort notifications and events by kind and outcome",
	}, []string{"kind", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, webhookEvents, webhookDuration, lockWait, archivals, sideEffects, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		webhookEvents:   webhookEvents,
		webhookDuration: webhookDuration,
		lockWait:        lockWait,
		archivals:       archivals,
		sideEffects:     sideEffects,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordWebhook counts a reconciled event outcome.
func (m *MetricsService) RecordWebhook(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
	m.webhookDuration.Observe(duration.Seconds())
}

// ObserveLockWait records time spent waiting for a key lock.
func (m *MetricsService) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

// RecordArchival counts an archival run outcome.
func (m *MetricsService) RecordArchival(outcome string) {
	if m == nil {
		return
	}
	m.archivals.WithLabelValues(outcome).Inc()
}

// RecordSideEffect counts a best-effort job outcome.
func (m *MetricsService) RecordSideEffect(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sideEffects.WithLabelValues(kind, outcome).Inc()
}
