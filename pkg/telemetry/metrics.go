package telemetry

import (
	"net/http"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for terminus calls and catalog applies.
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	terminusRequests *prometheus.CounterVec
	terminusDuration *prometheus.HistogramVec

	applyRuns     *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec

	resourceEvents   *prometheus.CounterVec
	resourceDuration *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec

	catalogResources prometheus.Gauge
	lastApply        prometheus.Gauge

	registry *prometheus.Registry
}

var (
	_ indirector.Observer  = (*Metrics)(nil)
	_ engine.ApplyObserver = (*Metrics)(nil)
)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		terminusRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminus_requests_total",
				Help:      "Total number of terminus operations",
			},
			[]string{"subject", "terminus", "operation", "outcome"},
		),
		terminusDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "terminus_request_duration_seconds",
				Help:      "Duration of terminus operations in seconds",
				Buckets:   buckets,
			},
			[]string{"subject", "terminus", "operation"},
		),

		applyRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_runs_total",
				Help:      "Total number of catalog applies by report status",
			},
			[]string{"status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of catalog applies in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		resourceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_events_total",
				Help:      "Total number of resource events by type and status",
			},
			[]string{"type", "status"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_duration_seconds",
				Help:      "Time spent checking and applying a resource in seconds",
				Buckets:   buckets,
			},
			[]string{"type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of engine errors by error class",
			},
			[]string{"class"},
		),

		catalogResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_resources",
				Help:      "Number of resources in the last applied catalog",
			},
		),
		lastApply: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_apply_timestamp_seconds",
				Help:      "Unix time of the last finished apply",
			},
		),
	}

	registry.MustRegister(
		m.terminusRequests,
		m.terminusDuration,
		m.applyRuns,
		m.applyDuration,
		m.resourceEvents,
		m.resourceDuration,
		m.errorsByClass,
		m.catalogResources,
		m.lastApply,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// ObserveTerminus records one terminus call.
func (m *Metrics) ObserveTerminus(subject indirector.Subject, terminus, operation, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.terminusRequests.WithLabelValues(string(subject), terminus, operation, outcome).Inc()
	m.terminusDuration.WithLabelValues(string(subject), terminus, operation).Observe(duration.Seconds())
}

// ObserveEvent records the outcome of one resource.
func (m *Metrics) ObserveEvent(resourceType string, status engine.EventStatus, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.resourceEvents.WithLabelValues(resourceType, string(status)).Inc()
	m.resourceDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// ObserveReport records the outcome of one apply.
func (m *Metrics) ObserveReport(status engine.ReportStatus, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.applyRuns.WithLabelValues(string(status)).Inc()
	m.applyDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	m.lastApply.SetToCurrentTime()
}

// SetCatalogResources records the size of the catalog about to be applied.
func (m *Metrics) SetCatalogResources(count int) {
	if !m.enabled() {
		return
	}
	m.catalogResources.Set(float64(count))
}

// RecordError counts err by its engine error class. Nil errors are ignored.
func (m *Metrics) RecordError(err error) {
	if !m.enabled() || err == nil {
		return
	}
	class := engine.ClassOf(err)
	if class == "" {
		class = "unclassified"
	}
	m.errorsByClass.WithLabelValues(string(class)).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
