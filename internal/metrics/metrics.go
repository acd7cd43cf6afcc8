package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution pipeline metrics
	ResolveTierTotal        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// Intake metrics
	IntakeTotal *prometheus.CounterVec

	// Moderation metrics
	ModerationTotal *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "witvis_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "witvis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		// outcome is one of hit, empty, error, skipped
		ResolveTierTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "witvis_resolve_tier_total",
			Help: "Resolution tier attempts by outcome",
		}, []string{"tier", "outcome"}),

		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "witvis_provider_request_duration_seconds",
			Help:    "Upstream image provider request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "status"}),

		IntakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "witvis_intake_total",
			Help: "Submission intake attempts by outcome",
		}, []string{"outcome"}),

		ModerationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "witvis_moderation_total",
			Help: "Moderation actions by outcome",
		}, []string{"action", "outcome"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "witvis_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		EventPublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "witvis_event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"}),
	}

	registerMetrics(m)
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.ResolveTierTotal)
	registerOrGet(m.ProviderRequestDuration)
	registerOrGet(m.IntakeTotal)
	registerOrGet(m.ModerationTotal)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.EventPublishDuration)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
