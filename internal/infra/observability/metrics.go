package observability

import (
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Notification outcomes recorded by IncrNotification.
const (
	OutcomeSent        = "sent"
	OutcomeSkipped     = "skipped"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	eventsReceived  *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splitly_operation_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitly_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitly_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitly_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitly_notifications_total",
				Help: "Notification attempts by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		eventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "splitly_document_events_total",
				Help: "Document change events received by source.",
			},
			[]string{"source", "kind"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrNotification records one notification attempt.
func (m *Metrics) IncrNotification(trigger, outcome string) {
	m.notifications.WithLabelValues(trigger, outcome).Inc()
}

// IncrEvent records one received document event.
func (m *Metrics) IncrEvent(source string, kind domain.EventKind) {
	m.eventsReceived.WithLabelValues(source, string(kind)).Inc()
}

// GetNotificationSnapshot sums notification counters across triggers for the
// GET /v1/metrics/notifications endpoint.
func (m *Metrics) GetNotificationSnapshot() *domain.NotificationMetrics {
	byOutcome := map[string]float64{}

	ch := make(chan prometheus.Metric, 64)
	go func() {
		m.notifications.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		pb := &dto.Metric{}
		if err := metric.Write(pb); err != nil || pb.Counter == nil {
			continue
		}
		for _, lp := range pb.Label {
			if lp.GetName() == "outcome" {
				byOutcome[lp.GetValue()] += pb.Counter.GetValue()
			}
		}
	}

	sent := byOutcome[OutcomeSent]
	failed := byOutcome[OutcomeFailed]
	failureRate := float64(0)
	if sent+failed > 0 {
		failureRate = failed / (sent + failed)
	}

	return &domain.NotificationMetrics{
		Sent:        int64(sent),
		Skipped:     int64(byOutcome[OutcomeSkipped]),
		Unavailable: int64(byOutcome[OutcomeUnavailable]),
		Failed:      int64(failed),
		FailureRate: failureRate,
		Period:      "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// CacheHitRate returns hits / (hits + misses) for the named cache.
func (m *Metrics) CacheHitRate(cache string) float64 {
	hits := getCounterValue(m.cacheHits, cache)
	misses := getCounterValue(m.cacheMisses, cache)
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}
