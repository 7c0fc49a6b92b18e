package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ContextMetrics tracks health of context document resolution.
type ContextMetrics struct {
	fetches  *prometheus.CounterVec
	failures *prometheus.CounterVec
	cache    *prometheus.CounterVec
	duration prometheus.Histogram
}

var (
	defaultContextMetrics     *ContextMetrics
	defaultContextMetricsOnce sync.Once
)

// NewContextMetrics builds a ContextMetrics recorder using the default registry.
func NewContextMetrics() *ContextMetrics {
	defaultContextMetricsOnce.Do(func() {
		defaultContextMetrics = newContextMetrics(prometheus.DefaultRegisterer)
	})
	return defaultContextMetrics
}

// NewContextMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewContextMetricsWithRegisterer(reg prometheus.Registerer) *ContextMetrics {
	return newContextMetrics(reg)
}

func newContextMetrics(reg prometheus.Registerer) *ContextMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ContextMetrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "personad",
			Subsystem: "context",
			Name:      "fetch_total",
			Help:      "Context fetches by outcome (ok, failed)",
		}, []string{"outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "personad",
			Subsystem: "context",
			Name:      "failure_total",
			Help:      "Context documents omitted from a composition, by reason",
		}, []string{"reason"}),
		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "personad",
			Subsystem: "context",
			Name:      "cache_total",
			Help:      "Context cache lookups by result (hit, miss)",
		}, []string{"result"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "personad",
			Subsystem: "context",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of individual context fetches",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RecordFetch records one fetch and its latency in seconds.
func (m *ContextMetrics) RecordFetch(ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}

// RecordFailure increments the failure counter for reason.
func (m *ContextMetrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// RecordCacheResult implements contextstore.CacheRecorder.
func (m *ContextMetrics) RecordCacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}
