// Package metrics exposes Prometheus instrumentation for identity
// resolution. A nil *Metrics is valid and records nothing, so tests and
// callers that do not care about observability pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	resolveTotal      *prometheus.CounterVec
	resolveDuration   prometheus.Histogram
	mergeTotal        prometheus.Counter
	conflictRetries   prometheus.Counter
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	sessionSwitchover prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "resolve_total",
			Help:      "Resolutions by outcome.",
		}, []string{"outcome"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rolodex",
			Name:      "resolve_duration_seconds",
			Help:      "Wall time of a full resolution, including the transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		mergeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "merges_total",
			Help:      "Destructive record merges performed.",
		}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "conflict_retries_total",
			Help:      "Resolutions retried after a unique-constraint conflict.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "cache_hits_total",
			Help:      "Recipient cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "cache_misses_total",
			Help:      "Recipient cache misses.",
		}),
		sessionSwitchover: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rolodex",
			Name:      "session_switchover_notices_total",
			Help:      "Session switchover notices inserted.",
		}),
	}
	reg.MustRegister(
		m.resolveTotal,
		m.resolveDuration,
		m.mergeTotal,
		m.conflictRetries,
		m.cacheHits,
		m.cacheMisses,
		m.sessionSwitchover,
	)
	return m
}

func (m *Metrics) ObserveResolve(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolveTotal.WithLabelValues(outcome).Inc()
	m.resolveDuration.Observe(d.Seconds())
}

func (m *Metrics) IncMerge() {
	if m == nil {
		return
	}
	m.mergeTotal.Inc()
}

func (m *Metrics) IncConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) IncSessionSwitchover() {
	if m == nil {
		return
	}
	m.sessionSwitchover.Inc()
}
