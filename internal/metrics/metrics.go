// Package metrics defines the Prometheus collectors shared by the cache,
// resolver, trace client and fixture server.
//
// A *Metrics is created once per process and handed to components through
// their options. All methods are safe on a nil *Metrics, which is what
// components use when no metrics were configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weavequery"

// Cache lookup outcomes.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared" // joined an in-flight fetch
)

// Ref resolution outcomes.
const (
	RefResolved = "resolved"
	RefMissing  = "missing"
	RefFailed   = "failed"
)

// Metrics holds the collectors.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	cacheEntries   prometheus.Gauge

	refs *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests that only read values back.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Memo cache lookups by outcome",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the memo cache",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently held by the memo cache",
		}),
		refs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_refs_total",
			Help:      "Refs requested by the resolver by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_requests_total",
			Help:      "Trace server requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_request_duration_seconds",
			Help:      "Trace server request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.cacheLookups, m.cacheEvictions, m.cacheEntries,
			m.refs,
			m.requests, m.requestDuration,
		)
	}
	return m
}

// CacheLookup counts one cache lookup with the given outcome.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CacheEvicted counts one eviction.
func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

// CacheEntries sets the current cache size.
func (m *Metrics) CacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Refs counts n refs with the given outcome.
func (m *Metrics) Refs(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.refs.WithLabelValues(outcome).Add(float64(n))
}

// Request records one trace server request.
func (m *Metrics) Request(endpoint, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Collectors exposes the underlying collectors for tests.
func (m *Metrics) Collectors() Collectors {
	return Collectors{
		CacheLookups:   m.cacheLookups,
		CacheEvictions: m.cacheEvictions,
		CacheEntries:   m.cacheEntries,
		Refs:           m.refs,
		Requests:       m.requests,
	}
}

// Collectors is the read side of Metrics.
type Collectors struct {
	CacheLookups   *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge
	Refs           *prometheus.CounterVec
	Requests       *prometheus.CounterVec
}
