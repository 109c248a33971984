// Package metrics exposes prometheus collectors for report fetching.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the cache and the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	failures      *prometheus.CounterVec
	downloadBytes prometheus.Histogram
	inFlight      prometheus.Gauge
	fetches       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Report fetches served from the local cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Report fetches that required a remote download.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed report operations by error kind.",
		}, []string{"kind"}),
		downloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_bytes",
			Help:      "Size of downloaded report documents.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Remote downloads currently running.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Report fetches by mode.",
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{m.cacheHits, m.cacheMisses, m.failures, m.downloadBytes, m.inFlight, m.fetches} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Failure counts an error of the given kind (auth, retrieval, render, save).
func (m *Metrics) Failure(kind string) {
	if m != nil {
		m.failures.WithLabelValues(kind).Inc()
	}
}

// Downloaded records a finished transfer of n bytes.
func (m *Metrics) Downloaded(n int64) {
	if m != nil {
		m.downloadBytes.Observe(float64(n))
	}
}

// DownloadStarted increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) DownloadStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) Fetch(mode string) {
	if m != nil {
		m.fetches.WithLabelValues(mode).Inc()
	}
}
