package state

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics summarize store activity since construction.
type Metrics struct {
	TotalUpdates      int64
	AverageUpdateTime time.Duration
	CacheHits         int64
	CacheMisses       int64
}

// PerformanceMetrics returns update and cache counters.
func (s *Store) PerformanceMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{TotalUpdates: s.totalUpdates}
	if s.totalUpdates > 0 {
		m.AverageUpdateTime = s.totalUpdateTime / time.Duration(s.totalUpdates)
	}
	cs := s.cache.Stats()
	m.CacheHits = cs.Hits
	m.CacheMisses = cs.Misses
	return m
}

const metricsNamespace = "docstate"

// Collector exports store metrics to Prometheus. Register it with
// WithRegisterer.
type Collector struct {
	store *Store

	updateSeconds    prometheus.Histogram
	subscriberErrors prometheus.Counter

	updates     *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	subscribers *prometheus.Desc
	encrypted   *prometheus.Desc
}

func newCollector(s *Store) *Collector {
	labels := prometheus.Labels{"store": s.name}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, labels)
	}
	return &Collector{
		store: s,
		updateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "update_duration_seconds",
			Help:        "Time spent committing a state update.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		subscriberErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "subscriber_errors_total",
			Help:        "Subscriber callbacks that panicked.",
			ConstLabels: labels,
		}),
		updates:     desc("updates_total", "Committed state updates."),
		cacheHits:   desc("cache_hits_total", "Selector cache hits."),
		cacheMisses: desc("cache_misses_total", "Selector cache misses."),
		subscribers: desc("subscribers", "Live subscriptions."),
		encrypted:   desc("encrypted_fields", "Sensitive fields currently sealed."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.updateSeconds.Describe(ch)
	c.subscriberErrors.Describe(ch)
	ch <- c.updates
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.subscribers
	ch <- c.encrypted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.updateSeconds.Collect(ch)
	c.subscriberErrors.Collect(ch)

	m := c.store.PerformanceMetrics()
	c.store.mu.Lock()
	subs, sealed := len(c.store.subs), c.store.sealer.Len()
	c.store.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.updates, prometheus.CounterValue, float64(m.TotalUpdates))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(m.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(m.CacheMisses))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(subs))
	ch <- prometheus.MustNewConstMetric(c.encrypted, prometheus.GaugeValue, float64(sealed))
}

func (c *Collector) observeUpdate(d time.Duration) {
	c.updateSeconds.Observe(d.Seconds())
}
