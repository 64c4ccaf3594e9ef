package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cityclaims"

// Collector records decode, verification, oracle and storage metrics in a
// dedicated Prometheus registry so they do not interfere with the default
// global registry. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	decoded        *prometheus.CounterVec
	decodeRejected *prometheus.CounterVec
	windowInvalid  *prometheus.CounterVec

	verifications  *prometheus.CounterVec
	coalesced      prometheus.Counter
	oracleCalls    *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	rateLimitWaits prometheus.Counter

	cacheEntries   prometheus.Gauge
	cacheMerges    *prometheus.CounterVec
	storageUsed    prometheus.Gauge
	storageLevel   prometheus.Gauge
	storageRejects prometheus.Counter
}

// New creates a Collector with every metric registered
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_transactions_total",
			Help:      "Transactions decoded by category.",
		}, []string{"category"}),
		decodeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_rejected_total",
			Help:      "Transactions rejected by the argument decoder, by reason.",
		}, []string{"reason"}),
		windowInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_invalid_total",
			Help:      "Commitments whose window fell outside the contract bounds.",
		}, []string{"kind"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Completed verifications by claim kind and outcome.",
		}, []string{"kind", "status"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_coalesced_total",
			Help:      "Verification requests served by an in-flight request for the same key.",
		}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Read-only oracle calls by function and outcome.",
		}, []string{"function", "outcome"}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Read-only oracle call latency by function.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"function"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_rate_limited_total",
			Help:      "Times the oracle signalled backoff.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Verification results currently cached.",
		}),
		cacheMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_merges_total",
			Help:      "Incoming cross-process updates by result.",
		}, []string{"result"}),
		storageUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Persisted state footprint in bytes.",
		}),
		storageLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_level",
			Help:      "Storage pressure level (0 normal, 1 warning, 2 critical, 3 exceeded).",
		}),
		storageRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_rejected_writes_total",
			Help:      "Writes rejected because the store reached its hard cap.",
		}),
	}

	reg.MustRegister(
		c.decoded,
		c.decodeRejected,
		c.windowInvalid,
		c.verifications,
		c.coalesced,
		c.oracleCalls,
		c.oracleDuration,
		c.rateLimitWaits,
		c.cacheEntries,
		c.cacheMerges,
		c.storageUsed,
		c.storageLevel,
		c.storageRejects,
	)
	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordDecoded counts a successfully decoded transaction
func (c *Collector) RecordDecoded(category string) {
	if c == nil {
		return
	}
	c.decoded.WithLabelValues(category).Inc()
}

// RecordDecodeRejected counts a transaction the decoder refused
func (c *Collector) RecordDecodeRejected(reason string) {
	if c == nil {
		return
	}
	c.decodeRejected.WithLabelValues(reason).Inc()
}

// RecordWindowInvalid counts a commitment whose window was discarded
func (c *Collector) RecordWindowInvalid(kind string) {
	if c == nil {
		return
	}
	c.windowInvalid.WithLabelValues(kind).Inc()
}

// RecordVerification counts a completed verification
func (c *Collector) RecordVerification(kind, status string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(kind, status).Inc()
}

// RecordCoalesced counts a caller that shared another caller's request
func (c *Collector) RecordCoalesced() {
	if c == nil {
		return
	}
	c.coalesced.Inc()
}

// RecordOracleCall records the outcome and latency of one read-only call
func (c *Collector) RecordOracleCall(function, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.oracleCalls.WithLabelValues(function, outcome).Inc()
	c.oracleDuration.WithLabelValues(function).Observe(d.Seconds())
}

// RecordRateLimited counts a rate-limit response from the oracle
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimitWaits.Inc()
}

// SetCacheEntries sets the cached result count
func (c *Collector) SetCacheEntries(n int) {
	if c == nil {
		return
	}
	c.cacheEntries.Set(float64(n))
}

// RecordMerge counts an incoming update as "applied" or "ignored"
func (c *Collector) RecordMerge(result string) {
	if c == nil {
		return
	}
	c.cacheMerges.WithLabelValues(result).Inc()
}

// SetStorage records the latest footprint measurement
func (c *Collector) SetStorage(usedBytes int64, level int) {
	if c == nil {
		return
	}
	c.storageUsed.Set(float64(usedBytes))
	c.storageLevel.Set(float64(level))
}

// RecordStorageRejected counts a write refused by the storage guard
func (c *Collector) RecordStorageRejected() {
	if c == nil {
		return
	}
	c.storageRejects.Inc()
}

// WriteTextfile writes the current metrics in the node exporter textfile format
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}

// Handler returns an http.Handler that serves metrics in the Prometheus
// text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
