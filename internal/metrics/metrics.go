package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationGet records layered cache reads.
	CacheOperationGet CacheOperation = "get"
	// CacheOperationSet records layered cache write-through attempts.
	CacheOperationSet CacheOperation = "set"
)

// CacheOutcome captures the result of a cache operation.
type CacheOutcome string

const (
	// CacheOutcomeHit indicates a read was served from a tier.
	CacheOutcomeHit CacheOutcome = "hit"
	// CacheOutcomeMiss indicates no tier held a live entry.
	CacheOutcomeMiss CacheOutcome = "miss"
	// CacheOutcomeStored indicates a write-through completed on a tier.
	CacheOutcomeStored CacheOutcome = "stored"
	// CacheOutcomeError indicates the operation failed on a tier.
	CacheOutcomeError CacheOutcome = "error"
)

// ProxyOutcome labels how a request left the proxy.
type ProxyOutcome string

const (
	// ProxyOutcomeHit means the response was replayed from cache.
	ProxyOutcomeHit ProxyOutcome = "cache_hit"
	// ProxyOutcomeForwarded means the upstream produced the response.
	ProxyOutcomeForwarded ProxyOutcome = "forwarded"
	// ProxyOutcomeUpstreamError means the upstream call failed.
	ProxyOutcomeUpstreamError ProxyOutcome = "upstream_error"
	// ProxyOutcomeDenied means access control rejected the caller.
	ProxyOutcomeDenied ProxyOutcome = "denied"
)

// Recorder publishes Prometheus metrics for proxy and cache activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec

	upstreamLatency prometheus.Histogram

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheEntries    *prometheus.GaugeVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	proxyRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldcache",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Total requests processed by the proxy.",
	}, []string{"outcome", "status_code", "tier"})

	proxyLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shieldcache",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed proxy requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	upstreamLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shieldcache",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for upstream calls, headers-received to body-complete.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldcache",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed by the layered cache.",
	}, []string{"tier", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shieldcache",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"tier", "operation", "result"})

	cacheEntries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shieldcache",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live entry count per cache tier.",
	}, []string{"tier"})

	reg.MustRegister(proxyRequests, proxyLatency, upstreamLatency, cacheOperations, cacheLatency, cacheEntries)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		proxyRequests:   proxyRequests,
		proxyLatency:    proxyLatency,
		upstreamLatency: upstreamLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		cacheEntries:    cacheEntries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveProxy records the outcome and latency for a completed request.
// tier is the cache tier that served a hit, empty otherwise.
func (r *Recorder) ObserveProxy(outcome ProxyOutcome, statusCode int, tier string, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.proxyRequests.WithLabelValues(string(outcome), statusLabel, normalizeLabel(tier)).Inc()
	r.proxyLatency.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// ObserveUpstream records the latency of a completed upstream call.
func (r *Recorder) ObserveUpstream(duration time.Duration) {
	if r == nil {
		return
	}
	r.upstreamLatency.Observe(duration.Seconds())
}

// ObserveCache records a single tier-level cache operation.
func (r *Recorder) ObserveCache(tier string, op CacheOperation, result CacheOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	tierLabel := normalizeLabel(tier)
	r.cacheOperations.WithLabelValues(tierLabel, string(op), string(result)).Inc()
	r.cacheLatency.WithLabelValues(tierLabel, string(op), string(result)).Observe(duration.Seconds())
}

// SetCacheEntries publishes the live entry count for a tier.
func (r *Recorder) SetCacheEntries(tier string, entries int64) {
	if r == nil {
		return
	}
	r.cacheEntries.WithLabelValues(normalizeLabel(tier)).Set(float64(entries))
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "none"
	}
	return trimmed
}
