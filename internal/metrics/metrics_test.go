package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, gatherer prometheus.Gatherer, name string) *dto.MetricFamily {
	t.Helper()
	families, err := gatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestObserveProxy(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveProxy(ProxyOutcomeHit, 200, "memory", 5*time.Millisecond)
	rec.ObserveProxy(ProxyOutcomeForwarded, 502, "", time.Millisecond)

	family := findMetric(t, rec.Gatherer(), "shieldcache_proxy_requests_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 2)

	for _, m := range family.GetMetric() {
		switch labelValue(m, "outcome") {
		case string(ProxyOutcomeHit):
			assert.Equal(t, "200", labelValue(m, "status_code"))
			assert.Equal(t, "memory", labelValue(m, "tier"))
			assert.Equal(t, float64(1), m.GetCounter().GetValue())
		case string(ProxyOutcomeForwarded):
			assert.Equal(t, "502", labelValue(m, "status_code"))
			assert.Equal(t, "none", labelValue(m, "tier"), "empty tier is normalized")
		default:
			t.Fatalf("unexpected outcome label on %v", m)
		}
	}

	latency := findMetric(t, rec.Gatherer(), "shieldcache_proxy_request_duration_seconds")
	require.NotNil(t, latency)
	assert.Len(t, latency.GetMetric(), 2)
}

func TestObserveProxyUnknownStatus(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveProxy(ProxyOutcomeUpstreamError, 0, "", time.Millisecond)

	family := findMetric(t, rec.Gatherer(), "shieldcache_proxy_requests_total")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, "unknown", labelValue(family.GetMetric()[0], "status_code"))
}

func TestObserveCacheAndEntries(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCache("memory", CacheOperationGet, CacheOutcomeHit, time.Millisecond)
	rec.ObserveCache("memory", CacheOperationGet, CacheOutcomeHit, time.Millisecond)
	rec.ObserveCache("disk", CacheOperationSet, CacheOutcomeStored, time.Millisecond)
	rec.SetCacheEntries("memory", 7)

	ops := findMetric(t, rec.Gatherer(), "shieldcache_cache_operations_total")
	require.NotNil(t, ops)
	require.Len(t, ops.GetMetric(), 2)
	for _, m := range ops.GetMetric() {
		if labelValue(m, "tier") == "memory" {
			assert.Equal(t, float64(2), m.GetCounter().GetValue())
		}
	}

	entries := findMetric(t, rec.Gatherer(), "shieldcache_cache_entries")
	require.NotNil(t, entries)
	require.Len(t, entries.GetMetric(), 1)
	assert.Equal(t, float64(7), entries.GetMetric()[0].GetGauge().GetValue())
}

func TestNilRecorderSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveProxy(ProxyOutcomeHit, 200, "memory", time.Millisecond)
	rec.ObserveUpstream(time.Millisecond)
	rec.ObserveCache("memory", CacheOperationGet, CacheOutcomeHit, time.Millisecond)
	rec.SetCacheEntries("memory", 1)
	assert.NotNil(t, rec.Handler())
	assert.NotNil(t, rec.Gatherer())
}
