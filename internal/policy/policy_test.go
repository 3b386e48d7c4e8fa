package policy

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/shieldcache/internal/config"
)

func testConfig(rules ...config.EndpointRule) config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.URL = "http://upstream.local"
	cfg.Rules = rules
	return cfg
}

func TestCanCacheMethods(t *testing.T) {
	p := New(testConfig())

	assert.True(t, p.CanCache(httptest.NewRequest("GET", "/api/models", nil)))
	assert.True(t, p.CanCache(httptest.NewRequest("POST", "/api/generate", strings.NewReader("{}"))))
	assert.False(t, p.CanCache(httptest.NewRequest("PUT", "/api/models", nil)))
	assert.False(t, p.CanCache(httptest.NewRequest("DELETE", "/api/models", nil)))
	assert.False(t, p.CanCache(httptest.NewRequest("HEAD", "/api/models", nil)))
}

func TestCanCacheMultipartExcluded(t *testing.T) {
	p := New(testConfig())

	r := httptest.NewRequest("POST", "/upload", strings.NewReader("data"))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	assert.False(t, p.CanCache(r))

	r = httptest.NewRequest("POST", "/upload", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	assert.True(t, p.CanCache(r))
}

func TestCanCacheNoCacheDirective(t *testing.T) {
	p := New(testConfig())

	r := httptest.NewRequest("GET", "/api/models", nil)
	r.Header.Set("Cache-Control", "no-cache")
	assert.False(t, p.CanCache(r))

	r = httptest.NewRequest("GET", "/api/models", nil)
	r.Header.Set("Cache-Control", "max-age=0, NO-CACHE")
	assert.False(t, p.CanCache(r))

	r = httptest.NewRequest("GET", "/api/models", nil)
	r.Header.Set("Cache-Control", "max-age=60")
	assert.True(t, p.CanCache(r))
}

func TestCanCacheRequiresEnabledTier(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.Enabled = false
	cfg.Disk.Enabled = false
	p := New(cfg)

	assert.False(t, p.CanCache(httptest.NewRequest("GET", "/api/models", nil)))
}

func TestTTLFirstMatchWins(t *testing.T) {
	p := New(testConfig(
		config.EndpointRule{PathPattern: "/api/ps", TTLSeconds: 0, Enabled: true},
		config.EndpointRule{PathPattern: "/api/*", TTLSeconds: 300, Enabled: true},
		config.EndpointRule{PathPattern: "*", TTLSeconds: 60, Enabled: true},
	))

	// The live process list is declared first with TTL zero: pass-through.
	assert.Equal(t, time.Duration(0), p.TTL(httptest.NewRequest("GET", "/api/ps", nil)))
	assert.Equal(t, 300*time.Second, p.TTL(httptest.NewRequest("GET", "/api/tags", nil)))
	assert.Equal(t, 60*time.Second, p.TTL(httptest.NewRequest("GET", "/other", nil)))
}

func TestTTLDisabledRuleSkipped(t *testing.T) {
	p := New(testConfig(
		config.EndpointRule{PathPattern: "/api/*", TTLSeconds: 300, Enabled: false},
		config.EndpointRule{PathPattern: "/api/*", TTLSeconds: 30, Enabled: true},
	))

	assert.Equal(t, 30*time.Second, p.TTL(httptest.NewRequest("GET", "/api/tags", nil)))
}

func TestTTLMethodSet(t *testing.T) {
	p := New(testConfig(
		config.EndpointRule{PathPattern: "/api/*", Methods: []string{"POST"}, TTLSeconds: 300, Enabled: true},
	))

	assert.Equal(t, 300*time.Second, p.TTL(httptest.NewRequest("POST", "/api/generate", nil)))
	assert.Equal(t, time.Duration(0), p.TTL(httptest.NewRequest("GET", "/api/generate", nil)))
}

func TestTTLNoMatchIsZero(t *testing.T) {
	p := New(testConfig(
		config.EndpointRule{PathPattern: "/api/*", TTLSeconds: 300, Enabled: true},
	))

	assert.Equal(t, time.Duration(0), p.TTL(httptest.NewRequest("GET", "/metrics-like", nil)))
}

func TestSwapRules(t *testing.T) {
	p := New(testConfig(
		config.EndpointRule{PathPattern: "/api/*", TTLSeconds: 300, Enabled: true},
	))
	require.Equal(t, 300*time.Second, p.TTL(httptest.NewRequest("GET", "/api/tags", nil)))

	p.SwapRules([]config.EndpointRule{
		{PathPattern: "/api/*", TTLSeconds: 10, Enabled: true},
	})
	assert.Equal(t, 10*time.Second, p.TTL(httptest.NewRequest("GET", "/api/tags", nil)))
}
