package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/shieldcache/internal/access"
	"github.com/l0p7/shieldcache/internal/cache"
	"github.com/l0p7/shieldcache/internal/config"
	"github.com/l0p7/shieldcache/internal/logging"
	"github.com/l0p7/shieldcache/internal/metrics"
	"github.com/l0p7/shieldcache/internal/policy"
	"github.com/l0p7/shieldcache/internal/proxy"
	"github.com/l0p7/shieldcache/internal/server"
)

// buildStack assembles the full pipeline the serve command wires, minus the
// listener, so the routing facade can run under httptest.
func buildStack(t *testing.T, cfg config.Config) (http.Handler, *cache.SQLiteStore) {
	t.Helper()
	require.NoError(t, cfg.Validate())

	logger, err := logging.New(config.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	recorder := metrics.NewRecorder(nil)
	tiers, diskStore, err := buildTiers(cfg, logger)
	require.NoError(t, err)

	layered := cache.NewLayered(cache.LayeredOptions{
		Tiers:            tiers,
		PromotionCeiling: time.Duration(cfg.Memory.PromotionTTLSeconds) * time.Second,
		Logger:           logger,
		Metrics:          recorder,
	})
	t.Cleanup(func() { _ = layered.Close(t.Context()) })

	orchestrator := proxy.NewOrchestrator(proxy.OrchestratorOptions{
		Validator: access.NewValidator(cfg.Credentials),
		Policy:    policy.New(cfg),
		Cache:     layered,
		Forwarder: proxy.NewForwarder(proxy.ForwarderOptions{
			Upstream:  cfg.UpstreamURL(),
			Timeout:   cfg.UpstreamTimeout(),
			ChunkSize: cfg.Streaming.ChunkSize,
			Logger:    logger,
			Metrics:   recorder,
		}),
		Replayer: proxy.NewReplayer(proxy.ReplayerOptions{
			SimulateStreams: cfg.Streaming.ReplayCachedStreams,
			ChunkSize:       cfg.Streaming.ChunkSize,
			Logger:          logger,
		}),
		Logger:  logger,
		Metrics: recorder,
	})

	return server.NewHandler(server.HandlerOptions{
		Proxy:   orchestrator,
		Metrics: recorder.Handler(),
		Cache:   layered,
		Config:  cfg,
		Version: "test",
		Started: time.Now(),
	}), diskStore
}

func TestProxyEndToEnd(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		body := fmt.Sprintf(`{"path":%q,"call":%d}`, r.URL.Path, n)
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer upstream.Close()

	cfg := config.DefaultConfig()
	cfg.Upstream.URL = upstream.URL
	cfg.Disk.Enabled = true
	cfg.Disk.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Rules = []config.EndpointRule{
		{PathPattern: "/api/*", TTLSeconds: 300, Enabled: true},
	}

	handler, diskStore := buildStack(t, cfg)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})

	expect.GET("/ping").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("status", "ok")

	health := expect.GET("/health").Expect().Status(http.StatusOK).JSON().Object()
	health.HasValue("status", "ok")
	health.Value("cache").Object().HasValue("diskEnabled", true)

	// First call reaches the upstream, the second is replayed from cache.
	expect.GET("/api/models").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("call", 1)
	expect.GET("/api/models").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("call", 1)
	assert.Equal(t, int64(1), calls.Load())

	// Both tiers hold the entry; the disk copy survives a memory wipe.
	records, err := diskStore.Dump(t.Context(), "", false)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Unruled paths always pass through.
	expect.GET("/other").Expect().Status(http.StatusOK)
	expect.GET("/other").Expect().Status(http.StatusOK)
	assert.Equal(t, int64(3), calls.Load())

	metricsBody := expect.GET("/metrics").Expect().Status(http.StatusOK).Body()
	metricsBody.Contains("shieldcache_proxy_requests_total")
	metricsBody.Contains("cache_hit")
}

func TestProxyEndToEndAccessControl(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	cfg := config.DefaultConfig()
	cfg.Upstream.URL = upstream.URL
	cfg.Disk.Enabled = false
	cfg.Credentials = []config.CredentialPair{
		{IPs: []string{"*"}, Passwords: []string{"letmein"}},
	}

	handler, _ := buildStack(t, cfg)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})

	expect.GET("/api/models").Expect().Status(http.StatusUnauthorized).
		Header("WWW-Authenticate").Contains("Basic")

	expect.GET("/api/models").WithBasicAuth("anyone", "letmein").
		Expect().Status(http.StatusOK)

	// Management endpoints stay open regardless of credentials.
	expect.GET("/health").Expect().Status(http.StatusOK)
	expect.GET("/ping").Expect().Status(http.StatusOK)
}

func TestProxyEndToEndUpstreamDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	cfg := config.DefaultConfig()
	cfg.Upstream.URL = dead.URL
	cfg.Disk.Enabled = false

	handler, _ := buildStack(t, cfg)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})

	expect.GET("/api/models").Expect().Status(http.StatusBadGateway).
		JSON().Object().Value("error").Object().
		HasValue("type", "upstream_failure")

	// Health stays green even with the upstream gone; the proxy itself is up.
	expect.GET("/health").Expect().Status(http.StatusOK)
}
