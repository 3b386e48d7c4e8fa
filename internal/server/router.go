package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/shieldcache/internal/cache"
	"github.com/l0p7/shieldcache/internal/config"
	"github.com/l0p7/shieldcache/internal/proxy"
)

// HandlerOptions assembles the HTTP routing facade: the two reserved
// management endpoints served locally, the metrics endpoint, and the
// catch-all proxy pipeline for everything else.
type HandlerOptions struct {
	Proxy   http.Handler
	Metrics http.Handler
	Cache   *cache.Layered
	Config  config.Config
	Version string
	Started time.Time
	Logger  *slog.Logger
}

// NewHandler wires the routes. /health, /ping and /metrics bypass access
// control entirely; every other method and path flows into the proxy.
func NewHandler(opts HandlerOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(opts))
	mux.HandleFunc("GET /ping", pingHandler)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	mux.Handle("/", opts.Proxy)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := recoveryMiddleware(logger.With(slog.String("agent", "router")), mux)
	if opts.Config.CORS.Enabled {
		handler = corsMiddleware(opts.Config.CORS, handler)
	}
	return handler
}

// recoveryMiddleware converts handler panics into a structured 500 when the
// response has not been committed yet. A panic mid-stream leaves only the
// connection abort.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				proxy.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	UptimeS  int64           `json:"uptimeSeconds"`
	Upstream string          `json:"upstream"`
	Cache    healthCacheInfo `json:"cache"`
	Stats    cache.Snapshot  `json:"stats"`
}

type healthCacheInfo struct {
	MemoryEnabled bool     `json:"memoryEnabled"`
	DiskEnabled   bool     `json:"diskEnabled"`
	RemoteEnabled bool     `json:"remoteEnabled"`
	Tiers         []string `json:"tiers"`
}

func healthHandler(opts HandlerOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tiers := make([]string, 0)
		var stats cache.Snapshot
		if opts.Cache != nil {
			for _, tier := range opts.Cache.Tiers() {
				tiers = append(tiers, tier.Name())
			}
			stats = opts.Cache.Stats().Snapshot()
			stats.Entries = opts.Cache.Entries(r.Context())
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:   "ok",
			Version:  opts.Version,
			UptimeS:  int64(time.Since(opts.Started).Seconds()),
			Upstream: opts.Config.Upstream.URL,
			Cache: healthCacheInfo{
				MemoryEnabled: opts.Config.Memory.Enabled,
				DiskEnabled:   opts.Config.Disk.Enabled,
				RemoteEnabled: opts.Config.Remote.Enabled,
				Tiers:         tiers,
			},
			Stats: stats,
		})
	}
}

func pingHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// corsMiddleware injects the configured CORS headers and short-circuits
// preflight requests.
func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(cfg.AllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}
