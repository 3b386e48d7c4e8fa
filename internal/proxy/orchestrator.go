package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/shieldcache/internal/access"
	"github.com/l0p7/shieldcache/internal/cache"
	"github.com/l0p7/shieldcache/internal/metrics"
	"github.com/l0p7/shieldcache/internal/policy"
)

// Orchestrator is the request-serving middleware: access check, cache
// policy, fingerprint, layered cache lookup, and on a miss the upstream
// forward followed by write-through storage of successful responses.
type Orchestrator struct {
	validator *access.Validator
	policy    *policy.Policy
	cache     *cache.Layered
	forwarder *Forwarder
	replayer  *Replayer
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// OrchestratorOptions wires the collaborators.
type OrchestratorOptions struct {
	Validator *access.Validator
	Policy    *policy.Policy
	Cache     *cache.Layered
	Forwarder *Forwarder
	Replayer  *Replayer
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// NewOrchestrator builds the middleware.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		validator: opts.Validator,
		policy:    opts.Policy,
		cache:     opts.Cache,
		forwarder: opts.Forwarder,
		replayer:  opts.Replayer,
		logger:    logger.With(slog.String("agent", "orchestrator")),
		metrics:   opts.Metrics,
	}
}

// Cache exposes the layered cache for the health endpoint and management
// commands.
func (o *Orchestrator) Cache() *cache.Layered { return o.cache }

// ServeHTTP implements the proxy pipeline for every non-management request.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if o.validator != nil {
		allowed, status, message := o.validator.Validate(r)
		if !allowed {
			if status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Basic realm="shieldcache"`)
			}
			WriteError(w, status, "access_denied", message)
			o.metrics.ObserveProxy(metrics.ProxyOutcomeDenied, status, "", time.Since(start))
			return
		}
	}

	cacheTTL := time.Duration(0)
	cacheKey := ""
	if o.policy.CanCache(r) {
		if ttl := o.policy.TTL(r); ttl > 0 {
			key, err := Fingerprint(r)
			if err != nil {
				o.logger.Warn("fingerprint failed, bypassing cache", slog.Any("error", err))
			} else {
				cacheTTL = ttl
				cacheKey = key
			}
		}
	}

	if cacheKey != "" {
		if entry, tier, ok := o.cache.Get(r.Context(), cacheKey); ok {
			res, err := ResponseFromEntry(entry)
			if err != nil {
				o.logger.Warn("cached entry unreadable, treating as miss",
					slog.String("key", cacheKey), slog.Any("error", err))
			} else {
				if err := o.replayer.Replay(r.Context(), w, res); err != nil {
					o.logger.Debug("replay aborted", slog.Any("error", err))
				}
				o.metrics.ObserveProxy(metrics.ProxyOutcomeHit, res.StatusCode, tier, time.Since(start))
				o.logger.Debug("served from cache",
					slog.String("key", cacheKey),
					slog.String("tier", tier),
					slog.String("path", r.URL.Path))
				return
			}
		}
	}

	res, streamed, err := o.forwarder.Forward(w, r)
	if err != nil {
		o.handleForwardError(w, r, err, streamed, start)
		return
	}

	if !streamed {
		if err := o.replayer.Replay(r.Context(), w, res); err != nil {
			o.logger.Debug("client write aborted", slog.Any("error", err))
		}
	}

	if cacheKey != "" && res.StatusCode >= 200 && res.StatusCode < 300 {
		o.store(r.Context(), cacheKey, res, cacheTTL)
	}
	o.metrics.ObserveProxy(metrics.ProxyOutcomeForwarded, res.StatusCode, "", time.Since(start))
}

// store serializes the response and writes it through every tier. Failures
// are logged and swallowed; caching never fails the request.
func (o *Orchestrator) store(ctx context.Context, key string, res *CachedResponse, ttl time.Duration) {
	entry, err := res.ToEntry()
	if err != nil {
		o.logger.Error("cache serialization failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	// The client may disconnect right after receiving the payload; storage
	// still proceeds on its own brief context.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.cache.Set(storeCtx, key, entry, ttl)
	o.logger.Debug("response cached",
		slog.String("key", key),
		slog.Duration("ttl", ttl),
		slog.Int("bytes", len(entry.Data)))
}

func (o *Orchestrator) handleForwardError(w http.ResponseWriter, r *http.Request, err error, streamed bool, start time.Time) {
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		upErr = &UpstreamError{Kind: KindFailure, Err: err}
	}

	if upErr.Kind == KindCanceled {
		o.logger.Debug("request canceled by client", slog.String("path", r.URL.Path))
		return
	}
	if streamed {
		// Headers are already committed; a clean error response is no
		// longer possible. Abort the connection.
		o.logger.Error("stream failed mid-transfer",
			slog.String("path", r.URL.Path), slog.Any("error", upErr.Err))
		if controller, ok := w.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = controller.SetWriteDeadline(time.Now())
		}
		o.metrics.ObserveProxy(metrics.ProxyOutcomeUpstreamError, 0, "", time.Since(start))
		return
	}

	status := upErr.Status()
	o.logger.Error("upstream call failed",
		slog.String("path", r.URL.Path),
		slog.String("kind", string(upErr.Kind)),
		slog.Any("error", upErr.Err))
	WriteError(w, status, string(upErr.Kind), "could not reach upstream")
	o.metrics.ObserveProxy(metrics.ProxyOutcomeUpstreamError, status, "", time.Since(start))
}
