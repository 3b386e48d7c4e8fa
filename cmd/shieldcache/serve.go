package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/l0p7/shieldcache/internal/access"
	"github.com/l0p7/shieldcache/internal/cache"
	"github.com/l0p7/shieldcache/internal/config"
	"github.com/l0p7/shieldcache/internal/logging"
	"github.com/l0p7/shieldcache/internal/metrics"
	"github.com/l0p7/shieldcache/internal/policy"
	"github.com/l0p7/shieldcache/internal/proxy"
	"github.com/l0p7/shieldcache/internal/server"
)

const envPrefix = "SHIELDCACHE"

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching reverse proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	return cmd
}

func runServe(ctx context.Context, configFile string) error {
	loader := config.NewLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	tiers, diskStore, err := buildTiers(cfg, logger)
	if err != nil {
		return err
	}
	layered := cache.NewLayered(cache.LayeredOptions{
		Tiers:            tiers,
		PromotionCeiling: time.Duration(cfg.Memory.PromotionTTLSeconds) * time.Second,
		Logger:           logger,
		Metrics:          recorder,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := layered.Close(closeCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	cachePolicy := policy.New(cfg)
	validator := access.NewValidator(cfg.Credentials)

	orchestrator := proxy.NewOrchestrator(proxy.OrchestratorOptions{
		Validator: validator,
		Policy:    cachePolicy,
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
			Delay:           time.Duration(cfg.Streaming.DelayMs) * time.Millisecond,
			Logger:          logger,
		}),
		Logger:  logger,
		Metrics: recorder,
	})

	if diskStore != nil {
		worker := cache.NewCleanupWorker(
			diskStore,
			time.Duration(cfg.Disk.CleanupIntervalSeconds)*time.Second,
			cfg.Disk.MaxSizeBytes,
			logger,
		)
		go worker.Run(ctx)
	}

	if configFile != "" {
		watcher, err := loader.WatchRules(ctx, func(rules config.RuleSet) {
			cachePolicy.SwapRules(rules.Rules)
			validator.SwapCredentials(rules.Credentials)
			logger.Info("rule set reloaded",
				slog.Int("rules", len(rules.Rules)),
				slog.Int("credential_pairs", len(rules.Credentials)))
		}, func(err error) {
			logger.Error("rules watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("rules watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewHandler(server.HandlerOptions{
		Proxy:   orchestrator,
		Metrics: recorder.Handler(),
		Cache:   layered,
		Config:  cfg,
		Version: version,
		Started: time.Now(),
		Logger:  logger,
	})

	srv, err := server.New(cfg.Listen, logger, handler)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildTiers assembles the configured tiers fastest-first. The disk store is
// also returned separately so the cleanup worker can reach its purge
// operations. A remote tier that cannot be reached is skipped with a log
// line rather than failing startup.
func buildTiers(cfg config.Config, logger *slog.Logger) ([]cache.Store, *cache.SQLiteStore, error) {
	tiers := make([]cache.Store, 0, 3)
	if cfg.Memory.Enabled {
		tiers = append(tiers, cache.NewMemory(
			time.Duration(cfg.Memory.TTLSeconds)*time.Second,
			cfg.Memory.MaxEntries,
		))
		logger.Info("memory tier enabled",
			slog.Int("max_entries", cfg.Memory.MaxEntries),
			slog.Int("ttl_seconds", cfg.Memory.TTLSeconds))
	}

	var diskStore *cache.SQLiteStore
	if cfg.Disk.Enabled {
		store, err := cache.NewSQLite(cfg.Disk.Path, time.Duration(cfg.Disk.TTLSeconds)*time.Second)
		if err != nil {
			return nil, nil, err
		}
		diskStore = store
		tiers = append(tiers, store)
		logger.Info("disk tier enabled", slog.String("path", cfg.Disk.Path))
	}

	if cfg.Remote.Enabled {
		store, err := cache.NewRemote(cache.RemoteConfig{
			Address:  cfg.Remote.Address,
			Username: cfg.Remote.Username,
			Password: cfg.Remote.Password,
			DB:       cfg.Remote.DB,
		}, time.Duration(cfg.Remote.TTLSeconds)*time.Second)
		if err != nil {
			logger.Error("remote tier initialization failed, continuing without it", slog.Any("error", err))
		} else {
			tiers = append(tiers, store)
			logger.Info("remote tier enabled", slog.String("address", cfg.Remote.Address))
		}
	}

	if len(tiers) == 0 {
		logger.Warn("no cache tiers enabled, proxy runs in pass-through mode")
	}
	return tiers, diskStore, nil
}
