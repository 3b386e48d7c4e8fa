package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/l0p7/shieldcache/internal/cache"
	"github.com/l0p7/shieldcache/internal/config"
)

// openDisk loads the configuration and opens the persistent tier the
// management commands operate on.
func openDisk(ctx context.Context, configFile string) (config.Config, *cache.SQLiteStore, error) {
	loader := config.NewLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return config.Config{}, nil, err
	}
	if !cfg.Disk.Enabled {
		return config.Config{}, nil, fmt.Errorf("disk cache disabled in configuration")
	}
	store, err := cache.NewSQLite(cfg.Disk.Path, time.Duration(cfg.Disk.TTLSeconds)*time.Second)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, store, nil
}

// openPersistentTiers opens every cache tier that outlives the proxy process
// (disk and remote). The memory tier is per-process and has nothing for the
// CLI to reach.
func openPersistentTiers(ctx context.Context, configFile string) ([]cache.Store, error) {
	loader := config.NewLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	tiers := make([]cache.Store, 0, 2)
	if cfg.Disk.Enabled {
		store, err := cache.NewSQLite(cfg.Disk.Path, time.Duration(cfg.Disk.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, store)
	}
	if cfg.Remote.Enabled {
		store, err := cache.NewRemote(cache.RemoteConfig{
			Address:  cfg.Remote.Address,
			Username: cfg.Remote.Username,
			Password: cfg.Remote.Password,
			DB:       cfg.Remote.DB,
		}, time.Duration(cfg.Remote.TTLSeconds)*time.Second)
		if err != nil {
			for _, tier := range tiers {
				_ = tier.Close(ctx)
			}
			return nil, err
		}
		tiers = append(tiers, store)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no persistent cache tiers enabled in configuration")
	}
	return tiers, nil
}

func newClearCacheCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove every entry from the persistent cache tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tiers, err := openPersistentTiers(ctx, configFile)
			if err != nil {
				return err
			}
			defer func() {
				for _, tier := range tiers {
					_ = tier.Close(ctx)
				}
			}()

			for _, tier := range tiers {
				if err := tier.Clear(ctx); err != nil {
					return fmt.Errorf("clear %s tier: %w", tier.Name(), err)
				}
				fmt.Printf("%s tier cleared\n", tier.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	return cmd
}

func newDumpCmd() *cobra.Command {
	var configFile string
	var filter string
	var detailed bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Serialize persisted cache entries to JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, store, err := openDisk(ctx, configFile)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close(ctx) }()

			records, err := store.Dump(ctx, filter, detailed)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&filter, "filter", "", "only include keys containing this substring")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include stored payload bytes")
	return cmd
}

// cacheAnalysis is the operator-facing aggregate over all persisted rows.
type cacheAnalysis struct {
	Entries        int       `json:"entries"`
	Expired        int       `json:"expired"`
	TotalSizeBytes int64     `json:"totalSizeBytes"`
	TotalHits      int64     `json:"totalHits"`
	SoonestExpiry  time.Time `json:"soonestExpiry,omitzero"`
	LatestExpiry   time.Time `json:"latestExpiry,omitzero"`
}

func newAnalyzeCacheCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "analyze-cache",
		Short: "Summarize the persistent cache contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, store, err := openDisk(ctx, configFile)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close(ctx) }()

			records, err := store.Dump(ctx, "", false)
			if err != nil {
				return err
			}

			now := time.Now()
			analysis := cacheAnalysis{Entries: len(records)}
			for _, rec := range records {
				analysis.TotalSizeBytes += rec.SizeBytes
				analysis.TotalHits += rec.HitCount
				if !rec.ExpiresAt.After(now) {
					analysis.Expired++
				}
				if analysis.SoonestExpiry.IsZero() || rec.ExpiresAt.Before(analysis.SoonestExpiry) {
					analysis.SoonestExpiry = rec.ExpiresAt
				}
				if rec.ExpiresAt.After(analysis.LatestExpiry) {
					analysis.LatestExpiry = rec.ExpiresAt
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(envPrefix, configFile)
			cfg, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to configuration file")
	return cmd
}
