package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"upstream.timeoutseconds":       "upstream.timeoutSeconds",
			"memory.ttlseconds":             "memory.ttlSeconds",
			"memory.maxentries":             "memory.maxEntries",
			"memory.promotionttlseconds":    "memory.promotionTtlSeconds",
			"disk.ttlseconds":               "disk.ttlSeconds",
			"disk.maxsizebytes":             "disk.maxSizeBytes",
			"disk.cleanupintervalseconds":   "disk.cleanupIntervalSeconds",
			"remote.ttlseconds":             "remote.ttlSeconds",
			"streaming.replaycachedstreams": "streaming.replayCachedStreams",
			"streaming.chunksize":           "streaming.chunkSize",
			"streaming.delayms":             "streaming.delayMs",
			"cors.allowedorigins":           "cors.allowedOrigins",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (DISK__TTL_SECONDS -> disk.ttlSeconds).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			lower = strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor picks the file parser by extension; JSON is the documented
// default and also covers extensionless paths.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return json.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"upstream": map[string]any{
			"url":            cfg.Upstream.URL,
			"timeoutSeconds": cfg.Upstream.TimeoutSeconds,
		},
		"listen": map[string]any{
			"address": cfg.Listen.Address,
			"port":    cfg.Listen.Port,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"memory": map[string]any{
			"enabled":             cfg.Memory.Enabled,
			"ttlSeconds":          cfg.Memory.TTLSeconds,
			"maxEntries":          cfg.Memory.MaxEntries,
			"promotionTtlSeconds": cfg.Memory.PromotionTTLSeconds,
		},
		"disk": map[string]any{
			"enabled":                cfg.Disk.Enabled,
			"path":                   cfg.Disk.Path,
			"ttlSeconds":             cfg.Disk.TTLSeconds,
			"maxSizeBytes":           cfg.Disk.MaxSizeBytes,
			"cleanupIntervalSeconds": cfg.Disk.CleanupIntervalSeconds,
		},
		"remote": map[string]any{
			"enabled":    cfg.Remote.Enabled,
			"address":    cfg.Remote.Address,
			"username":   cfg.Remote.Username,
			"password":   cfg.Remote.Password,
			"db":         cfg.Remote.DB,
			"ttlSeconds": cfg.Remote.TTLSeconds,
		},
		"streaming": map[string]any{
			"replayCachedStreams": cfg.Streaming.ReplayCachedStreams,
			"chunkSize":           cfg.Streaming.ChunkSize,
			"delayMs":             cfg.Streaming.DelayMs,
		},
		"cors": map[string]any{
			"enabled":        cfg.CORS.Enabled,
			"allowedOrigins": cfg.CORS.AllowedOrigins,
		},
	}
}
