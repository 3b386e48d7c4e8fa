package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the proxy reads at startup. The rule list can
// additionally be swapped at runtime by the watcher.
type Config struct {
	Upstream    UpstreamConfig   `koanf:"upstream"`
	Listen      ListenConfig     `koanf:"listen"`
	Logging     LoggingConfig    `koanf:"logging"`
	Memory      MemoryConfig     `koanf:"memory"`
	Disk        DiskConfig       `koanf:"disk"`
	Remote      RemoteConfig     `koanf:"remote"`
	Rules       []EndpointRule   `koanf:"rules"`
	Credentials []CredentialPair `koanf:"credentials"`
	Streaming   StreamingConfig  `koanf:"streaming"`
	CORS        CORSConfig       `koanf:"cors"`
}

// UpstreamConfig names the single origin every request is forwarded to.
type UpstreamConfig struct {
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MemoryConfig controls the in-process cache tier.
type MemoryConfig struct {
	Enabled             bool `koanf:"enabled"`
	TTLSeconds          int  `koanf:"ttlSeconds"`
	MaxEntries          int  `koanf:"maxEntries"`
	PromotionTTLSeconds int  `koanf:"promotionTtlSeconds"`
}

// DiskConfig controls the SQLite-backed cache tier.
type DiskConfig struct {
	Enabled                bool   `koanf:"enabled"`
	Path                   string `koanf:"path"`
	TTLSeconds             int    `koanf:"ttlSeconds"`
	MaxSizeBytes           int64  `koanf:"maxSizeBytes"`
	CleanupIntervalSeconds int    `koanf:"cleanupIntervalSeconds"`
}

// RemoteConfig controls the optional valkey-backed cache tier.
type RemoteConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Address    string `koanf:"address"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	DB         int    `koanf:"db"`
	TTLSeconds int    `koanf:"ttlSeconds"`
}

// EndpointRule assigns a cache TTL to the request paths matching its pattern.
// Patterns use `*` for any run of characters and `?` for a single character,
// matched case-insensitively. The first enabled matching rule wins.
type EndpointRule struct {
	PathPattern string   `koanf:"pathPattern"`
	Methods     []string `koanf:"methods"`
	TTLSeconds  int      `koanf:"ttlSeconds"`
	Enabled     bool     `koanf:"enabled"`
}

// TTL returns the rule's duration.
func (r EndpointRule) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// CredentialPair grants access to callers whose IP matches one of the
// patterns and whose Basic Auth password is in the list. An empty password
// list means the IP match alone is sufficient.
type CredentialPair struct {
	IPs       []string `koanf:"ips"`
	Passwords []string `koanf:"passwords"`
}

// StreamingConfig shapes how cached streamed responses are replayed.
type StreamingConfig struct {
	ReplayCachedStreams bool `koanf:"replayCachedStreams"`
	ChunkSize           int  `koanf:"chunkSize"`
	DelayMs             int  `koanf:"delayMs"`
}

// CORSConfig enables response header injection for browser callers.
type CORSConfig struct {
	Enabled        bool     `koanf:"enabled"`
	AllowedOrigins []string `koanf:"allowedOrigins"`
}

// DefaultConfig returns the baseline every load starts from.
func DefaultConfig() Config {
	return Config{
		Upstream: UpstreamConfig{TimeoutSeconds: 120},
		Listen:   ListenConfig{Address: "0.0.0.0", Port: 8080},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Memory: MemoryConfig{
			Enabled:             true,
			TTLSeconds:          300,
			MaxEntries:          100,
			PromotionTTLSeconds: 60,
		},
		Disk: DiskConfig{
			Enabled:                true,
			Path:                   "./shieldcache.db",
			TTLSeconds:             3600,
			MaxSizeBytes:           100 << 20,
			CleanupIntervalSeconds: 60,
		},
		Remote: RemoteConfig{TTLSeconds: 3600},
		Streaming: StreamingConfig{ChunkSize: 4096, DelayMs: 50},
	}
}

// Validate rejects configurations the runtime cannot act on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Upstream.URL) == "" {
		return errors.New("config: upstream.url required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("config: upstream.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: upstream.url must be http or https, got %q", u.Scheme)
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port %d out of range", c.Listen.Port)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return errors.New("config: upstream.timeoutSeconds must not be negative")
	}
	if c.Memory.TTLSeconds < 0 || c.Disk.TTLSeconds < 0 || c.Remote.TTLSeconds < 0 {
		return errors.New("config: cache ttlSeconds must not be negative")
	}
	if c.Memory.Enabled && c.Memory.MaxEntries <= 0 {
		return errors.New("config: memory.maxEntries must be positive when the memory tier is enabled")
	}
	if c.Disk.Enabled && strings.TrimSpace(c.Disk.Path) == "" {
		return errors.New("config: disk.path required when the disk tier is enabled")
	}
	if c.Remote.Enabled && strings.TrimSpace(c.Remote.Address) == "" {
		return errors.New("config: remote.address required when the remote tier is enabled")
	}
	if c.Streaming.ChunkSize <= 0 {
		return errors.New("config: streaming.chunkSize must be positive")
	}
	for i, rule := range c.Rules {
		if strings.TrimSpace(rule.PathPattern) == "" {
			return fmt.Errorf("config: rules[%d].pathPattern required", i)
		}
		if rule.TTLSeconds < 0 {
			return fmt.Errorf("config: rules[%d].ttlSeconds must not be negative", i)
		}
	}
	return nil
}

// UpstreamURL returns the parsed origin URL. Validate must have passed.
func (c Config) UpstreamURL() *url.URL {
	u, _ := url.Parse(c.Upstream.URL)
	return u
}

// UpstreamTimeout returns the upstream client timeout, zero meaning none.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}
