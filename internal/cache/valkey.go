package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// TierRemote names the valkey-backed tier.
const TierRemote = "remote"

// RemoteConfig carries the connection settings for the optional remote tier.
type RemoteConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

type remoteStore struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// NewRemote connects to a valkey/redis server and verifies it with a ping.
func NewRemote(cfg RemoteConfig, defaultTTL time.Duration) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: remote address required")
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: remote client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: remote ping: %w", err)
	}

	return &remoteStore{client: client, defaultTTL: defaultTTL}, nil
}

func (c *remoteStore) Name() string { return TierRemote }

func (c *remoteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: remote get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: remote get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: remote unmarshal: %w", err)
	}
	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *remoteStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now.UTC()
	}
	entry.ExpiresAt = now.Add(ttl)
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: remote marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: remote set: %w", err)
	}
	return nil
}

func (c *remoteStore) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("cache: remote delete: %w", err)
	}
	return nil
}

func (c *remoteStore) Clear(ctx context.Context) error {
	if err := c.client.Do(ctx, c.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("cache: remote clear: %w", err)
	}
	return nil
}

func (c *remoteStore) Len(ctx context.Context) (int64, error) {
	count, err := c.client.Do(ctx, c.client.B().Dbsize().Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: remote len: %w", err)
	}
	return count, nil
}

func (c *remoteStore) Close(_ context.Context) error {
	c.client.Close()
	return nil
}
