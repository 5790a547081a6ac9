// Package redis registers a Redis-backed profile cache store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultRetention = 7 * 24 * time.Hour

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProfileCacheStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHAT_SERVICE_REDIS_URL is required")
	}
	retention := cfg.ProfileCacheRetention
	if retention <= 0 {
		retention = defaultRetention
	}
	return LoadFromURL(ctx, cfg.RedisURL, retention)
}

// LoadFromURL creates a ProfileCacheStore from a Redis-compatible URL.
// The retention controls how long entries are kept in Redis; it must be
// longer than the logical freshness TTL so expired entries stay
// available for stale fallback.
func LoadFromURL(ctx context.Context, redisURL string, retention time.Duration) (registrycache.ProfileCacheStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &redisProfileCache{client: client, retention: retention}, nil
}

type redisProfileCache struct {
	client    *goredis.Client
	retention time.Duration
}

func profileKey(uuid string) string {
	return "profile:" + uuid
}

func (c *redisProfileCache) Available() bool {
	return true
}

func (c *redisProfileCache) Get(ctx context.Context, uuid string) (*registrycache.Entry, error) {
	data, err := c.client.Get(ctx, profileKey(uuid)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry registrycache.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *redisProfileCache) Set(ctx context.Context, entry registrycache.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKey(entry.UUID), data, c.retention).Err()
}

var _ registrycache.ProfileCacheStore = (*redisProfileCache)(nil)
