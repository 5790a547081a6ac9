// Package memory registers an in-process profile cache store backed by
// ristretto. This is the default backend for single-node deployments.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/config"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultRetention = 7 * 24 * time.Hour

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProfileCacheStore, error) {
	cfg := config.FromContext(ctx)
	retention := defaultRetention
	if cfg != nil && cfg.ProfileCacheRetention > 0 {
		retention = cfg.ProfileCacheRetention
	}
	return New(retention)
}

// New creates an in-memory ProfileCacheStore. Entries are retained for
// the given duration; the retention must exceed the logical freshness
// TTL so expired entries stay available for stale fallback.
func New(retention time.Duration) (registrycache.ProfileCacheStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, registrycache.Entry]{
		NumCounters: 100_000,
		MaxCost:     50 * 1024 * 1024, // bytes
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &memoryProfileCache{cache: cache, retention: retention}, nil
}

type memoryProfileCache struct {
	cache     *ristretto.Cache[string, registrycache.Entry]
	retention time.Duration
}

func (c *memoryProfileCache) Available() bool {
	return true
}

func (c *memoryProfileCache) Get(ctx context.Context, uuid string) (*registrycache.Entry, error) {
	entry, ok := c.cache.Get(uuid)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *memoryProfileCache) Set(ctx context.Context, entry registrycache.Entry) error {
	cost := int64(len(entry.Profile)) + int64(len(entry.UUID)) + 64
	c.cache.SetWithTTL(entry.UUID, entry, cost, c.retention)
	// Sets are buffered; waiting keeps read-your-write semantics, which
	// the coalescing layer relies on after a fetch.
	c.cache.Wait()
	return nil
}

var _ registrycache.ProfileCacheStore = (*memoryProfileCache)(nil)
