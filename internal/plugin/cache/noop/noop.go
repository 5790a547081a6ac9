// Package noop registers a disabled profile cache store. Every lookup
// misses, so every request goes to the external identity service.
package noop

import (
	"context"

	registrycache "github.com/chirino/chat-service/internal/registry/cache"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "none",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProfileCacheStore, error) {
	return noopCache{}, nil
}

type noopCache struct{}

func (noopCache) Available() bool { return false }

func (noopCache) Get(ctx context.Context, uuid string) (*registrycache.Entry, error) {
	return nil, nil
}

func (noopCache) Set(ctx context.Context, entry registrycache.Entry) error {
	return nil
}

var _ registrycache.ProfileCacheStore = noopCache{}
