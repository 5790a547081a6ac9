package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProfileKind distinguishes user and business profiles.
type ProfileKind string

const (
	ProfileKindUser     ProfileKind = "user"
	ProfileKindBusiness ProfileKind = "business"
)

// Entry is one cached profile. FetchedAt drives the logical TTL; cache
// backends retain entries past the TTL so stale values remain available
// when the external identity service is down. Freshness is always the
// reader's decision, never the backend's.
type Entry struct {
	UUID      string          `json:"uuid"`
	Kind      ProfileKind     `json:"kind"`
	Profile   json.RawMessage `json:"profile"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// ProfileCacheStore is the storage backend behind the profile cache.
// Implementations must be safe for concurrent use.
type ProfileCacheStore interface {
	Available() bool
	Get(ctx context.Context, uuid string) (*Entry, error)
	Set(ctx context.Context, entry Entry) error
}

// Loader creates a ProfileCacheStore from config.
type Loader func(ctx context.Context) (ProfileCacheStore, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
