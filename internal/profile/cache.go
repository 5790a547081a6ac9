package profile

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	"github.com/chirino/chat-service/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// Cache resolves profiles through a ProfileCacheStore with a logical
// freshness TTL. Concurrent lookups for the same outstanding miss-set
// are coalesced into a single external call. External failures degrade
// to stale cached values or placeholders and are never returned to
// callers.
type Cache struct {
	store  registrycache.ProfileCacheStore
	client Client
	ttl    time.Duration

	mu       sync.Mutex
	inflight map[string]*fetchCall

	now func() time.Time
}

type fetchCall struct {
	done     chan struct{}
	profiles map[string]json.RawMessage
	err      error
}

// NewCache creates a Cache over the given store and external client.
// ttl is the logical freshness window; entries older than ttl are
// refetched but remain usable as stale fallback.
func NewCache(store registrycache.ProfileCacheStore, client Client, ttl time.Duration) *Cache {
	return &Cache{
		store:    store,
		client:   client,
		ttl:      ttl,
		inflight: map[string]*fetchCall{},
		now:      time.Now,
	}
}

// BatchFetch resolves the given user and business uuids to profiles.
// The result maps uuid to a profile document; every requested uuid is
// present, with placeholders standing in for profiles that could not be
// resolved. The returned error is non-nil only when ctx is done.
func (c *Cache) BatchFetch(ctx context.Context, userUUIDs, businessUUIDs []string) (map[string]json.RawMessage, error) {
	kinds := map[string]registrycache.ProfileKind{}
	for _, id := range userUUIDs {
		if id != "" {
			kinds[id] = registrycache.ProfileKindUser
		}
	}
	for _, id := range businessUUIDs {
		if id != "" {
			kinds[id] = registrycache.ProfileKindBusiness
		}
	}
	if len(kinds) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	result := make(map[string]json.RawMessage, len(kinds))
	stale := map[string]json.RawMessage{}
	var misses []string

	now := c.now()
	for id := range kinds {
		entry, err := c.store.Get(ctx, id)
		if err != nil {
			log.Warn("Profile cache read failed", "uuid", id, "err", err)
		}
		if entry != nil && now.Sub(entry.FetchedAt) < c.ttl {
			result[id] = entry.Profile
			inc(security.ProfileCacheHitsTotal)
			continue
		}
		if entry != nil {
			stale[id] = entry.Profile
		}
		misses = append(misses, id)
		inc(security.ProfileCacheMissesTotal)
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.fetchCoalesced(ctx, misses, kinds)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Profile fetch failed; serving stale/placeholder profiles", "err", &ExternalDependencyError{Cause: err}, "uuids", len(misses))
	}

	for _, id := range misses {
		if p, ok := fetched[id]; ok {
			result[id] = p
			continue
		}
		if p, ok := stale[id]; ok {
			result[id] = p
			inc(security.ProfileCacheStaleTotal)
			continue
		}
		result[id] = placeholderProfile(id, kinds[id])
		inc(security.ProfileCachePlaceholderTotal)
	}
	return result, nil
}

// fetchCoalesced performs one external call per distinct outstanding
// miss-set. Overlapping concurrent callers with the same miss-set wait
// on the in-flight call instead of issuing their own.
func (c *Cache) fetchCoalesced(ctx context.Context, misses []string, kinds map[string]registrycache.ProfileKind) (map[string]json.RawMessage, error) {
	sort.Strings(misses)
	key := strings.Join(misses, ",")

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.profiles, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		close(call.done)
	}()

	var userIDs, businessIDs []string
	for _, id := range misses {
		if kinds[id] == registrycache.ProfileKindBusiness {
			businessIDs = append(businessIDs, id)
		} else {
			userIDs = append(userIDs, id)
		}
	}

	inc(security.ProfileFetchesTotal)
	call.profiles, call.err = c.client.BatchFetch(ctx, userIDs, businessIDs)
	if call.err != nil {
		inc(security.ProfileFetchFailuresTotal)
		return nil, call.err
	}

	now := c.now()
	for id, p := range call.profiles {
		err := c.store.Set(ctx, registrycache.Entry{
			UUID:      id,
			Kind:      kinds[id],
			Profile:   p,
			FetchedAt: now,
		})
		if err != nil {
			log.Warn("Profile cache write failed", "uuid", id, "err", err)
		}
	}
	return call.profiles, nil
}

func placeholderProfile(uuid string, kind registrycache.ProfileKind) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"uuid":        uuid,
		"type":        string(kind),
		"placeholder": true,
	})
	return b
}

func inc(counter prometheus.Counter) {
	if counter != nil {
		counter.Inc()
	}
}
