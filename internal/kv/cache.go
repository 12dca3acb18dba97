package kv

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/degov/workflow-core/domain/workflow"
)

// DefaultDefinitionCacheSize bounds how many (nsid, version) workflow definitions
// stay resident; the DSL parser's inheritance resolution is not free, and
// trigger_event re-reads the definition on every transition.
const DefaultDefinitionCacheSize = 512

// DefinitionCache is a read-through cache in front of a Store's workflow
// partition, mirroring infrastructure/cache's bounded, TTL-evicted entry
// map but backed by golang-lru's expirable list instead of a hand-rolled
// cleanup goroutine.
type DefinitionCache struct {
	store Store
	ks    Keyspace
	lru   *expirable.LRU[string, *workflow.Definition]
}

// NewDefinitionCache wraps store with an in-memory cache of resolved
// definitions, each entry valid for ttl before a re-fetch is forced.
func NewDefinitionCache(store Store, ks Keyspace, size int, ttlSeconds int) *DefinitionCache {
	if size <= 0 {
		size = DefaultDefinitionCacheSize
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DefinitionCache{
		store: store,
		ks:    ks,
		lru:   expirable.NewLRU[string, *workflow.Definition](size, nil, ttl),
	}
}

// Get returns the definition for nsid at version, reading through to the
// store and populating the cache on a miss.
func (c *DefinitionCache) Get(ctx context.Context, nsid, version string, load func(context.Context) (*workflow.Definition, error)) (*workflow.Definition, error) {
	cacheKey := nsid + "@" + version
	if def, ok := c.lru.Get(cacheKey); ok {
		return def, nil
	}
	def, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.lru.Add(cacheKey, def)
	return def, nil
}

// Invalidate drops every cached version of nsid, used after
// register_workflow publishes a new latest pointer.
func (c *DefinitionCache) Invalidate(nsid string) {
	for _, cacheKey := range c.lru.Keys() {
		if len(cacheKey) > len(nsid) && cacheKey[:len(nsid)] == nsid && cacheKey[len(nsid)] == '@' {
			c.lru.Remove(cacheKey)
		}
	}
}
