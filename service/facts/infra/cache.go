package infra

import (
	"context"
	"time"

	"profile-gateway/service/facts/domain"
)

// StoreCache is the response cache layered on the shared store. A store
// failure reads as a miss and write failures are dropped: caching is an
// optimization here, the unconfigured-store policy is decided at wiring
// time.
type StoreCache struct {
	store  domain.Store
	prefix string
}

var _ domain.Cache = (*StoreCache)(nil)

type CacheOption func(*StoreCache)

func WithCachePrefix(prefix string) CacheOption {
	return func(c *StoreCache) { c.prefix = prefix }
}

func NewStoreCache(store domain.Store, opts ...CacheOption) *StoreCache {
	c := &StoreCache{store: store, prefix: "cache:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StoreCache) Lookup(ctx context.Context, key domain.Key) ([]byte, bool) {
	v, ok, err := c.store.Get(ctx, c.prefix+key.String())
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}

func (c *StoreCache) Store(ctx context.Context, key domain.Key, body []byte, ttl time.Duration) {
	if ttl <= 0 || len(body) == 0 {
		return
	}
	_ = c.store.SetEX(ctx, c.prefix+key.String(), body, ttl)
}
