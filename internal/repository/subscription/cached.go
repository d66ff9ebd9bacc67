package subscription

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kailas-cloud/entitled/internal/domain/subscription"
)

// Source is a subscription store.
type Source interface {
	Get(ctx context.Context, userID string) (subscription.Subscription, error)
	Save(ctx context.Context, sub subscription.Subscription) error
}

// Cached decorates a Source with an in-process TTL cache. Misses are not cached.
type Cached struct {
	src   Source
	cache *cache.Cache
}

// NewCached wraps src with a cache of the given TTL.
func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{src: src, cache: cache.New(ttl, 2*ttl)}
}

// Get returns a cached subscription or loads it from the source.
func (c *Cached) Get(ctx context.Context, userID string) (subscription.Subscription, error) {
	if v, found := c.cache.Get(userID); found {
		if sub, ok := v.(subscription.Subscription); ok {
			return sub, nil
		}
	}
	sub, err := c.src.Get(ctx, userID)
	if err != nil {
		return subscription.Subscription{}, err //nolint:wrapcheck // decorator keeps the source's error
	}
	c.cache.Set(userID, sub, cache.DefaultExpiration)
	return sub, nil
}

// Save writes through to the source and drops the cached entry. The entry is
// dropped again after the write, since a Get during it may cache the old row.
func (c *Cached) Save(ctx context.Context, sub subscription.Subscription) error {
	c.cache.Delete(sub.UserID())
	if err := c.src.Save(ctx, sub); err != nil {
		return err //nolint:wrapcheck // decorator keeps the source's error
	}
	c.cache.Delete(sub.UserID())
	return nil
}
