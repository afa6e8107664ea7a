// Package cache fronts the subscription resolver with a small TTL-bounded LRU.
package cache

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	billing "pharmacy-billing/internal/billing/domain"
	"pharmacy-billing/internal/observability/metrics"
)

const defaultSize = 1024

// SubscriptionCache caches positive subscription lookups per merchant. Misses
// and errors always go to the underlying resolver so a newly activated
// subscription is seen on the next call.
type SubscriptionCache struct {
	next  billing.SubscriptionResolver
	cache *lru.LRU[string, billing.ResolvedSubscription]
}

// NewSubscriptionCache wraps next. A non-positive ttl disables caching and
// returns next unchanged.
func NewSubscriptionCache(next billing.SubscriptionResolver, size int, ttl time.Duration) (billing.SubscriptionResolver, error) {
	if next == nil {
		return nil, errors.New("subscription cache: nil resolver")
	}
	if ttl <= 0 {
		return next, nil
	}
	if size <= 0 {
		size = defaultSize
	}
	return &SubscriptionCache{
		next:  next,
		cache: lru.NewLRU[string, billing.ResolvedSubscription](size, nil, ttl),
	}, nil
}

// ResolveActiveSubscription serves from cache or delegates.
func (c *SubscriptionCache) ResolveActiveSubscription(ctx context.Context, merchantID string) (*billing.ResolvedSubscription, error) {
	if resolved, ok := c.cache.Get(merchantID); ok {
		metrics.IncSubscriptionLookup(true)
		return &resolved, nil
	}
	metrics.IncSubscriptionLookup(false)
	resolved, err := c.next.ResolveActiveSubscription(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(merchantID, *resolved)
	return resolved, nil
}
