package selection

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rmax-ai/rolematch/pkg/matcher"
)

// DefaultCacheSize bounds an in-process facility cache.
const DefaultCacheSize = 256

// LRUCache is an in-process Cache with per-entry expiry.
type LRUCache struct {
	lru *expirable.LRU[string, matcher.FacilityInfo]
}

// NewLRUCache creates a cache holding at most size entries for ttl each.
// ttl <= 0 disables expiry.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &LRUCache{lru: expirable.NewLRU[string, matcher.FacilityInfo](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, featureID string) (matcher.FacilityInfo, bool) {
	return c.lru.Get(featureID)
}

func (c *LRUCache) Set(_ context.Context, featureID string, info matcher.FacilityInfo) {
	c.lru.Add(featureID, info)
}

func (c *LRUCache) Invalidate(_ context.Context, featureID string) {
	c.lru.Remove(featureID)
}
