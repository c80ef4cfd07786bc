package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/matcher"
)

// FeatureCache stores facility lookups as JSON keyed by feature id.
// Failures are logged and reported as misses.
type FeatureCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewFeatureCache creates a cache. ttl <= 0 keeps entries until invalidated.
func NewFeatureCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *FeatureCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeatureCache{client: client, ttl: ttl, logger: logger}
}

func (c *FeatureCache) makeKey(featureID string) string {
	return fmt.Sprintf("rolematch:feature:%s", featureID)
}

func (c *FeatureCache) Set(ctx context.Context, featureID string, info matcher.FacilityInfo) {
	key := c.makeKey(featureID)
	data, err := json.Marshal(info)
	if err != nil {
		c.logger.Warn("failed to marshal facility", zap.String("feature_id", featureID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to SET feature", zap.String("key", key), zap.Error(err))
	}
}

func (c *FeatureCache) Get(ctx context.Context, featureID string) (matcher.FacilityInfo, bool) {
	key := c.makeKey(featureID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to GET feature", zap.String("key", key), zap.Error(err))
		}
		return matcher.FacilityInfo{}, false
	}
	var info matcher.FacilityInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		c.logger.Warn("failed to unmarshal feature", zap.String("key", key), zap.Error(err))
		return matcher.FacilityInfo{}, false
	}
	return info, true
}

// Invalidate drops one entry so the next Get misses.
func (c *FeatureCache) Invalidate(ctx context.Context, featureID string) {
	key := c.makeKey(featureID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("failed to DEL feature", zap.String("key", key), zap.Error(err))
	}
}
