package entitlement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scorely/scorely/tier"

	"github.com/go-redis/redis/v7"
)

// FeatureCache stores the last known feature map per user. Only the fail-open
// path of feature checks reads it; quota decisions never consult a cache
type FeatureCache interface {
	GetFeatures(userID string) (map[tier.Feature]bool, bool)
	SetFeatures(userID string, features map[tier.Feature]bool) error
}

// RedisFeatureCache is a short-TTL FeatureCache on Redis. A stale entry can
// only over-grant boolean flags for the TTL window, which is the accepted
// trade-off of failing open
type RedisFeatureCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisFeatureCache will create a FeatureCache backed by Redis
func NewRedisFeatureCache(client redis.UniversalClient, ttl time.Duration) (*RedisFeatureCache, error) {
	if client == nil {
		return nil, fmt.Errorf("nil redis client is invalid")
	}
	if ttl <= 0 {
		ttl = time.Minute * 5
	}
	return &RedisFeatureCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func cacheKey(userID string) string {
	return "entitlement:features:" + userID
}

// GetFeatures returns the cached feature map, if any
func (c *RedisFeatureCache) GetFeatures(userID string) (map[tier.Feature]bool, bool) {
	payload, err := c.client.Get(cacheKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var features map[tier.Feature]bool
	if err := json.Unmarshal(payload, &features); err != nil {
		return nil, false
	}
	return features, true
}

// SetFeatures refreshes the cached feature map
func (c *RedisFeatureCache) SetFeatures(userID string, features map[tier.Feature]bool) error {
	payload, err := json.Marshal(features)
	if err != nil {
		return err
	}
	return c.client.Set(cacheKey(userID), payload, c.ttl).Err()
}
