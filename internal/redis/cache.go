package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles read-model caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	OrderStatusCacheTTL    = 5 * time.Second // Payment state flips on callbacks
	DeliveryTierCacheTTL   = 10 * time.Minute
	IdempotencyCacheTTL    = 24 * time.Hour
	IdempotencyInFlightTTL = 30 * time.Second
)

// Key prefixes
const (
	orderStatusPrefix = "cache:order-status:"
	deliveryTiersKey  = "cache:delivery-tiers"
	idempotencyPrefix = "idempotency:"
)

// OrderStatusKey is the cache key of the public status view for an order number.
func OrderStatusKey(orderNumber string) string {
	return orderStatusPrefix + orderNumber
}

// DeliveryTiersKey is the cache key of the delivery location list.
func DeliveryTiersKey() string {
	return deliveryTiersKey
}

// IdempotencyKey is the key under which a replayable response is stored.
func IdempotencyKey(scope, key string) string {
	return idempotencyPrefix + scope + ":" + key
}

// GetJSON loads the value at key into dst. Returns false on a cache miss.
func (s *CacheStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores v at key for ttl.
func (s *CacheStore) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// SetJSONIfAbsent stores v at key only if nothing is there yet. Returns false when the key exists.
func (s *CacheStore) SetJSONIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, key, data, ttl).Result()
}

// Invalidate removes keys from cache.
func (s *CacheStore) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
