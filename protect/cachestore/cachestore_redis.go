package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// entries also held in process, briefly, in front of redis
const (
	localCacheSize = 1_000
	localCacheTTL  = time.Minute
)

// RedisCacheStore shares cached values (msgpack encoded) between processes. Each process keeps a small local copy, so a purge can take up to a minute to reach the others.
type RedisCacheStore[V any] struct {
	data   *cache.Cache
	prefix string
	ttl    time.Duration
}

func NewRedisCacheStore[V any](client *redis.Client, prefix string, ttl time.Duration) *RedisCacheStore[V] {
	return &RedisCacheStore[V]{
		data: cache.New(&cache.Options{
			Redis:      client,
			LocalCache: cache.NewTinyLFU(localCacheSize, min(ttl, localCacheTTL)),
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisCacheStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var val V
	err := s.data.Get(ctx, s.prefix+key, &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return val, false, nil
	}
	if err != nil {
		return val, false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore[V]) Set(ctx context.Context, key string, val V) error {
	return s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.prefix + key,
		Value: val,
		TTL:   s.ttl,
	})
}

func (s *RedisCacheStore[V]) Purge(ctx context.Context, key string) error {
	err := s.data.Delete(ctx, s.prefix+key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
