package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemCacheStore is a size-bounded LRU whose entries also expire after a fixed TTL. Values are shared with callers, who must not mutate them.
type MemCacheStore[V any] struct {
	data *expirable.LRU[string, V]
}

func NewMemCacheStore[V any](capacity int, ttl time.Duration) *MemCacheStore[V] {
	return &MemCacheStore[V]{
		data: expirable.NewLRU[string, V](capacity, nil, ttl),
	}
}

func (s *MemCacheStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	v, ok := s.data.Get(key)
	return v, ok, nil
}

func (s *MemCacheStore[V]) Set(ctx context.Context, key string, val V) error {
	s.data.Add(key, val)
	return nil
}

func (s *MemCacheStore[V]) Purge(ctx context.Context, key string) error {
	s.data.Remove(key)
	return nil
}

func (s *MemCacheStore[V]) Len() int {
	return s.data.Len()
}
