// Typed TTL caches with explicit purging.
//
// Includes an interface and implementations using redis and in-process memory. The warning escalator caches each community's punishment rules here, so a warning costs one settings query only on a miss.
package cachestore

import (
	"context"
)

type CacheStore[V any] interface {
	// ok is false on a miss
	Get(ctx context.Context, key string) (val V, ok bool, err error)
	Set(ctx context.Context, key string, val V) error
	// purging a missing key is not an error
	Purge(ctx context.Context, key string) error
}
