// Package cachemanager provides a typed TTL cache used to keep recent
// generations retrievable by ID.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a typed key/value cache with per-item TTLs.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	Len() int
}
