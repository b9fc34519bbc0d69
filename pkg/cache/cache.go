package cache

import (
	"context"
	"time"
)

// Reader defines the read side of a cache, including size accounting.
type Reader[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Count() int
	ApproxBytes() int64
}

// Writer defines the write side of a cache.
type Writer[K comparable, V any] interface {
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	SetWithCost(ctx context.Context, key K, value V, ttl time.Duration, cost int64)
	Delete(ctx context.Context, key K)
	DeleteFunc(ctx context.Context, match func(K) bool) int
	Clear(ctx context.Context)
}

// Store combines read, write, and lifecycle operations.
type Store[K comparable, V any] interface {
	Reader[K, V]
	Writer[K, V]
	Stop()
}

var _ Store[string, int] = (*Cache[string, int])(nil)
