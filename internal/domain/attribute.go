package domain

import (
	"context"
	"time"
)

// SensitiveAttribute is the runtime result of resolving one attribute for
// one connection and subject. Instances are immutable; a refresh produces a
// new value rather than mutating a cached one.
type SensitiveAttribute struct {
	Name        string          `json:"name"`
	Value       any             `json:"value"`
	Sensitivity SensitivityTier `json:"sensitivity"`
	IsEncrypted bool            `json:"is_encrypted"`
	CacheTTL    time.Duration   `json:"cache_ttl"`
	LastUpdated time.Time       `json:"last_updated"`
}

// AttributeError marks one attribute that could not be resolved. Resolution
// returns these alongside successful values so a partially failed batch is
// never a total failure.
type AttributeError struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// ResolveResult is the merged outcome of one resolve call: successfully
// resolved attributes plus per-attribute error markers.
type ResolveResult struct {
	Attributes map[string]SensitiveAttribute `json:"attributes"`
	Errors     []AttributeError              `json:"errors,omitempty"`
}

// CacheStats summarizes the attribute cache for the admin endpoint.
type CacheStats struct {
	Count       int   `json:"count"`
	ApproxBytes int64 `json:"approx_bytes"`
}

// AttributeCache is the tier-aware TTL cache consulted before any backend
// fetch. Implementations must be safe for concurrent use and must degrade
// to a miss rather than surfacing backend failures.
type AttributeCache interface {
	Get(ctx context.Context, connectionID, attributeName string) (*SensitiveAttribute, bool)
	Put(ctx context.Context, connectionID string, attr SensitiveAttribute)
	Evict(ctx context.Context, connectionID string)
	Stats(ctx context.Context) CacheStats
}
