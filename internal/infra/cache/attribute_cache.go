// Package cache holds the tier-aware attribute cache. Confidential values
// are encrypted before storage; restricted values are never stored.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/attriq/attriq/internal/domain"
	gencache "github.com/attriq/attriq/pkg/cache"
)

// TTLPolicy maps sensitivity tiers to cache lifetimes. Restricted has no
// entry because restricted values are never cached.
type TTLPolicy struct {
	Public       time.Duration
	Internal     time.Duration
	Confidential time.Duration
}

// DefaultTTLPolicy mirrors the deployment defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Public:       time.Hour,
		Internal:     30 * time.Minute,
		Confidential: 5 * time.Minute,
	}
}

// TTLFor returns the lifetime for one tier, zero for restricted.
func (p TTLPolicy) TTLFor(tier domain.SensitivityTier) time.Duration {
	switch tier {
	case domain.TierPublic:
		return p.Public
	case domain.TierInternal:
		return p.Internal
	case domain.TierConfidential:
		return p.Confidential
	default:
		return 0
	}
}

// entry is the stored shape. For confidential tiers Sealed holds the
// encrypted value and Value is nil.
type entry struct {
	Attr   domain.SensitiveAttribute
	Sealed *domain.EncryptedBlob
}

// AttributeCache implements domain.AttributeCache over the generic TTL
// cache, keyed by "connectionID/attributeName".
type AttributeCache struct {
	store   gencache.Store[string, entry]
	secrets domain.SecretsStore
	policy  TTLPolicy
	logger  *slog.Logger
}

func NewAttributeCache(secrets domain.SecretsStore, policy TTLPolicy, cleanupInterval time.Duration, logger *slog.Logger, opts ...gencache.Option[string, entry]) *AttributeCache {
	if cleanupInterval > 0 {
		opts = append(opts, gencache.WithCleanupInterval[string, entry](cleanupInterval))
	}
	return &AttributeCache{
		store:   gencache.New[string, entry](opts...),
		secrets: secrets,
		policy:  policy,
		logger:  logger,
	}
}

func cacheKey(connectionID, attributeName string) string {
	return connectionID + "/" + attributeName
}

// Get returns the cached attribute, decrypting confidential values. A
// decryption failure is treated as a miss so the resolver re-fetches, but
// is logged at error severity since it may indicate tampering.
func (c *AttributeCache) Get(ctx context.Context, connectionID, attributeName string) (*domain.SensitiveAttribute, bool) {
	cached, found := c.store.Get(ctx, cacheKey(connectionID, attributeName))
	if !found {
		return nil, false
	}

	attr := cached.Attr
	if cached.Sealed != nil {
		plaintext, err := c.secrets.Open(*cached.Sealed)
		if err != nil {
			c.logger.ErrorContext(ctx, "cached value failed to decrypt, treating as miss",
				"connection_id", connectionID,
				"attribute", attributeName,
				"error", err)
			c.store.Delete(ctx, cacheKey(connectionID, attributeName))
			return nil, false
		}
		var value any
		if err := json.Unmarshal(plaintext, &value); err != nil {
			c.logger.ErrorContext(ctx, "cached value failed to deserialize, treating as miss",
				"connection_id", connectionID,
				"attribute", attributeName,
				"error", err)
			c.store.Delete(ctx, cacheKey(connectionID, attributeName))
			return nil, false
		}
		attr.Value = value
	}

	return &attr, true
}

// Put caches one attribute according to its tier. Restricted values are
// dropped. Failures are logged and swallowed; caching is fire-and-forget
// with respect to resolution.
func (c *AttributeCache) Put(ctx context.Context, connectionID string, attr domain.SensitiveAttribute) {
	if !attr.Sensitivity.Cacheable() {
		return
	}

	ttl := c.policy.TTLFor(attr.Sensitivity)
	if ttl <= 0 {
		return
	}

	stored := entry{Attr: attr}
	stored.Attr.CacheTTL = ttl

	serialized, err := json.Marshal(attr.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to serialize attribute for caching",
			"connection_id", connectionID,
			"attribute", attr.Name,
			"error", err)
		return
	}

	cost := int64(len(serialized)) + int64(len(attr.Name))

	if attr.Sensitivity.RequiresEncryptionAtRest() {
		blob, err := c.secrets.Seal(serialized)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to encrypt attribute for caching",
				"connection_id", connectionID,
				"attribute", attr.Name,
				"error", err)
			return
		}
		stored.Sealed = &blob
		stored.Attr.Value = nil
		stored.Attr.IsEncrypted = true
		cost = int64(len(blob.Ciphertext)) + int64(len(attr.Name))
	}

	c.store.SetWithCost(ctx, cacheKey(connectionID, attr.Name), stored, ttl, cost)
}

// Evict removes every entry for a connection.
func (c *AttributeCache) Evict(ctx context.Context, connectionID string) {
	prefix := connectionID + "/"
	removed := c.store.DeleteFunc(ctx, func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	c.logger.InfoContext(ctx, "evicted cache entries", "connection_id", connectionID, "count", removed)
}

// Stats reports entry count and approximate memory use.
func (c *AttributeCache) Stats(ctx context.Context) domain.CacheStats {
	return domain.CacheStats{
		Count:       c.store.Count(),
		ApproxBytes: c.store.ApproxBytes(),
	}
}

// Stop terminates the background cleanup goroutine.
func (c *AttributeCache) Stop() {
	c.store.Stop()
}
