package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attriq/attriq/internal/domain"
	"github.com/attriq/attriq/internal/infra/secrets"
	gencache "github.com/attriq/attriq/pkg/cache"
)

type nopAuditLogger struct{}

func (nopAuditLogger) Record(ctx context.Context, entry domain.AuditEntry) {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T) (*AttributeCache, *testClock) {
	t.Helper()
	keys, err := secrets.NewLocalKeyProvider("cache-test-pass", []byte("cache-test-salt"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := secrets.NewStore(keys, secrets.NewMemoryBlobRepository(), nopAuditLogger{}, logger)

	clock := &testClock{now: time.Now()}
	c := NewAttributeCache(store, DefaultTTLPolicy(), 0, logger,
		gencache.WithClock[string, entry](clock.Now))
	t.Cleanup(c.Stop)
	return c, clock
}

func attr(name string, value any, tier domain.SensitivityTier) domain.SensitiveAttribute {
	return domain.SensitiveAttribute{
		Name:        name,
		Value:       value,
		Sensitivity: tier,
		LastUpdated: time.Now().UTC(),
	}
}

func TestPutAndGet_Internal(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("department", "engineering", domain.TierInternal))

	got, found := c.Get(ctx, "conn1", "department")
	require.True(t, found)
	assert.Equal(t, "engineering", got.Value)
	assert.False(t, got.IsEncrypted)
	assert.Equal(t, 30*time.Minute, got.CacheTTL)
}

func TestPut_RestrictedNeverCached(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("user.ssn", "123-45-6789", domain.TierRestricted))

	_, found := c.Get(ctx, "conn1", "user.ssn")
	assert.False(t, found)
	assert.Zero(t, c.Stats(ctx).Count)
}

func TestPut_ConfidentialEncrypted(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("user.email", "u1@example.com", domain.TierConfidential))

	got, found := c.Get(ctx, "conn1", "user.email")
	require.True(t, found)
	assert.Equal(t, "u1@example.com", got.Value)
	assert.True(t, got.IsEncrypted)
	assert.Equal(t, 5*time.Minute, got.CacheTTL)
}

func TestGet_CorruptedSealedEntryIsMissAndRemoved(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("user.email", "u1@example.com", domain.TierConfidential))

	key := cacheKey("conn1", "user.email")
	stored, found := c.store.Get(ctx, key)
	require.True(t, found)
	require.NotNil(t, stored.Sealed)

	// Flip a ciphertext byte so GCM authentication fails on the next read.
	stored.Sealed.Ciphertext[len(stored.Sealed.Ciphertext)-1] ^= 0xFF
	c.store.Set(ctx, key, stored, time.Minute)

	_, found = c.Get(ctx, "conn1", "user.email")
	assert.False(t, found)

	// The tampered entry must be gone, not just skipped.
	_, found = c.store.Get(ctx, key)
	assert.False(t, found)
	assert.Zero(t, c.Stats(ctx).Count)
}

func TestTTLExpiry_Internal(t *testing.T) {
	c, clock := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("department", "engineering", domain.TierInternal))

	_, found := c.Get(ctx, "conn1", "department")
	require.True(t, found)

	clock.Advance(1800*time.Second + time.Second)

	_, found = c.Get(ctx, "conn1", "department")
	assert.False(t, found)
}

func TestEvict_RemovesOnlyConnection(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("a", 1, domain.TierInternal))
	c.Put(ctx, "conn1", attr("b", 2, domain.TierInternal))
	c.Put(ctx, "conn2", attr("a", 3, domain.TierInternal))

	c.Evict(ctx, "conn1")

	_, found := c.Get(ctx, "conn1", "a")
	assert.False(t, found)
	_, found = c.Get(ctx, "conn2", "a")
	assert.True(t, found)
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "conn1", attr("a", "some value", domain.TierInternal))
	c.Put(ctx, "conn1", attr("b", "another value", domain.TierPublic))

	stats := c.Stats(ctx)
	assert.Equal(t, 2, stats.Count)
	assert.Greater(t, stats.ApproxBytes, int64(0))
}
