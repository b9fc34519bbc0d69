package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := New[string, int]()
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)

	got, found := c.Get(ctx, "a")
	require.True(t, found)
	assert.Equal(t, 1, got)
}

func TestGet_Expired(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	c := New[string, int](WithClock[string, int](clock))
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", 1, 30*time.Minute)

	_, found := c.Get(ctx, "a")
	require.True(t, found)

	mu.Lock()
	now = now.Add(30*time.Minute + time.Second)
	mu.Unlock()

	_, found = c.Get(ctx, "a")
	assert.False(t, found)
}

func TestDeleteFunc(t *testing.T) {
	c := New[string, int]()
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "conn1/email", 1, time.Minute)
	c.Set(ctx, "conn1/name", 2, time.Minute)
	c.Set(ctx, "conn2/email", 3, time.Minute)

	removed := c.DeleteFunc(ctx, func(k string) bool {
		return strings.HasPrefix(k, "conn1/")
	})

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Count())

	_, found := c.Get(ctx, "conn2/email")
	assert.True(t, found)
}

func TestApproxBytes(t *testing.T) {
	c := New[string, string]()
	defer c.Stop()
	ctx := context.Background()

	c.SetWithCost(ctx, "a", "value", time.Minute, 100)
	c.SetWithCost(ctx, "b", "value", time.Minute, 50)
	assert.Equal(t, int64(150), c.ApproxBytes())

	// Overwriting replaces the previous cost.
	c.SetWithCost(ctx, "a", "value2", time.Minute, 20)
	assert.Equal(t, int64(70), c.ApproxBytes())

	c.Delete(ctx, "b")
	assert.Equal(t, int64(20), c.ApproxBytes())

	c.Clear(ctx)
	assert.Zero(t, c.ApproxBytes())
	assert.Zero(t, c.Count())
}
