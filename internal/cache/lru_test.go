package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_Creation(t *testing.T) {
	testCases := []struct {
		name       string
		capacity   int
		defaultTTL time.Duration
		expectCap  int
	}{
		{"default values", 0, 0, 1000},
		{"custom capacity", 64, 0, 64},
		{"custom TTL", 0, 10 * time.Minute, 1000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRUCache[string, string](tc.capacity, tc.defaultTTL)
			assert.Equal(t, tc.expectCap, c.Capacity())
			assert.Equal(t, 0, c.Size())
		})
	}
}

func TestLRUCache_BasicSetGet(t *testing.T) {
	c := NewLRUCache[string, string](100, time.Minute)

	c.Set("session:abc123:intent", "book_flight", 0)
	val, ok := c.Get("session:abc123:intent")
	require.True(t, ok)
	assert.Equal(t, "book_flight", val)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)
	c.Set("turn:1", "completed", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("turn:1")
	assert.False(t, ok, "expired entry should not be returned")
}

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a") // touch a, making b the LRU candidate
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should have been evicted")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_Invalidate(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)
	c.Set("session:s1:slot:origin", "Beijing", 0)
	c.Set("session:s1:slot:destination", "Shanghai", 0)
	c.Set("session:s2:slot:origin", "Guangzhou", 0)

	removed := c.Invalidate("session:s1:*")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("session:s2:slot:origin")
	assert.True(t, ok)
}

func TestLRUCache_Remove(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)
	c.Set("key", 42, 0)
	assert.True(t, c.Remove("key"))
	assert.False(t, c.Remove("key"))
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)
	c.Set("short", 1, 5*time.Millisecond)
	c.Set("long", 2, time.Hour)
	time.Sleep(15 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())
}
