package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMiss", testGetMiss},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsOldest", testSetOverMaxSizeEvictsOldest},
		{"InvalidatePrefix", testInvalidatePrefix},
		{"InvalidateAllClearsCache", testInvalidateAllClearsCache},
		{"ConcurrentAccess", testConcurrentAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.Set("key1", "value1")

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", got)
}

func testGetMiss(t *testing.T) {
	c := NewLRUCache[*int](10, time.Minute)

	got, ok := c.Get("nonexistent")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func testGetExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewLRUCache[int](10, 5*time.Minute)
	c.now = clock.Now
	c.Set("key1", 1)

	clock.Advance(4 * time.Minute)
	_, ok := c.Get("key1")
	require.True(t, ok, "entry should survive until its TTL")

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry should be lazily removed")
}

func testSetOverMaxSizeEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := NewLRUCache[string](3, time.Hour)
	c.now = clock.Now

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
		clock.Advance(time.Millisecond)
	}
	c.Set("d", "d")

	assert.Equal(t, 3, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}

	// Overwriting an existing key never evicts.
	c.Set("b", "b2")
	assert.Equal(t, 3, c.Size())
}

func testInvalidatePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("fields:s1:false", 1)
	c.Set("fields:s1:true", 2)
	c.Set("fields:s2:false", 3)

	assert.Equal(t, 2, c.InvalidatePrefix("fields:s1:"))
	_, ok := c.Get("fields:s2:false")
	assert.True(t, ok)
}

func testInvalidateAllClearsCache(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("key1", 1)
	c.Set("key2", 2)

	c.InvalidateAll()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache[int](50, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%10)
			c.Set(key, i)
			c.Get(key)
			c.InvalidatePrefix("key-1")
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 10)
}
