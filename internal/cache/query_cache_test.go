package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryCache_GetPut(t *testing.T) {
	c := NewQueryCache[string](4, time.Minute)

	_, ok := c.Get(Key("demo", "SELECT 1"))
	assert.False(t, ok)

	c.Put(Key("demo", "SELECT 1"), "demo", 0, "one")
	v, ok := c.Get(Key("demo", "SELECT 1"))
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	c.Put(Key("demo", "SELECT 1"), "demo", 0, "uno")
	v, _ = c.Get(Key("demo", "SELECT 1"))
	assert.Equal(t, "uno", v)
	assert.Equal(t, 1, c.Len())
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache[int](2, time.Minute)
	c.Put(1, "a", 0, 1)
	c.Put(2, "a", 0, 2)
	_, _ = c.Get(1)
	c.Put(3, "a", 0, 3)

	_, ok := c.Get(2)
	assert.False(t, ok)
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestQueryCache_Expiry(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewQueryCache[int](2, time.Second)
	c.now = func() time.Time { return now }

	c.Put(1, "a", 0, 1)
	now = now.Add(2 * time.Second)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestQueryCache_InvalidateDataset(t *testing.T) {
	c := NewQueryCache[int](8, time.Minute)
	c.Put(Key("a", "q1"), "a", 0, 1)
	c.Put(Key("a", "q2"), "a", 0, 2)
	c.Put(Key("b", "q1"), "b", 0, 3)

	assert.Equal(t, 2, c.InvalidateDataset("a"))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(Key("b", "q1"))
	assert.True(t, ok)
}

func TestQueryCache_Disabled(t *testing.T) {
	c := NewQueryCache[int](0, time.Minute)
	c.Put(1, "a", 0, 1)
	_, ok := c.Get(1)
	assert.False(t, ok)

	var nilCache *QueryCache[int]
	nilCache.Put(1, "a", 0, 1)
	_, ok = nilCache.Get(1)
	assert.False(t, ok)
	assert.Zero(t, nilCache.InvalidateDataset("a"))
}

func TestKey_SeparatesFields(t *testing.T) {
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Equal(t, Key("a", "SELECT 1"), Key("a", "SELECT 1"))
}

func TestQueryCache_PutAfterInvalidateIsDropped(t *testing.T) {
	c := NewQueryCache[int](8, time.Minute)
	key := Key("a", "q")

	gen := c.Generation("a")
	c.InvalidateDataset("a")
	assert.False(t, c.Put(key, "a", gen, 1))
	_, ok := c.Get(key)
	assert.False(t, ok)

	assert.True(t, c.Put(key, "a", c.Generation("a"), 2))
	v, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.True(t, c.Put(Key("b", "q"), "b", c.Generation("b"), 3))
}
