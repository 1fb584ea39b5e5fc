package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStability(t *testing.T) {
	assert.Equal(t, Fingerprint(3.14), Fingerprint(3.14))
	assert.NotEqual(t, Fingerprint(3.14), Fingerprint(2.71))

	// Same rendering, different dynamic type.
	assert.NotEqual(t, Fingerprint(int(1)), Fingerprint(uint(1)))
}

func TestAddAndContains(t *testing.T) {
	c := New[float64](NewLRU(4))

	assert.True(t, c.Add(1.0))
	assert.False(t, c.Add(1.0)) // duplicate counts as hit
	assert.True(t, c.Contains(1.0))
	assert.False(t, c.Contains(2.0))
	assert.Equal(t, 1, c.Len())
}

func TestCapacityBound(t *testing.T) {
	c := New[int](NewLRU(3))

	for i := 0; i < 10; i++ {
		c.Add(i)
		assert.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(7), c.Stats().Evictions)
}

func TestLRUEvictsLeastRecentlyAccessed(t *testing.T) {
	c := New[string](NewLRU(2))

	c.Add("a")
	c.Add("b")
	// Touch "a" so "b" becomes the LRU entry.
	require.True(t, c.Contains("a"))

	c.Add("c")

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestLFUEvictsLeastFrequent(t *testing.T) {
	c := New[string](NewLFU(2))

	c.Add("a")
	c.Add("b")
	// "a" is accessed twice more; "b" keeps its insertion frequency.
	c.Contains("a")
	c.Contains("a")

	c.Add("c")

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestLFUDeterministicTieBreak(t *testing.T) {
	// All entries have equal frequency; the oldest insertion must lose,
	// every time.
	for run := 0; run < 5; run++ {
		c := New[string](NewLFU(3))
		c.Add("first")
		c.Add("second")
		c.Add("third")

		c.Add("fourth")

		assert.False(t, c.Contains("first"), "run %d", run)
		assert.True(t, c.Contains("second"), "run %d", run)
		assert.True(t, c.Contains("third"), "run %d", run)
		assert.True(t, c.Contains("fourth"), "run %d", run)
	}
}

func TestZeroCapacityNeverCaches(t *testing.T) {
	c := New[int](NewLRU(0))

	assert.False(t, c.Add(1))
	assert.Equal(t, 0, c.Len())
}

func TestNilPolicyUnbounded(t *testing.T) {
	c := New[int](nil)

	for i := 0; i < 100; i++ {
		c.Add(i)
	}
	assert.Equal(t, 100, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestClear(t *testing.T) {
	c := New[string](NewLRU(4))

	c.Add("a")
	c.Add("b")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("a"))

	// The cache remains usable and bounded after Clear.
	for i := 0; i < 8; i++ {
		c.Add(fmt.Sprintf("v%d", i))
	}
	assert.Equal(t, 4, c.Len())
}

func TestStats(t *testing.T) {
	c := New[int](NewLRU(2))

	c.Add(1)
	c.Add(1)
	c.Contains(1)
	c.Contains(99)

	s := c.Stats()
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
}
