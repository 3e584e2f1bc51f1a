package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareSlices(t *testing.T) {
	t.Run("should partition the elements of both slices", func(t *testing.T) {
		res := CompareSlices([]string{"a", "b", "c"}, []string{"b", "d"}, func(s string) string { return s })
		assert.Equal(t, []string{"a", "c"}, res.OnlyInA)
		assert.Equal(t, []string{"d"}, res.OnlyInB)
		assert.Equal(t, []string{"b"}, res.InBoth)
	})

	t.Run("should return empty partitions for empty inputs", func(t *testing.T) {
		res := CompareSlices([]string{}, nil, func(s string) string { return s })
		assert.Empty(t, res.OnlyInA)
		assert.Empty(t, res.OnlyInB)
		assert.Empty(t, res.InBoth)
	})
}

func TestDifferenceAndIntersect(t *testing.T) {
	t.Run("should deduplicate before comparing", func(t *testing.T) {
		assert.Equal(t, []int{1, 3}, Difference([]int{1, 1, 2, 3}, []int{2}))
		assert.Equal(t, []int{2}, Intersect([]int{1, 2, 2}, []int{2, 4}))
	})
}

func TestChunk(t *testing.T) {
	t.Run("should split into chunks of the given size", func(t *testing.T) {
		assert.Equal(t, [][]int{{1, 2}, {3}}, Chunk([]int{1, 2, 3}, 2))
	})
}

func TestSortedUniq(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SortedUniq([]string{"b", "a", "b"}))
}
