package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHungarianSquare(t *testing.T) {
	t.Parallel()

	cost := [][]float64{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	got := HungarianAssign(cost)
	require.Len(t, got, 3)
	// Optimal total cost is 5: (0,1)+(1,0)+(2,2).
	assert.Equal(t, []int{1, 0, 2}, got)
}

func TestHungarianAvoidsGreedyTrap(t *testing.T) {
	t.Parallel()

	// Greedy nearest-neighbour assigns row 0 to column 0 (cost 1) and
	// forces row 1 to column 1 (cost 10, total 11). Optimal is the
	// cross-assignment with total 4.
	cost := [][]float64{
		{1, 2},
		{2, 10},
	}
	got := HungarianAssign(cost)
	assert.Equal(t, []int{1, 0}, got)
}

func TestHungarianRectangular(t *testing.T) {
	t.Parallel()

	t.Run("more rows than columns", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{1},
			{2},
			{3},
		}
		got := HungarianAssign(cost)
		require.Len(t, got, 3)
		assert.Equal(t, 0, got[0])
		assert.Equal(t, -1, got[1])
		assert.Equal(t, -1, got[2])
	})

	t.Run("more columns than rows", func(t *testing.T) {
		t.Parallel()
		cost := [][]float64{
			{5, 1, 9},
		}
		got := HungarianAssign(cost)
		assert.Equal(t, []int{1}, got)
	})
}

func TestHungarianForbiddenPairs(t *testing.T) {
	t.Parallel()

	cost := [][]float64{
		{ForbiddenCost, 1},
		{ForbiddenCost, ForbiddenCost},
	}
	got := HungarianAssign(cost)
	assert.Equal(t, []int{1, -1}, got)
}

func TestHungarianEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, HungarianAssign(nil))
	assert.Equal(t, []int{-1, -1}, HungarianAssign([][]float64{{}, {}}))
}
