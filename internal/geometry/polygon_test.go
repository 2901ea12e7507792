package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(side float64) *Polygon {
	pg, _ := NewPolygon([]Vec2{
		{X: 0, Y: 0},
		{X: side, Y: 0},
		{X: side, Y: side},
		{X: 0, Y: side},
	})
	return pg
}

func TestNewPolygonRejectsDegenerate(t *testing.T) {
	t.Parallel()

	_, err := NewPolygon([]Vec2{{X: 0, Y: 0}, {X: 1, Y: 1}})
	require.Error(t, err)
}

func TestContains(t *testing.T) {
	t.Parallel()

	pg := square(10)

	assert.True(t, pg.Contains(Vec2{X: 5, Y: 5}))
	assert.True(t, pg.Contains(Vec2{X: 0.01, Y: 9.99}))
	assert.False(t, pg.Contains(Vec2{X: -1, Y: 5}))
	assert.False(t, pg.Contains(Vec2{X: 5, Y: 11}))
	assert.False(t, pg.Contains(Vec2{X: 10.5, Y: 10.5}))
}

func TestContainsConcave(t *testing.T) {
	t.Parallel()

	// L-shaped polygon: the notch at the top right is outside.
	pg, err := NewPolygon([]Vec2{
		{X: 0, Y: 0},
		{X: 10, Y: 0},
		{X: 10, Y: 5},
		{X: 5, Y: 5},
		{X: 5, Y: 10},
		{X: 0, Y: 10},
	})
	require.NoError(t, err)

	assert.True(t, pg.Contains(Vec2{X: 2, Y: 8}))
	assert.True(t, pg.Contains(Vec2{X: 8, Y: 2}))
	assert.False(t, pg.Contains(Vec2{X: 8, Y: 8}))
}

func TestAreaAndCentroid(t *testing.T) {
	t.Parallel()

	pg := square(4)
	assert.InDelta(t, 16.0, pg.Area(), 1e-9)

	c := pg.Centroid()
	assert.InDelta(t, 2.0, c.X, 1e-9)
	assert.InDelta(t, 2.0, c.Y, 1e-9)
}

func TestDistance(t *testing.T) {
	t.Parallel()

	d := Distance(Vec2{X: 0, Y: 0}, Vec2{X: 3, Y: 4})
	assert.InDelta(t, 5.0, d, 1e-12)

	assert.Equal(t, 0.0, Distance(Vec2{X: 1, Y: 1}, Vec2{X: 1, Y: 1}))
	assert.False(t, math.IsNaN(Distance(Vec2{}, Vec2{})))
}
