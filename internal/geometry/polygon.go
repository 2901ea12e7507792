// Package geometry provides planar polygon operations for field-of-view
// reasoning: containment, area, and centroid in world-frame coordinates.
package geometry

import (
	"fmt"
	"math"
)

// Vec2 is a point in the world-frame ground plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is a simple (non self-intersecting) polygon described by its
// vertices in order. The closing edge from the last vertex back to the
// first is implicit.
type Polygon struct {
	Vertices []Vec2 `json:"vertices"`
}

// NewPolygon builds a polygon from vertices. At least three vertices are
// required.
func NewPolygon(vertices []Vec2) (*Polygon, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("polygon requires at least 3 vertices, got %d", len(vertices))
	}
	vs := make([]Vec2, len(vertices))
	copy(vs, vertices)
	return &Polygon{Vertices: vs}, nil
}

// Contains reports whether p lies inside the polygon, using the even-odd
// ray casting rule. Points exactly on an edge may be classified either way;
// callers needing boundary guarantees should inflate the polygon first.
func (pg *Polygon) Contains(p Vec2) bool {
	n := len(pg.Vertices)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := pg.Vertices[i], pg.Vertices[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) {
			xCross := (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Area returns the unsigned area via the shoelace formula.
func (pg *Polygon) Area() float64 {
	n := len(pg.Vertices)
	if n < 3 {
		return 0
	}
	sum := 0.0
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := pg.Vertices[i], pg.Vertices[j]
		sum += (vj.X + vi.X) * (vj.Y - vi.Y)
		j = i
	}
	return math.Abs(sum) / 2
}

// Centroid returns the area-weighted centroid. For degenerate polygons
// (zero area) it falls back to the vertex mean.
func (pg *Polygon) Centroid() Vec2 {
	n := len(pg.Vertices)
	if n == 0 {
		return Vec2{}
	}
	var cx, cy, area float64
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := pg.Vertices[i], pg.Vertices[j]
		cross := vj.X*vi.Y - vi.X*vj.Y
		cx += (vj.X + vi.X) * cross
		cy += (vj.Y + vi.Y) * cross
		area += cross
		j = i
	}
	if area == 0 {
		var sx, sy float64
		for _, v := range pg.Vertices {
			sx += v.X
			sy += v.Y
		}
		return Vec2{X: sx / float64(n), Y: sy / float64(n)}
	}
	area /= 2
	return Vec2{X: cx / (6 * area), Y: cy / (6 * area)}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
