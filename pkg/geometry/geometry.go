// Package geometry holds the point math shared by every shape operation:
// distances, segment projection, polygon containment and image-border clipping.
package geometry

import "math"

// Point is a 2D coordinate in image-pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p+q
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y}
}

// Sub returns p-q
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Rect is an axis-aligned rectangle. Min is inclusive of Max.
type Rect struct {
	Min Point
	Max Point
}

// Width returns the horizontal extent of the rectangle
func (r Rect) Width() float64 {
	return r.Max.X - r.Min.X
}

// Height returns the vertical extent of the rectangle
func (r Rect) Height() float64 {
	return r.Max.Y - r.Min.Y
}

// Corners expands r into top-left, top-right, bottom-right, bottom-left
func (r Rect) Corners() []Point {
	return []Point{r.Min, Pt(r.Max.X, r.Min.Y), r.Max, Pt(r.Min.X, r.Max.Y)}
}

// Contains reports whether p lies inside r or on its border
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Distance returns the Euclidean distance between two points
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// DistanceToSegment returns the Euclidean distance from p to the segment a-b.
// A degenerate segment (a == b) degrades to the point distance.
func DistanceToSegment(p, a, b Point) float64 {
	if a == b {
		return Distance(p, a)
	}
	dx := b.X - a.X
	dy := b.Y - a.Y
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	switch {
	case t < 0:
		return Distance(p, a)
	case t > 1:
		return Distance(p, b)
	}
	return Distance(p, Point{a.X + t*dx, a.Y + t*dy})
}

// Bounds returns the axis-aligned bounds over all points. An empty slice
// yields the zero Rect.
func Bounds(points []Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	r := Rect{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = math.Min(r.Min.X, p.X)
		r.Min.Y = math.Min(r.Min.Y, p.Y)
		r.Max.X = math.Max(r.Max.X, p.X)
		r.Max.Y = math.Max(r.Max.Y, p.Y)
	}
	return r
}

// PolygonContains tests p against the closed ring formed by points using
// even-odd ray casting. Rings with fewer than 3 points contain nothing.
func PolygonContains(points []Point, p Point) bool {
	n := len(points)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := points[i], points[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// RingDistance returns the smallest distance from p to any segment of the
// closed ring through points, including the closing segment. A single point
// ring is the point distance.
func RingDistance(points []Point, p Point) float64 {
	best := math.Inf(1)
	for i := range points {
		a := points[i]
		b := points[(i+1)%len(points)]
		best = math.Min(best, DistanceToSegment(p, a, b))
	}
	return best
}

// OutOfBounds reports whether p falls outside a w x h image
func OutOfBounds(p Point, w, h int) bool {
	return !(p.X >= 0 && p.X <= float64(w-1) && p.Y >= 0 && p.Y <= float64(h-1))
}

// IntersectionPoint clips a drag from inside (within the image) to outside
// (beyond it) onto the image border. Among the border edges crossed by the
// segment, the one whose midpoint is nearest to outside wins.
func IntersectionPoint(inside, outside Point, w, h int) Point {
	maxX, maxY := float64(w-1), float64(h-1)
	corners := [4]Point{{0, 0}, {maxX, 0}, {maxX, maxY}, {0, maxY}}

	x1 := math.Min(math.Max(inside.X, 0), maxX)
	y1 := math.Min(math.Max(inside.Y, 0), maxY)
	x2, y2 := outside.X, outside.Y

	bestDist := math.Inf(1)
	bestEdge := -1
	var hit Point
	for i := 0; i < 4; i++ {
		x3, y3 := corners[i].X, corners[i].Y
		x4, y4 := corners[(i+1)%4].X, corners[(i+1)%4].Y
		denom := (y4-y3)*(x2-x1) - (x4-x3)*(y2-y1)
		if denom == 0 {
			continue
		}
		ua := ((x4-x3)*(y1-y3) - (y4-y3)*(x1-x3)) / denom
		ub := ((x2-x1)*(y1-y3) - (y2-y1)*(x1-x3)) / denom
		if ua < 0 || ua > 1 || ub < 0 || ub > 1 {
			continue
		}
		mid := Point{(x3 + x4) / 2, (y3 + y4) / 2}
		if d := Distance(mid, outside); d < bestDist {
			bestDist = d
			bestEdge = i
			hit = Point{x1 + ua*(x2-x1), y1 + ua*(y2-y1)}
		}
	}
	if bestEdge < 0 {
		return Point{math.Min(math.Max(x2, 0), maxX), math.Min(math.Max(y2, 0), maxY)}
	}

	if hit.X == x1 && hit.Y == y1 {
		// the drag started on the border itself: slide along that edge
		a, b := corners[bestEdge], corners[(bestEdge+1)%4]
		if a.X == b.X {
			return Point{a.X, math.Min(math.Max(0, y2), math.Max(a.Y, b.Y))}
		}
		return Point{math.Min(math.Max(0, x2), math.Max(a.X, b.X)), a.Y}
	}
	return hit
}
