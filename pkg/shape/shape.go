// Package shape defines the canonical annotation entity and the kernel
// operations bound to it such as hit testing and vertex editing.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/menta2k/avm-annotator/pkg/geometry"
)

// ErrInvalidShapeState is returned when an operation would leave a shape
// violating its point-count or label invariants.
var ErrInvalidShapeState = errors.New("invalid shape state")

// Type is the geometric primitive of a shape
type Type string

// Supported shape types
const (
	Polygon   Type = "polygon"
	Rectangle Type = "rectangle"
	Circle    Type = "circle"
	Line      Type = "line"
	Point     Type = "point"
	LineStrip Type = "linestrip"
	Mask      Type = "mask"
)

// Valid reports whether t is one of the supported shape types
func (t Type) Valid() bool {
	switch t {
	case Polygon, Rectangle, Circle, Line, Point, LineStrip, Mask:
		return true
	}
	return false
}

// Foreground and Background are the point label values used while an AI
// assisted shape is being prompted.
const (
	Background = 0
	Foreground = 1
)

// Bitmap is a row-major boolean mask aligned to a shape's bounding box
type Bitmap struct {
	Width  int
	Height int
	Bits   []bool
}

// NewBitmap allocates an empty w x h bitmap
func NewBitmap(w, h int) *Bitmap {
	return &Bitmap{Width: w, Height: h, Bits: make([]bool, w*h)}
}

// At reports the bit at (x, y); out of range coordinates read as false
func (b *Bitmap) At(x, y int) bool {
	if b == nil || x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Bits[y*b.Width+x]
}

// Set stores v at (x, y); out of range coordinates are ignored
func (b *Bitmap) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	b.Bits[y*b.Width+x] = v
}

func (b *Bitmap) clone() *Bitmap {
	if b == nil {
		return nil
	}
	out := &Bitmap{Width: b.Width, Height: b.Height, Bits: make([]bool, len(b.Bits))}
	copy(out.Bits, b.Bits)
	return out
}

// Shape is the schema-agnostic annotation unit every adapter maps to and from
type Shape struct {
	Label       string
	ShapeType   Type
	Points      []geometry.Point
	PointLabels []int
	GroupID     *int
	Description string
	Flags       map[string]bool
	Mask        *Bitmap
	OtherData   map[string]any

	// Selected and the highlight fields are view state and never persisted
	Selected       bool
	highlightIndex int
}

// New creates an open shape of the given type with no points
func New(label string, t Type) *Shape {
	return &Shape{
		Label:          label,
		ShapeType:      t,
		Flags:          map[string]bool{},
		OtherData:      map[string]any{},
		highlightIndex: -1,
	}
}

// AddPoint appends a vertex with its prompt label
func (s *Shape) AddPoint(p geometry.Point, label int) {
	s.Points = append(s.Points, p)
	if s.PointLabels != nil || label != Foreground {
		for len(s.PointLabels) < len(s.Points)-1 {
			s.PointLabels = append(s.PointLabels, Foreground)
		}
		s.PointLabels = append(s.PointLabels, label)
	}
}

// PopPoint removes and returns the last vertex; ok is false on an empty shape
func (s *Shape) PopPoint() (geometry.Point, bool) {
	if len(s.Points) == 0 {
		return geometry.Point{}, false
	}
	last := s.Points[len(s.Points)-1]
	s.Points = s.Points[:len(s.Points)-1]
	if len(s.PointLabels) > len(s.Points) {
		s.PointLabels = s.PointLabels[:len(s.Points)]
	}
	return last, true
}

// MinPoints is the smallest point count a closed shape of type t may hold
func MinPoints(t Type) int {
	switch t {
	case Polygon:
		return 3
	case Rectangle, Circle, Line, Mask, LineStrip:
		return 2
	case Point:
		return 1
	}
	return 1
}

// ExactPoints reports the fixed point count for t, or 0 when t has none
func ExactPoints(t Type) int {
	switch t {
	case Rectangle, Circle, Line, Mask:
		return 2
	case Point:
		return 1
	}
	return 0
}

// Validate checks the finalized-shape invariants
func (s *Shape) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidShapeState)
	}
	if !s.ShapeType.Valid() {
		return fmt.Errorf("%w: unknown shape type %q", ErrInvalidShapeState, s.ShapeType)
	}
	n := len(s.Points)
	if exact := ExactPoints(s.ShapeType); exact > 0 && n != exact {
		return fmt.Errorf("%w: %s needs exactly %d points, has %d", ErrInvalidShapeState, s.ShapeType, exact, n)
	}
	if n < MinPoints(s.ShapeType) {
		return fmt.Errorf("%w: %s needs at least %d points, has %d", ErrInvalidShapeState, s.ShapeType, MinPoints(s.ShapeType), n)
	}
	if s.PointLabels != nil && len(s.PointLabels) != n {
		return fmt.Errorf("%w: %d point labels for %d points", ErrInvalidShapeState, len(s.PointLabels), n)
	}
	return nil
}

// closed reports whether the edge list of s wraps back to the first vertex
func (s *Shape) closed() bool {
	return s.ShapeType == Polygon
}

// NearestVertex returns the index of the vertex closest to p within epsilon
func (s *Shape) NearestVertex(p geometry.Point, epsilon float64) (int, bool) {
	best := -1
	minDist := math.Inf(1)
	for i, v := range s.Points {
		d := geometry.Distance(v, p)
		if d <= epsilon && d < minDist {
			minDist = d
			best = i
		}
	}
	return best, best >= 0
}

// NearestEdge returns the index i of the edge (i-1, i) closest to p within
// epsilon. The index doubles as the insertion position for InsertPoint.
// Shapes with fewer than two segments have no selectable edge.
func (s *Shape) NearestEdge(p geometry.Point, epsilon float64) (int, bool) {
	if s.edgeCount() < 2 {
		return -1, false
	}
	start := 1
	if s.closed() {
		start = 0
	}
	best := -1
	minDist := math.Inf(1)
	for i := start; i < len(s.Points); i++ {
		prev := i - 1
		if prev < 0 {
			prev = len(s.Points) - 1
		}
		d := geometry.DistanceToSegment(p, s.Points[prev], s.Points[i])
		if d <= epsilon && d < minDist {
			minDist = d
			best = i
		}
	}
	return best, best >= 0
}

func (s *Shape) edgeCount() int {
	n := len(s.Points)
	if n < 2 {
		return 0
	}
	if s.closed() {
		return n
	}
	return n - 1
}

// ContainsPoint tests true-area containment for closed shapes
func (s *Shape) ContainsPoint(p geometry.Point) bool {
	switch s.ShapeType {
	case Polygon, LineStrip:
		return geometry.PolygonContains(s.Points, p)
	case Rectangle:
		if len(s.Points) != 2 {
			return false
		}
		return geometry.Bounds(s.Points).Contains(p)
	case Circle:
		if len(s.Points) != 2 {
			return false
		}
		return geometry.Distance(s.Points[0], p) <= geometry.Distance(s.Points[0], s.Points[1])
	case Mask:
		if len(s.Points) != 2 || s.Mask == nil {
			return false
		}
		r := geometry.Bounds(s.Points)
		if !r.Contains(p) {
			return false
		}
		return s.Mask.At(int(p.X-r.Min.X), int(p.Y-r.Min.Y))
	}
	return false
}

// DistanceTo is the smallest distance from p to the shape outline, used
// where containment is degenerate, e.g. for lines and keypoints.
func (s *Shape) DistanceTo(p geometry.Point) float64 {
	if len(s.Points) == 0 {
		return math.Inf(1)
	}
	return geometry.RingDistance(s.Points, p)
}

// InsertPoint inserts p at index i, normally the value from NearestEdge
func (s *Shape) InsertPoint(i int, p geometry.Point) error {
	if i < 0 || i > len(s.Points) {
		return fmt.Errorf("%w: insert index %d out of range [0,%d]", ErrInvalidShapeState, i, len(s.Points))
	}
	if ExactPoints(s.ShapeType) > 0 {
		return fmt.Errorf("%w: %s has a fixed point count", ErrInvalidShapeState, s.ShapeType)
	}
	s.Points = append(s.Points, geometry.Point{})
	copy(s.Points[i+1:], s.Points[i:])
	s.Points[i] = p
	if s.PointLabels != nil {
		s.PointLabels = append(s.PointLabels, 0)
		copy(s.PointLabels[i+1:], s.PointLabels[i:])
		s.PointLabels[i] = Foreground
	}
	return nil
}

// RemovePoint deletes the vertex at i. It refuses to go below the shape's
// minimum; the caller has to delete the whole shape instead.
func (s *Shape) RemovePoint(i int) error {
	if i < 0 || i >= len(s.Points) {
		return fmt.Errorf("%w: vertex %d out of range", ErrInvalidShapeState, i)
	}
	if !s.canRemovePoint() {
		return fmt.Errorf("%w: cannot remove a vertex from %s with %d points", ErrInvalidShapeState, s.ShapeType, len(s.Points))
	}
	s.Points = append(s.Points[:i], s.Points[i+1:]...)
	if i < len(s.PointLabels) {
		s.PointLabels = append(s.PointLabels[:i], s.PointLabels[i+1:]...)
	}
	return nil
}

func (s *Shape) canRemovePoint() bool {
	switch s.ShapeType {
	case Polygon:
		return len(s.Points) > 3
	case LineStrip:
		return len(s.Points) > 2
	}
	return false
}

// BoundingRect returns the axis-aligned bounds over all points
func (s *Shape) BoundingRect() geometry.Rect {
	return geometry.Bounds(s.Points)
}

// MoveBy translates every point by delta. No clamping is applied here.
func (s *Shape) MoveBy(delta geometry.Point) {
	for i := range s.Points {
		s.Points[i] = s.Points[i].Add(delta)
	}
}

// MoveVertexBy translates a single vertex by delta
func (s *Shape) MoveVertexBy(i int, delta geometry.Point) error {
	if i < 0 || i >= len(s.Points) {
		return fmt.Errorf("%w: vertex %d out of range", ErrInvalidShapeState, i)
	}
	s.Points[i] = s.Points[i].Add(delta)
	return nil
}

// axisTolerance is how close two coordinates must be to count as shared
// by box corners.
const axisTolerance = 0.1

// MoveVertexAxisAligned moves vertex i to target while keeping a box
// rectangular: the first other corner sharing the old x follows in x and the
// first other corner sharing the old y follows in y.
func (s *Shape) MoveVertexAxisAligned(i int, target geometry.Point) error {
	if i < 0 || i >= len(s.Points) {
		return fmt.Errorf("%w: vertex %d out of range", ErrInvalidShapeState, i)
	}
	orig := s.Points[i]
	dx := target.X - orig.X
	dy := target.Y - orig.Y

	movedX, movedY := false, false
	for j, p := range s.Points {
		if j == i {
			continue
		}
		if !movedX && math.Abs(p.X-orig.X) < axisTolerance && math.Abs(p.Y-orig.Y) >= axisTolerance {
			s.Points[j].X += dx
			movedX = true
		}
		if !movedY && math.Abs(p.Y-orig.Y) < axisTolerance && math.Abs(p.X-orig.X) >= axisTolerance {
			s.Points[j].Y += dy
			movedY = true
		}
	}
	s.Points[i] = target
	return nil
}

// HighlightVertex marks vertex i for display; -1 clears it
func (s *Shape) HighlightVertex(i int) {
	s.highlightIndex = i
}

// HighlightedVertex returns the highlighted vertex or -1
func (s *Shape) HighlightedVertex() int {
	return s.highlightIndex
}

// Copy returns a deep clone of every persistent field. Selection and
// highlight state are reset.
func (s *Shape) Copy() *Shape {
	out := &Shape{
		Label:          s.Label,
		ShapeType:      s.ShapeType,
		Description:    s.Description,
		Mask:           s.Mask.clone(),
		highlightIndex: -1,
	}
	if s.Points != nil {
		out.Points = append([]geometry.Point(nil), s.Points...)
	}
	if s.PointLabels != nil {
		out.PointLabels = append([]int(nil), s.PointLabels...)
	}
	if s.GroupID != nil {
		g := *s.GroupID
		out.GroupID = &g
	}
	if s.Flags != nil {
		out.Flags = make(map[string]bool, len(s.Flags))
		for k, v := range s.Flags {
			out.Flags[k] = v
		}
	}
	if s.OtherData != nil {
		out.OtherData = cloneValue(s.OtherData).(map[string]any)
	}
	return out
}

// CopyAll deep-copies a shape list
func CopyAll(shapes []*Shape) []*Shape {
	out := make([]*Shape, len(shapes))
	for i, s := range shapes {
		out[i] = s.Copy()
	}
	return out
}

// cloneValue deep-copies decoded JSON values and raw JSON fragments
func cloneValue(v any) any {
	switch t := v.(type) {
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}
