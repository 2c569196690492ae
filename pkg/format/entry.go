package format

import (
	"encoding/json"
	"fmt"

	"github.com/menta2k/avm-annotator/pkg/geometry"
)

// Category is the category block of a written entry
type Category struct {
	Child Child  `json:"child"`
	Type  string `json:"type"`
}

// Child is the nested child category of an entry
type Child struct {
	Attributes map[string]string `json:"attributes"`
	Type       string            `json:"type"`
}

// NewCategory returns a category whose child shares its type
func NewCategory(typ string, attributes map[string]string) Category {
	if attributes == nil {
		attributes = map[string]string{}
	}
	return Category{Child: Child{Attributes: attributes, Type: typ}, Type: typ}
}

// PolylineData is the point-list geometry block
type PolylineData struct {
	AllPointsX []float64 `json:"allPointsX"`
	AllPointsY []float64 `json:"allPointsY"`
	Name       string    `json:"name"`
}

// NewPolylineData splits points into the parallel coordinate arrays
func NewPolylineData(points []geometry.Point, name string) PolylineData {
	d := PolylineData{
		AllPointsX: make([]float64, len(points)),
		AllPointsY: make([]float64, len(points)),
		Name:       name,
	}
	for i, p := range points {
		d.AllPointsX[i] = p.X
		d.AllPointsY[i] = p.Y
	}
	return d
}

// ParsedEntry is the subset of an entry read by every dialect. Fields that
// may legitimately be absent are pointers.
type ParsedEntry struct {
	Attrs    json.RawMessage `json:"attrs"`
	Category *struct {
		Type  *string `json:"type"`
		Child struct {
			Type       string `json:"type"`
			Attributes struct {
				Attribute json.RawMessage `json:"Attribute"`
			} `json:"attributes"`
		} `json:"child"`
	} `json:"category"`
	Data struct {
		AllPointsX []float64 `json:"allPointsX"`
		AllPointsY []float64 `json:"allPointsY"`
		X          *float64  `json:"x"`
		Y          *float64  `json:"y"`
		Width      *float64  `json:"width"`
		Height     *float64  `json:"height"`
	} `json:"data"`
	FileMetaUUID json.RawMessage `json:"fileMetaUuid"`
	ID           json.RawMessage `json:"id"`
	ObjectID     json.RawMessage `json:"objectId"`
}

// ParseEntry decodes raw and checks that it names a category type
func ParseEntry(raw json.RawMessage) (*ParsedEntry, error) {
	var e ParsedEntry
	if err := Decode(raw, &e); err != nil {
		return nil, err
	}
	if e.Category == nil || e.Category.Type == nil {
		return nil, fmt.Errorf("%w: entry has no category type", ErrSchemaMismatch)
	}
	return &e, nil
}

// Type is the entry's category type
func (e *ParsedEntry) Type() string {
	return *e.Category.Type
}

// ChildType is the entry's child category type
func (e *ParsedEntry) ChildType() string {
	return e.Category.Child.Type
}

// Polyline zips the coordinate arrays into points
func (e *ParsedEntry) Polyline() ([]geometry.Point, error) {
	xs, ys := e.Data.AllPointsX, e.Data.AllPointsY
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d x coordinates for %d y coordinates", ErrSchemaMismatch, len(xs), len(ys))
	}
	points := make([]geometry.Point, len(xs))
	for i := range xs {
		points[i] = geometry.Pt(xs[i], ys[i])
	}
	return points, nil
}

// Position returns data.x and data.y
func (e *ParsedEntry) Position() (geometry.Point, error) {
	if e.Data.X == nil || e.Data.Y == nil {
		return geometry.Point{}, fmt.Errorf("%w: entry has no x/y position", ErrSchemaMismatch)
	}
	return geometry.Pt(*e.Data.X, *e.Data.Y), nil
}

// Rect returns the data.x, y, width and height box
func (e *ParsedEntry) Rect() (geometry.Rect, error) {
	p, err := e.Position()
	if err != nil {
		return geometry.Rect{}, err
	}
	if e.Data.Width == nil || e.Data.Height == nil {
		return geometry.Rect{}, fmt.Errorf("%w: entry has no width/height", ErrSchemaMismatch)
	}
	return geometry.Rect{Min: p, Max: geometry.Pt(p.X+*e.Data.Width, p.Y+*e.Data.Height)}, nil
}

// MarshalEntry encodes an entry and appends extra members it does not
// already define.
func MarshalEntry(v any, extra map[string]any) (json.RawMessage, error) {
	raw, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}
	if len(extra) == 0 {
		return raw, nil
	}
	members, err := OtherData(extra)
	if err != nil {
		return nil, err
	}
	return MergeMembers(raw, members)
}
