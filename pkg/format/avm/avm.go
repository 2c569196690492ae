// Package avm reads and writes the surround-view segmentation dialect: one
// closed polygon per region, a fixed allow-list of editable categories and
// verbatim passthrough for everything else.
package avm

import (
	"encoding/json"
	"fmt"

	"github.com/menta2k/avm-annotator/internal/logger"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/overlay"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

// Labels are the categories materialized as editable shapes
var Labels = []string{
	"Background", "Road", "Person", "Traffic_cone", "Car", "Movable_obstacle",
	"Immovable_obstacle", "Lane_line", "Parking_line", "Parking_slot", "Arrow",
	"Crosswalk_line", "No_parking_sign_line", "Speed_bump", "Parking_lock_open",
	"Parking_lock_closed", "Parking_rod", "Limiter_pole", "Curb", "Guide_line",
	"Center_lane", "Cover", "sewer", "self_car",
}

var allowed = func() map[string]bool {
	m := make(map[string]bool, len(Labels))
	for _, l := range Labels {
		m[l] = true
	}
	return m
}()

// Allowed reports whether label is editable in this dialect
func Allowed(label string) bool {
	return allowed[label]
}

// Storable reports whether shapes of type t survive a save. Rectangles are
// written as their four corners and reload as polygons.
func Storable(t shape.Type) bool {
	return t == shape.Polygon || t == shape.Rectangle
}

// outline returns the closed polygon written for s
func outline(s *shape.Shape) ([]geometry.Point, error) {
	switch s.ShapeType {
	case shape.Polygon:
		return s.Points, nil
	case shape.Rectangle:
		return s.BoundingRect().Corners(), nil
	}
	return nil, fmt.Errorf("%w: %s", format.ErrUnsupportedShape, s.ShapeType)
}

// FrameSize is the side of the square surround-view frame
const FrameSize = 896

const (
	polygonName = "polygon_close"
	createdBy   = "0"
	fileMeta    = "0"
)

// known lists the entry members interpreted by Parse or rewritten by
// Serialize; everything else goes to OtherData.
var known = []string{
	"attrs", "category", "create", "data", "fileMetaUuid",
	"id", "objectId", "preAnnotationId", "shapeKey",
}

// Adapter implements format.Adapter for the surround-view dialect
type Adapter struct {
	proc *processing.Processor
	comp *overlay.Compositor
}

// New creates the adapter. nil collaborators fall back to defaults.
func New(proc *processing.Processor, comp *overlay.Compositor) *Adapter {
	if proc == nil {
		proc = processing.NewProcessor()
	}
	if comp == nil {
		comp = overlay.New()
	}
	return &Adapter{proc: proc, comp: comp}
}

// Kind implements format.Adapter
func (a *Adapter) Kind() schema.Kind {
	return schema.AVM
}

// Parse implements format.Adapter
func (a *Adapter) Parse(data []byte) (*format.Document, error) {
	raws, err := format.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	doc := &format.Document{Shapes: []*shape.Shape{}, Passthrough: []json.RawMessage{}}
	for i, raw := range raws {
		e, err := format.ParseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if !Allowed(e.Type()) {
			doc.Passthrough = append(doc.Passthrough, raw)
			continue
		}

		points, err := e.Polyline()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if len(points) == 0 {
			// nothing to edit, keep it verbatim
			logger.Logger().Debug("keeping empty region as passthrough", "label", e.Type(), "entry", i)
			doc.Passthrough = append(doc.Passthrough, raw)
			continue
		}

		s := shape.New(e.Type(), shape.Polygon)
		s.Points = points
		key, value, _ := format.FirstMember(e.Attrs)
		s.Description = format.PackDescription(key, value, format.Text(e.Category.Child.Attributes.Attribute))

		members, err := format.Members(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		s.OtherData = format.Unknown(members, known...)
		doc.Shapes = append(doc.Shapes, s)
	}
	return doc, nil
}

type entry struct {
	Attrs           map[string]string   `json:"attrs"`
	Category        format.Category     `json:"category"`
	Create          string              `json:"create"`
	Data            format.PolylineData `json:"data"`
	FileMetaUUID    string              `json:"fileMetaUuid"`
	ID              int                 `json:"id"`
	ObjectID        int                 `json:"objectId"`
	PreAnnotationID int                 `json:"preAnnotationId"`
	ShapeKey        string              `json:"shapeKey"`
}

// Serialize implements format.Adapter. Shapes come first with ids taken
// from their position, followed by the passthrough entries renumbered the
// same way.
func (a *Adapter) Serialize(doc *format.Document) ([]byte, error) {
	env := format.NewEnvelope(FrameSize, FrameSize)

	for i, s := range doc.Shapes {
		points, err := outline(s)
		if err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, s.Label, err)
		}
		fields, _ := format.UnpackDescription(s.Description, 3)
		e := entry{
			Attrs:           map[string]string{fields[0]: fields[1]},
			Category:        format.NewCategory(s.Label, map[string]string{"Attribute": fields[2]}),
			Create:          createdBy,
			Data:            format.NewPolylineData(points, polygonName),
			FileMetaUUID:    fileMeta,
			ID:              i + 1,
			ObjectID:        i + 1,
			PreAnnotationID: i + 1,
			ShapeKey:        polygonName,
		}
		raw, err := format.MarshalEntry(e, s.OtherData)
		if err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, s.Label, err)
		}
		env.Anno = append(env.Anno, raw)
	}

	for j, raw := range doc.Passthrough {
		renumbered, err := format.RenumberID(raw, len(env.Anno)+1)
		if err != nil {
			return nil, fmt.Errorf("passthrough entry %d: %w", j, err)
		}
		env.Anno = append(env.Anno, renumbered)
	}

	return env.Marshal()
}

// Images implements format.Adapter
func (a *Adapter) Images(l schema.Layout) format.Images {
	return format.Images{Primary: l.VisPath(), RightHalf: true, Reference: l.AVMPath()}
}

// Composite implements format.Adapter. Every polygon entry of the saved
// file is painted, passthrough regions included.
func (a *Adapter) Composite(saved []byte, l schema.Layout) error {
	raws, err := format.DecodeEnvelope(saved)
	if err != nil {
		return err
	}

	var polys []overlay.Polygon
	for i, raw := range raws {
		e, err := format.ParseEntry(raw)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		points, err := e.Polyline()
		if err != nil || len(points) == 0 {
			continue
		}
		polys = append(polys, overlay.Polygon{Label: e.Type(), Points: points})
	}

	base, err := a.proc.LoadImage(l.VisPath())
	if err != nil {
		return err
	}
	out := a.comp.ReplaceRight(base, a.comp.Segmentation(polys))
	if err := a.proc.SaveImage(out, l.VisPath()); err != nil {
		return fmt.Errorf("failed to write visualization: %w", err)
	}
	logger.Logger().Info("segmentation visualization updated", "path", l.VisPath(), "regions", len(polys))
	return nil
}
