// Package slot reads and writes the parking-slot dialect: slot lines,
// keypoints and the ego-vehicle outline drawn over the surround view.
package slot

import (
	"fmt"
	"strconv"

	"github.com/menta2k/avm-annotator/internal/logger"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/overlay"
	"github.com/menta2k/avm-annotator/pkg/palette"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

// FrameSize is the side of the square surround-view frame
const FrameSize = 896

// Category types of the wire format
const (
	TypeLine         = "line"
	TypeEntranceLine = "entrance_line"
	TypeKeypoint     = "keypoint"
	TypeVehicle      = "self_vehicle"
)

// Fixed identity of the ego-vehicle entry
const (
	VehicleFileMeta = "a3a9f374-af6d-43d0-bd1a-dfb778ac013b"
	VehicleObjectID = "32aebd5d-25b8-455f-a5f4-4c191b79d393"
)

const (
	markFileMeta = "0x35"
	createdBy    = "MARK"
)

// Adapter implements format.Adapter for the parking-slot dialect
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
	return schema.Slot
}

// Parse implements format.Adapter. Entries of other categories are dropped.
func (a *Adapter) Parse(data []byte) (*format.Document, error) {
	raws, err := format.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	doc := &format.Document{Shapes: []*shape.Shape{}}
	for i, raw := range raws {
		e, err := format.ParseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		var s *shape.Shape
		switch e.Type() {
		case TypeLine, TypeEntranceLine:
			points, err := e.Polyline()
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			s = shape.New(e.Type(), shape.Line)
			s.Points = points
		case TypeKeypoint:
			p, err := e.Position()
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			s = shape.New(TypeKeypoint, shape.Point)
			s.Points = []geometry.Point{p}
		case TypeVehicle:
			points, err := e.Polyline()
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			s = shape.New(shape.SlotVehicleLabel, shape.Polygon)
			s.Points = points
		default:
			logger.Logger().Debug("dropping unsupported slot entry", "type", e.Type(), "entry", i)
			continue
		}
		if len(s.Points) == 0 {
			logger.Logger().Debug("dropping slot entry without points", "type", e.Type(), "entry", i)
			continue
		}
		doc.Shapes = append(doc.Shapes, s)
	}
	return doc, nil
}

type lineEntry struct {
	Attrs           map[string]string   `json:"attrs"`
	Category        format.Category     `json:"category"`
	Create          string              `json:"create"`
	Data            format.PolylineData `json:"data"`
	FileMetaUUID    string              `json:"fileMetaUuid"`
	ID              int                 `json:"id"`
	ObjectID        any                 `json:"objectId"`
	PreAnnotationID any                 `json:"preAnnotationId"`
	ShapeKey        string              `json:"shapeKey"`
}

type pointData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type pointEntry struct {
	Attrs           map[string]string `json:"attrs"`
	Category        format.Category   `json:"category"`
	Create          string            `json:"create"`
	Data            pointData         `json:"data"`
	FileMetaUUID    string            `json:"fileMetaUuid"`
	ID              int               `json:"id"`
	ObjectID        int               `json:"objectId"`
	PreAnnotationID int               `json:"preAnnotationId"`
	ShapeKey        string            `json:"shapeKey"`
}

// Serialize implements format.Adapter. Line shapes keep their label, point
// shapes become keypoints and the self_car polygon becomes the ego-vehicle
// entry. Anything else is skipped.
func (a *Adapter) Serialize(doc *format.Document) ([]byte, error) {
	env := format.NewEnvelope(FrameSize, FrameSize)

	for i, s := range doc.Shapes {
		id := i + 1
		var v any
		switch {
		case s.ShapeType == shape.Line:
			v = lineEntry{
				Attrs:           map[string]string{TypeLine: palette.SlotMarkHex},
				Category:        format.NewCategory(s.Label, nil),
				Create:          createdBy,
				Data:            format.NewPolylineData(s.Points, TypeLine),
				FileMetaUUID:    markFileMeta,
				ID:              id,
				ObjectID:        id,
				PreAnnotationID: id,
				ShapeKey:        TypeLine,
			}
		case s.ShapeType == shape.Point:
			if len(s.Points) == 0 {
				logger.Logger().Warn("skipping keypoint without position", "shape", i)
				continue
			}
			v = pointEntry{
				Attrs:           map[string]string{TypeKeypoint: palette.SlotMarkHex},
				Category:        format.NewCategory(TypeKeypoint, nil),
				Create:          createdBy,
				Data:            pointData{X: s.Points[0].X, Y: s.Points[0].Y},
				FileMetaUUID:    markFileMeta,
				ID:              id,
				ObjectID:        id,
				PreAnnotationID: id,
				ShapeKey:        "point",
			}
		case s.Label == shape.SlotVehicleLabel:
			v = lineEntry{
				Attrs:           map[string]string{TypeVehicle: palette.SlotVehicleHex},
				Category:        format.NewCategory(TypeVehicle, nil),
				Create:          createdBy,
				Data:            format.NewPolylineData(s.Points, TypeVehicle),
				FileMetaUUID:    VehicleFileMeta,
				ID:              id,
				ObjectID:        VehicleObjectID,
				PreAnnotationID: strconv.Itoa(id),
				ShapeKey:        TypeLine,
			}
		default:
			logger.Logger().Warn("skipping shape unsupported by slot annotations",
				"label", s.Label, "type", string(s.ShapeType), "shape", i)
			continue
		}

		raw, err := format.MarshalEntry(v, nil)
		if err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, s.Label, err)
		}
		env.Anno = append(env.Anno, raw)
	}

	return env.Marshal()
}

// Images implements format.Adapter
func (a *Adapter) Images(l schema.Layout) format.Images {
	return format.Images{Primary: l.VisPath(), RightHalf: true, Reference: l.AVMPath()}
}

// Composite implements format.Adapter. Marks are taken from the saved
// bytes and keyed by their child type.
func (a *Adapter) Composite(saved []byte, l schema.Layout) error {
	raws, err := format.DecodeEnvelope(saved)
	if err != nil {
		return err
	}

	var marks []overlay.Mark
	for i, raw := range raws {
		e, err := format.ParseEntry(raw)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		kind := e.ChildType()
		if kind == TypeKeypoint {
			p, err := e.Position()
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			marks = append(marks, overlay.Mark{Kind: kind, Points: []geometry.Point{p}})
			continue
		}
		if _, ok := palette.Slot[kind]; !ok {
			continue
		}
		points, err := e.Polyline()
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		marks = append(marks, overlay.Mark{Kind: kind, Points: points})
	}

	base, err := a.proc.LoadImage(l.VisPath())
	if err != nil {
		return err
	}
	out := a.comp.Slot(base, marks)
	if err := a.proc.SaveImage(out, l.VisPath()); err != nil {
		return fmt.Errorf("failed to write visualization: %w", err)
	}
	logger.Logger().Info("slot visualization updated", "path", l.VisPath(), "marks", len(marks))
	return nil
}
