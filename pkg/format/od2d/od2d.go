// Package od2d reads and writes the 2D object-detection dialect: labelled
// axis-aligned boxes on the raw camera frame.
//
// Boxes are held as four-corner polygons (top-left, top-right, bottom-right,
// bottom-left). On save every shape is written as the axis-aligned bounding
// box of its points, so an edited quadrilateral that lost its right angles
// is projected back onto a rectangle.
package od2d

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"

	"github.com/menta2k/avm-annotator/internal/logger"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/overlay"
	"github.com/menta2k/avm-annotator/pkg/palette"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

// Camera frame size written into the envelope
const (
	FrameWidth  = 1280
	FrameHeight = 960
)

// descriptionFields is the number of values packed into a box description:
// attribute key, attribute value, fileMetaUuid, id and objectId.
const descriptionFields = 5

// known lists the entry members rebuilt on every save
var known = []string{
	"attrs", "category", "create", "data", "fileMetaUuid", "id", "objectId", "shapeKey",
}

const (
	rectName  = "rect"
	createdBy = "MARK"
)

// Adapter implements format.Adapter for the box dialect
type Adapter struct {
	proc *processing.Processor
	comp *overlay.Compositor

	// NewID yields fileMetaUuid and id values for freshly drawn boxes
	NewID func() string
	// NewObjectID yields the objectId of freshly drawn boxes
	NewObjectID func() string
}

// New creates the adapter. nil collaborators fall back to defaults.
func New(proc *processing.Processor, comp *overlay.Compositor) *Adapter {
	if proc == nil {
		proc = processing.NewProcessor()
	}
	if comp == nil {
		comp = overlay.New()
	}
	return &Adapter{
		proc:        proc,
		comp:        comp,
		NewID:       uuid.NewString,
		NewObjectID: randomObjectID,
	}
}

// randomObjectID returns a random seven-digit number
func randomObjectID() string {
	return strconv.Itoa(1000000 + rand.IntN(9000000))
}

// Kind implements format.Adapter
func (a *Adapter) Kind() schema.Kind {
	return schema.OD2D
}

// Parse implements format.Adapter
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
		r, err := e.Rect()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		s := shape.New(e.Type(), shape.Polygon)
		s.Points = r.Corners()
		key, value, _ := format.FirstMember(e.Attrs)
		s.Description = format.PackDescription(key, value,
			format.Text(e.FileMetaUUID), format.Text(e.ID), format.Text(e.ObjectID))

		members, err := format.Members(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		s.OtherData = format.Unknown(members, known...)
		doc.Shapes = append(doc.Shapes, s)
	}
	return doc, nil
}

type rectData struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Name   string  `json:"name"`
}

type entry struct {
	Attrs        map[string]string `json:"attrs"`
	Category     format.Category   `json:"category"`
	Create       string            `json:"create"`
	Data         rectData          `json:"data"`
	FileMetaUUID string            `json:"fileMetaUuid"`
	ID           string            `json:"id"`
	ObjectID     string            `json:"objectId"`
	ShapeKey     string            `json:"shapeKey"`
}

// Serialize implements format.Adapter. Shapes whose description carries
// the five packed fields keep their identifiers; any other shape is treated
// as freshly drawn and receives new ones with a label-derived color.
func (a *Adapter) Serialize(doc *format.Document) ([]byte, error) {
	env := format.NewEnvelope(FrameWidth, FrameHeight)

	for i, s := range doc.Shapes {
		if len(s.Points) < 2 {
			logger.Logger().Warn("skipping box with fewer than two points", "label", s.Label, "shape", i)
			continue
		}
		r := s.BoundingRect()
		e := entry{
			Category: format.NewCategory(s.Label, nil),
			Create:   createdBy,
			Data: rectData{
				X:      r.Min.X,
				Y:      r.Min.Y,
				Width:  r.Width(),
				Height: r.Height(),
				Name:   rectName,
			},
			ShapeKey: rectName,
		}

		if fields, ok := format.UnpackDescription(s.Description, descriptionFields); ok {
			e.Attrs = map[string]string{fields[0]: fields[1]}
			e.FileMetaUUID = fields[2]
			e.ID = fields[3]
			e.ObjectID = fields[4]
		} else {
			e.Attrs = map[string]string{s.Label: palette.ObjectHex(s.Label)}
			e.FileMetaUUID = a.NewID()
			e.ID = a.NewID()
			e.ObjectID = a.NewObjectID()
		}

		raw, err := format.MarshalEntry(e, s.OtherData)
		if err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, s.Label, err)
		}
		env.Anno = append(env.Anno, raw)
	}

	return env.Marshal()
}

// Images implements format.Adapter
func (a *Adapter) Images(l schema.Layout) format.Images {
	return format.Images{Primary: l.VisPath(), Reference: l.ImagePath()}
}

// Composite implements format.Adapter. Boxes from the saved bytes are drawn
// on the raw camera frame and the result replaces the visualization image.
func (a *Adapter) Composite(saved []byte, l schema.Layout) error {
	raws, err := format.DecodeEnvelope(saved)
	if err != nil {
		return err
	}

	boxes := make([]overlay.Box, 0, len(raws))
	for i, raw := range raws {
		e, err := format.ParseEntry(raw)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		r, err := e.Rect()
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		boxes = append(boxes, overlay.Box{Label: e.Type(), Rect: geometry.Bounds(r.Corners())})
	}

	base, err := a.proc.LoadImage(l.ImagePath())
	if err != nil {
		return err
	}
	out, err := a.comp.Boxes(base, boxes)
	if err != nil {
		return err
	}
	if err := a.proc.SaveImage(out, l.VisPath()); err != nil {
		return fmt.Errorf("failed to write visualization: %w", err)
	}
	logger.Logger().Info("box visualization updated", "path", l.VisPath(), "boxes", len(boxes))
	return nil
}
