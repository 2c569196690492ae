// Package annotator is the editing session on top of the annotation
// persistence engine.
//
// A Session owns the shapes of one open annotation file. Every completed
// edit is recorded in a bounded history so it can be undone, and every
// change is reported to an Observer instead of being broadcast through a
// GUI toolkit.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		annotator "github.com/menta2k/avm-annotator"
//		"github.com/menta2k/avm-annotator/pkg/geometry"
//	)
//
//	func main() {
//		s := annotator.New(annotator.DefaultConfig())
//		if err := s.Open("data/AVM_0001/json/000123.json", annotator.OpenOptions{}); err != nil {
//			log.Fatal(err)
//		}
//
//		// Draw a parking slot region
//		if err := s.Begin(annotator.ModePolygon, "Parking_slot"); err != nil {
//			log.Fatal(err)
//		}
//		for _, p := range []geometry.Point{{X: 10, Y: 10}, {X: 90, Y: 10}, {X: 90, Y: 60}} {
//			s.AddPoint(p, 1)
//		}
//		if err := s.Finalize(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//
//		// Write the JSON back and refresh the visualization image
//		if err := s.Save(""); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The engine itself lives in the pkg/ tree:
//
//  1. Shape model and geometry kernel (pkg/shape, pkg/geometry)
//  2. Edit history (pkg/history)
//  3. Schema dispatch and the AVM/GDC, Slot and 2D-OD adapters (pkg/schema, pkg/format)
//  4. Visualization compositing (pkg/overlay, pkg/palette)
//  5. Load and save coordination (pkg/store)
//
// AI-assisted shapes are delegated to a Predictor; pkg/detection provides
// one backed by a vision model.
package annotator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/menta2k/avm-annotator/internal/logger"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/format/avm"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/history"
	"github.com/menta2k/avm-annotator/pkg/palette"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
	"github.com/menta2k/avm-annotator/pkg/store"
)

// Version of the annotator library
const Version = "1.0.0"

var (
	// ErrNotDrawing is returned by drawing operations when no shape is
	// under construction.
	ErrNotDrawing = errors.New("no shape is being drawn")
	// ErrNoPredictor is returned when an AI mode is finalized without a
	// Predictor.
	ErrNoPredictor = errors.New("no predictor configured")
	// ErrNoFile is returned by Save when no path is known
	ErrNoFile = errors.New("no annotation file open")
)

// SetLogger sets the logger used by every package of the module. nil
// silences logging again.
func SetLogger(l *slog.Logger) {
	logger.SetLogger(l)
}

// Mode is the kind of shape a draw gesture creates
type Mode string

// Drawing modes. The AI modes collect prompt clicks that the Predictor
// turns into a polygon or a mask on Finalize.
const (
	ModePolygon   Mode = "polygon"
	ModeRectangle Mode = "rectangle"
	ModeCircle    Mode = "circle"
	ModeLine      Mode = "line"
	ModePoint     Mode = "point"
	ModeLineStrip Mode = "linestrip"
	ModeAIPolygon Mode = "ai_polygon"
	ModeAIMask    Mode = "ai_mask"
)

func (m Mode) shapeType() (shape.Type, error) {
	switch m {
	case ModeAIPolygon:
		return shape.Polygon, nil
	case ModeAIMask:
		return shape.Mask, nil
	}
	t := shape.Type(m)
	if !t.Valid() || t == shape.Mask {
		return "", fmt.Errorf("unknown drawing mode %q", m)
	}
	return t, nil
}

func (m Mode) ai() bool {
	return m == ModeAIPolygon || m == ModeAIMask
}

// Predictor converts prompt clicks into shapes. labels run parallel to
// points and hold shape.Foreground or shape.Background.
type Predictor interface {
	PredictPolygon(ctx context.Context, img image.Image, points []geometry.Point, labels []int) ([]geometry.Point, error)
	PredictMask(ctx context.Context, img image.Image, points []geometry.Point, labels []int) (*shape.Bitmap, geometry.Rect, error)
}

// Observer receives the session's change notifications. Slices passed to
// the callbacks are owned by the session and must not be modified.
type Observer interface {
	ShapesChanged(shapes []*shape.Shape)
	SelectionChanged(selected []*shape.Shape)
	DrawingChanged(drawing bool)
	DirtyChanged(dirty bool)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks of interest.
type NopObserver struct{}

func (NopObserver) ShapesChanged([]*shape.Shape)    {}
func (NopObserver) SelectionChanged([]*shape.Shape) {}
func (NopObserver) DrawingChanged(bool)             {}
func (NopObserver) DirtyChanged(bool)               {}

// Config contains session settings
type Config struct {
	Store           store.Config
	HistoryCapacity int
	// Epsilon is the pick radius in image pixels for vertices and edges
	Epsilon float64
	// DefaultFlags returns the flags a shape with the given label starts
	// with. nil means no flags.
	DefaultFlags func(label string) map[string]bool
}

// DefaultConfig returns the default session settings
func DefaultConfig() Config {
	return Config{
		Store:           store.DefaultConfig(),
		HistoryCapacity: history.DefaultCapacity,
		Epsilon:         10,
	}
}

// OpenOptions control how a file replaces the current shapes
type OpenOptions struct {
	// KeepPrevious carries the current shapes over when the opened file
	// has none.
	KeepPrevious bool
}

// Session is one editing session. It is not safe for concurrent use.
type Session struct {
	config    Config
	store     *store.Store
	history   *history.Stack
	observer  Observer
	predictor Predictor

	path        string
	kind        schema.Kind
	image       image.Image
	reference   image.Image
	passthrough []json.RawMessage

	shapes   []*shape.Shape
	selected []*shape.Shape
	current  *shape.Shape
	mode     Mode
	dirty    bool
}

// New creates a session with its own store
func New(cfg Config) *Session {
	return NewWithStore(cfg, store.NewWithConfig(cfg.Store))
}

// NewWithStore creates a session that loads and saves through st
func NewWithStore(cfg Config, st *store.Store) *Session {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultConfig().Epsilon
	}
	return &Session{
		config:   cfg,
		store:    st,
		history:  history.NewWithCapacity(cfg.HistoryCapacity),
		observer: NopObserver{},
	}
}

// SetObserver registers o for change notifications; nil detaches
func (s *Session) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	s.observer = o
}

// SetPredictor sets the model used by the AI drawing modes
func (s *Session) SetPredictor(p Predictor) {
	s.predictor = p
}

// Path returns the open annotation file
func (s *Session) Path() string { return s.path }

// Kind returns the dialect of the open file
func (s *Session) Kind() schema.Kind { return s.kind }

// Image returns the editable image shapes are drawn on
func (s *Session) Image() image.Image { return s.image }

// Reference returns the raw frame paired with the open file, or nil
func (s *Session) Reference() image.Image { return s.reference }

// Shapes returns the live shapes in paint order
func (s *Session) Shapes() []*shape.Shape { return s.shapes }

// Selected returns the selected shapes
func (s *Session) Selected() []*shape.Shape { return s.selected }

// Current returns the shape under construction, or nil
func (s *Session) Current() *shape.Shape { return s.current }

// Dirty reports whether there are edits since the last open or save
func (s *Session) Dirty() bool { return s.dirty }

// CanUndo reports whether Undo would restore an earlier state
func (s *Session) CanUndo() bool { return s.history.IsRestorable() }

// Open loads the annotation file at path and makes its shapes current.
// Shapes without points are dropped. The history restarts from the loaded
// state.
func (s *Session) Open(path string, opts OpenOptions) error {
	loaded, err := s.store.Load(path)
	if err != nil {
		return err
	}

	shapes := make([]*shape.Shape, 0, len(loaded.Document.Shapes))
	for _, sh := range loaded.Document.Shapes {
		if len(sh.Points) == 0 {
			logger.Logger().Warn("skipping shape without points", "path", path, "label", sh.Label)
			continue
		}
		s.applyDefaultFlags(sh)
		shapes = append(shapes, sh)
	}
	if len(shapes) == 0 && opts.KeepPrevious {
		shapes = shape.CopyAll(s.shapes)
	}

	s.path = path
	s.kind = loaded.Kind
	s.image = loaded.Image
	s.reference = loaded.Reference
	s.passthrough = loaded.Document.Passthrough
	s.shapes = shapes
	s.selected = nil
	s.current = nil

	s.history.Reset()
	s.history.Push(s.shapes)

	s.observer.DrawingChanged(false)
	s.observer.SelectionChanged(nil)
	s.observer.ShapesChanged(s.shapes)
	s.setDirty(len(shapes) > 0 && len(loaded.Document.Shapes) == 0)
	return nil
}

// applyDefaultFlags adds configured flags missing from sh. Values already
// present win.
func (s *Session) applyDefaultFlags(sh *shape.Shape) {
	if s.config.DefaultFlags == nil {
		return
	}
	if sh.Flags == nil {
		sh.Flags = map[string]bool{}
	}
	for k, v := range s.config.DefaultFlags(sh.Label) {
		if _, ok := sh.Flags[k]; !ok {
			sh.Flags[k] = v
		}
	}
}

// Save writes the shapes to path, or to the open file when path is empty.
// Passthrough entries of the opened file travel along.
func (s *Session) Save(path string) error {
	if path == "" {
		path = s.path
	}
	if path == "" {
		return ErrNoFile
	}
	doc := &format.Document{Shapes: s.shapes, Passthrough: s.passthrough}
	if err := s.store.SaveDocument(path, doc); err != nil {
		return err
	}
	s.path = path
	s.kind = schema.Classify(path)
	s.setDirty(false)
	return nil
}

// Begin starts drawing a shape in mode. On Slot files the label is coerced
// into the vocabulary of the shape type. AVM files only take polygons and
// rectangles.
func (s *Session) Begin(mode Mode, label string) error {
	t, err := mode.shapeType()
	if err != nil {
		return err
	}
	if s.kind == schema.AVM && !avm.Storable(t) {
		return fmt.Errorf("%w: %s mode on %s file", format.ErrUnsupportedShape, mode, s.kind)
	}
	if s.kind == schema.Slot {
		label, _ = shape.RestrictSlotLabel(t, label)
	}
	s.current = shape.New(label, t)
	s.applyDefaultFlags(s.current)
	s.mode = mode
	s.observer.DrawingChanged(true)
	return nil
}

// AddPoint appends a vertex to the shape being drawn. Points outside the
// image are clipped to its border. label is shape.Foreground or
// shape.Background and only matters for the AI modes.
func (s *Session) AddPoint(p geometry.Point, label int) error {
	if s.current == nil {
		return ErrNotDrawing
	}
	if !s.mode.ai() {
		if n := shape.ExactPoints(s.current.ShapeType); n > 0 && len(s.current.Points) >= n {
			return fmt.Errorf("%w: %s takes %d points", shape.ErrInvalidShapeState, s.current.ShapeType, n)
		}
	}
	if w, h, ok := s.bounds(); ok && geometry.OutOfBounds(p, w, h) {
		p = geometry.Pt(clamp(p.X, 0, float64(w-1)), clamp(p.Y, 0, float64(h-1)))
	}
	s.current.AddPoint(p, label)
	return nil
}

// UndoLastPoint removes the last vertex of the shape being drawn. Removing
// the only vertex abandons the shape. The history is not touched.
func (s *Session) UndoLastPoint() {
	if s.current == nil {
		return
	}
	s.current.PopPoint()
	if len(s.current.Points) == 0 {
		s.current = nil
		s.observer.DrawingChanged(false)
	}
}

// Cancel abandons the shape being drawn
func (s *Session) Cancel() {
	if s.current == nil {
		return
	}
	s.current = nil
	s.observer.DrawingChanged(false)
}

// Finalize closes the shape being drawn and adds it to the shapes. In the
// AI modes the prompt clicks are replaced by the predicted outline or mask.
// On error the shape stays under construction.
func (s *Session) Finalize(ctx context.Context) error {
	if s.current == nil {
		return ErrNotDrawing
	}
	cur := s.current.Copy()

	switch s.mode {
	case ModeAIPolygon, ModeAIMask:
		if s.predictor == nil {
			return ErrNoPredictor
		}
		if s.image == nil {
			return fmt.Errorf("no image to predict on")
		}
		if s.mode == ModeAIPolygon {
			poly, err := s.predictor.PredictPolygon(ctx, s.image, cur.Points, cur.PointLabels)
			if err != nil {
				return fmt.Errorf("polygon prediction failed: %w", err)
			}
			cur.ShapeType = shape.Polygon
			cur.Points = poly
		} else {
			mask, rect, err := s.predictor.PredictMask(ctx, s.image, cur.Points, cur.PointLabels)
			if err != nil {
				return fmt.Errorf("mask prediction failed: %w", err)
			}
			cur.ShapeType = shape.Mask
			cur.Points = []geometry.Point{rect.Min, rect.Max}
			cur.Mask = mask
		}
		cur.PointLabels = nil
	}

	if err := cur.Validate(); err != nil {
		return err
	}

	s.shapes = append(s.shapes, cur)
	s.current = nil
	s.commit()
	logger.Logger().Info("shape finalized", "type", string(cur.ShapeType), "label", cur.Label)
	s.observer.DrawingChanged(false)
	return nil
}

// Hit describes what lies under a point
type Hit struct {
	Shape  *shape.Shape
	Vertex int // -1 when no vertex is within reach
	Edge   int // insertion index, -1 when no edge is within reach
}

// HitTest finds the topmost shape with a vertex or edge within Epsilon of
// p, preferring vertices. ok is false when nothing is in reach.
func (s *Session) HitTest(p geometry.Point) (Hit, bool) {
	for i := len(s.shapes) - 1; i >= 0; i-- {
		sh := s.shapes[i]
		if v, ok := sh.NearestVertex(p, s.config.Epsilon); ok {
			return Hit{Shape: sh, Vertex: v, Edge: -1}, true
		}
	}
	for i := len(s.shapes) - 1; i >= 0; i-- {
		sh := s.shapes[i]
		if e, ok := sh.NearestEdge(p, s.config.Epsilon); ok {
			return Hit{Shape: sh, Vertex: -1, Edge: e}, true
		}
	}
	return Hit{Vertex: -1, Edge: -1}, false
}

// SelectAt selects the shape under p and returns it, or clears the
// selection and returns nil. Slot and 2D-OD files pick the nearest outline;
// AVM files pick by the segmentation color under p and then containment.
// With multiple set the shape is added to the selection.
func (s *Session) SelectAt(p geometry.Point, multiple bool) *shape.Shape {
	var hit *shape.Shape
	switch s.kind {
	case schema.Slot, schema.OD2D:
		best := -1.0
		for i := len(s.shapes) - 1; i >= 0; i-- {
			if d := s.shapes[i].DistanceTo(p); best < 0 || d < best {
				best = d
				hit = s.shapes[i]
			}
		}
	default:
		hit = s.pickByCategory(p)
	}

	if hit == nil {
		s.Select()
		return nil
	}
	if multiple {
		if !s.isSelected(hit) {
			s.Select(append(s.selected, hit)...)
		}
	} else {
		s.Select(hit)
	}
	return hit
}

func (s *Session) pickByCategory(p geometry.Point) *shape.Shape {
	if s.image == nil {
		return nil
	}
	b := s.image.Bounds()
	px, py := b.Min.X+int(p.X), b.Min.Y+int(p.Y)
	if !(image.Point{X: px, Y: py}).In(b) {
		return nil
	}
	category, ok := palette.ClosestCategory(s.image.At(px, py))
	if !ok {
		return nil
	}
	for i := len(s.shapes) - 1; i >= 0; i-- {
		sh := s.shapes[i]
		if sh.Label == category && sh.ContainsPoint(p) {
			return sh
		}
	}
	return nil
}

// Select replaces the selection with shapes
func (s *Session) Select(shapes ...*shape.Shape) {
	for _, sh := range s.shapes {
		sh.Selected = false
	}
	selected := make([]*shape.Shape, 0, len(shapes))
	for _, sh := range shapes {
		sh.Selected = true
		selected = append(selected, sh)
	}
	s.selected = selected
	s.observer.SelectionChanged(s.selected)
}

func (s *Session) isSelected(sh *shape.Shape) bool {
	for _, x := range s.selected {
		if x == sh {
			return true
		}
	}
	return false
}

// MoveVertex drags vertex i of sh to target, clipped to the image. 2D-OD
// boxes stay axis aligned.
func (s *Session) MoveVertex(sh *shape.Shape, i int, target geometry.Point) error {
	if i < 0 || i >= len(sh.Points) {
		return fmt.Errorf("%w: vertex %d out of range", shape.ErrInvalidShapeState, i)
	}
	if w, h, ok := s.bounds(); ok && geometry.OutOfBounds(target, w, h) {
		target = geometry.IntersectionPoint(sh.Points[i], target, w, h)
	}

	var err error
	if s.kind == schema.OD2D {
		err = sh.MoveVertexAxisAligned(i, target)
	} else {
		err = sh.MoveVertexBy(i, target.Sub(sh.Points[i]))
	}
	if err != nil {
		return err
	}
	s.commit()
	return nil
}

// MoveShapes translates shapes by delta, shortened so their joint bounds
// stay inside the image. It reports whether anything moved.
func (s *Session) MoveShapes(shapes []*shape.Shape, delta geometry.Point) bool {
	if len(shapes) == 0 {
		return false
	}
	if w, h, ok := s.bounds(); ok {
		var pts []geometry.Point
		for _, sh := range shapes {
			pts = append(pts, sh.Points...)
		}
		r := geometry.Bounds(pts)
		delta.X = clamp(delta.X, -r.Min.X, float64(w-1)-r.Max.X)
		delta.Y = clamp(delta.Y, -r.Min.Y, float64(h-1)-r.Max.Y)
	}
	if delta.X == 0 && delta.Y == 0 {
		return false
	}
	for _, sh := range shapes {
		sh.MoveBy(delta)
	}
	s.commit()
	return true
}

// InsertPoint adds p to sh at the insertion index edge, as found by HitTest
func (s *Session) InsertPoint(sh *shape.Shape, edge int, p geometry.Point) error {
	if err := sh.InsertPoint(edge, p); err != nil {
		return err
	}
	sh.HighlightVertex(edge)
	s.commit()
	return nil
}

// RemovePoint deletes vertex i of sh
func (s *Session) RemovePoint(sh *shape.Shape, i int) error {
	if err := sh.RemovePoint(i); err != nil {
		return err
	}
	sh.HighlightVertex(-1)
	s.commit()
	return nil
}

// SetLabel relabels sh. On Slot files the label is coerced into the
// vocabulary allowed for the shape type.
func (s *Session) SetLabel(sh *shape.Shape, label string) error {
	if label == "" {
		return fmt.Errorf("%w: empty label", shape.ErrInvalidShapeState)
	}
	if s.kind == schema.Slot && sh.Label != shape.SlotVehicleLabel {
		var changed bool
		if label, changed = shape.RestrictSlotLabel(sh.ShapeType, label); changed {
			logger.Logger().Warn("label not allowed for slot shape, using default",
				"type", string(sh.ShapeType), "label", label)
		}
	}
	if sh.Label == label {
		return nil
	}
	sh.Label = label
	s.applyDefaultFlags(sh)
	s.commit()
	return nil
}

// Delete removes the selected shapes and returns them
func (s *Session) Delete() []*shape.Shape {
	if len(s.selected) == 0 {
		return nil
	}
	deleted := append([]*shape.Shape(nil), s.selected...)
	kept := make([]*shape.Shape, 0, len(s.shapes))
	for _, sh := range s.shapes {
		if !s.isSelected(sh) {
			kept = append(kept, sh)
		}
	}
	s.shapes = kept
	for _, sh := range deleted {
		sh.Selected = false
	}
	s.Select()
	s.commit()
	logger.Logger().Info("shapes deleted", "count", len(deleted))
	return deleted
}

// Undo restores the shapes as they were before the last completed edit.
// Nothing happens when there is no earlier state.
func (s *Session) Undo() {
	restored, err := s.history.Restore()
	if err != nil {
		return
	}
	s.shapes = restored
	s.selected = nil
	s.observer.SelectionChanged(nil)
	s.observer.ShapesChanged(s.shapes)
	s.setDirty(true)
}

// commit records the live shapes as a completed edit
func (s *Session) commit() {
	s.history.Push(s.shapes)
	s.observer.ShapesChanged(s.shapes)
	s.setDirty(true)
}

func (s *Session) setDirty(dirty bool) {
	if s.dirty == dirty {
		return
	}
	s.dirty = dirty
	s.observer.DirtyChanged(dirty)
}

func (s *Session) bounds() (w, h int, ok bool) {
	if s.image == nil {
		return 0, 0, false
	}
	b := s.image.Bounds()
	return b.Dx(), b.Dy(), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
