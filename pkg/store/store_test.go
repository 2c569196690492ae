package store

import (
	"encoding/json"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

const avmFixture = `{
  "anno": [
    {
      "attrs": {"Parking_slot": "#46780C"},
      "category": {"child": {"attributes": {"Attribute": "empty"}, "type": "Parking_slot"}, "type": "Parking_slot"},
      "data": {"allPointsX": [10, 50, 50, 10], "allPointsY": [10, 10, 40, 40]},
      "id": 1
    },
    {"category": {"type": "Unknown_type"}, "id": 42, "payload": "keep-me"}
  ]
}`

func testStore() *Store {
	cfg := DefaultConfig()
	cfg.Overlay.RegionSize = 64
	return NewWithConfig(cfg)
}

// sequence creates <tmp>/<name>/json/0001.json with a 128x64 visualization
func sequence(t *testing.T, name, annotation string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name, "json", "0001.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(annotation), 0o644))

	l := schema.LayoutFor(path)
	proc := processing.NewProcessor()
	require.NoError(t, proc.SaveImage(imaging.New(128, 64, color.NRGBA{200, 200, 200, 255}), l.VisPath()))
	return path
}

func TestLoadAVM(t *testing.T) {
	s := testStore()
	path := sequence(t, "AVM_01", avmFixture)
	l := schema.LayoutFor(path)
	require.NoError(t, s.Processor().SaveImage(imaging.New(64, 64, color.NRGBA{1, 2, 3, 255}), l.AVMPath()))

	loaded, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, schema.AVM, loaded.Kind)
	assert.Len(t, loaded.Document.Shapes, 1)
	assert.Len(t, loaded.Document.Passthrough, 1)
	assert.Equal(t, 64, loaded.Image.Bounds().Dx(), "primary image is the right half")
	assert.NotNil(t, loaded.Reference)
}

func TestLoadWithoutReference(t *testing.T) {
	loaded, err := testStore().Load(sequence(t, "AVM_01", avmFixture))
	require.NoError(t, err)
	assert.Nil(t, loaded.Reference)
}

func TestLoadErrors(t *testing.T) {
	s := testStore()

	_, err := s.Load(filepath.Join(t.TempDir(), "Slot_1", "json", "missing.json"))
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "load", serr.Op)
	assert.Equal(t, schema.Slot, serr.Kind)
	assert.ErrorIs(t, err, format.ErrFileNotFound)

	path := sequence(t, "AVM_01", avmFixture)
	require.NoError(t, os.Remove(schema.LayoutFor(path).VisPath()))
	_, err = s.Load(path)
	assert.ErrorIs(t, err, processing.ErrImageLoad)

	bad := sequence(t, "AVM_02", `{"anno": [}`)
	_, err = s.Load(bad)
	assert.ErrorIs(t, err, format.ErrMalformedJSON)
}

func TestSaveUnmodifiedKeepsPassthrough(t *testing.T) {
	s := testStore()
	path := sequence(t, "AVM_01", avmFixture)

	doc, err := s.Read(path)
	require.NoError(t, err)
	// Save receives shapes only; passthrough comes back from the file
	require.NoError(t, s.Save(path, doc.Shapes))

	reread, err := s.Read(path)
	require.NoError(t, err)
	require.Len(t, reread.Shapes, 1)
	require.Len(t, reread.Passthrough, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(reread.Passthrough[0], &got))
	want := map[string]any{"category": map[string]any{"type": "Unknown_type"}, "id": 2.0, "payload": "keep-me"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("passthrough mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSlotCreatesDirectories(t *testing.T) {
	s := testStore()
	root := t.TempDir()
	vis := filepath.Join(root, "Slot_7", "vis_avm", "0001.png")
	require.NoError(t, s.Processor().SaveImage(imaging.New(128, 64, color.NRGBA{255, 255, 255, 255}), vis))

	kp := shape.New("keypoint", shape.Point)
	kp.Points = []geometry.Point{{X: 5, Y: 6}}
	path := filepath.Join(root, "Slot_7", "json", "0001.json")
	require.NoError(t, s.Save(path, []*shape.Shape{kp}))

	doc, err := s.Read(path)
	require.NoError(t, err)
	require.Len(t, doc.Shapes, 1)
	assert.Equal(t, []geometry.Point{{X: 5, Y: 6}}, doc.Shapes[0].Points)
}

func TestSaveOD2D(t *testing.T) {
	s := testStore()
	root := t.TempDir()
	path := filepath.Join(root, "2D-OD_front", "json", "0001.json")
	l := schema.LayoutFor(path)
	require.NoError(t, s.Processor().SaveImage(imaging.New(160, 120, color.NRGBA{0, 0, 0, 255}), l.ImagePath()))

	box := shape.New("car", shape.Rectangle)
	box.Points = []geometry.Point{{X: 10, Y: 10}, {X: 60, Y: 40}}
	require.NoError(t, s.Save(path, []*shape.Shape{box}))

	_, err := os.Stat(l.VisPath())
	require.NoError(t, err, "visualization must be written")

	loaded, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, schema.OD2D, loaded.Kind)
	assert.Equal(t, 160, loaded.Image.Bounds().Dx(), "box dialect uses the full frame")
	require.NotNil(t, loaded.Reference)
	assert.Equal(t, []geometry.Point{{X: 10, Y: 10}, {X: 60, Y: 10}, {X: 60, Y: 40}, {X: 10, Y: 40}},
		loaded.Document.Shapes[0].Points)
}

func TestSaveCompositeFailureStillWritesJSON(t *testing.T) {
	s := testStore()
	path := filepath.Join(t.TempDir(), "AVM_1", "json", "0001.json")

	r := shape.New("Road", shape.Polygon)
	r.Points = []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
	err := s.Save(path, []*shape.Shape{r})

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "save", serr.Op)
	assert.ErrorIs(t, err, processing.ErrImageLoad)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "json is written before the visualization")
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "save", Path: "/x/json/a.json", Kind: schema.OD2D, Err: format.ErrSchemaMismatch}
	assert.Equal(t, "save /x/json/a.json (2d-od): annotation schema mismatch", err.Error())
}
