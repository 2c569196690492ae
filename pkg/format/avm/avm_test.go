package avm

import (
	"encoding/json"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/overlay"
	"github.com/menta2k/avm-annotator/pkg/palette"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

const fixture = `{
  "anno": [
    {
      "attrs": {"Parking_slot": "#46780C", "occupied": "no"},
      "category": {"child": {"attributes": {"Attribute": "empty"}, "type": "Parking_slot"}, "type": "Parking_slot"},
      "create": "0",
      "data": {"allPointsX": [10, 50, 50, 10], "allPointsY": [10, 10, 40, 40], "name": "polygon_close"},
      "fileMetaUuid": "0",
      "id": 1,
      "objectId": 1,
      "preAnnotationId": 1,
      "shapeKey": "polygon_close",
      "trackId": "t-17"
    },
    {
      "category": {"type": "Unknown_type", "child": {"type": "Unknown_type"}},
      "id": 7,
      "vendorBlob": {"z": [3, 2, 1], "a": null},
      "data": {"allPointsX": [1, 2, 3], "allPointsY": [4, 5, 6]}
    }
  ],
  "index": "",
  "publicAttrs": {"fileHeight": 896, "fileWidth": 896},
  "version": "7.0"
}`

func TestParse(t *testing.T) {
	doc, err := New(nil, nil).Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, doc.Shapes, 1)
	require.Len(t, doc.Passthrough, 1)

	s := doc.Shapes[0]
	assert.Equal(t, "Parking_slot", s.Label)
	assert.Equal(t, shape.Polygon, s.ShapeType)
	assert.Equal(t, []geometry.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 40}, {X: 10, Y: 40}}, s.Points)
	assert.Equal(t, "Parking_slot+#46780C+empty", s.Description)
	assert.Equal(t, json.RawMessage(`"t-17"`), s.OtherData["trackId"])
	assert.NotContains(t, s.OtherData, "attrs")
}

func TestPassthroughFidelity(t *testing.T) {
	a := New(nil, nil)
	doc, err := a.Parse([]byte(fixture))
	require.NoError(t, err)

	out, err := a.Serialize(doc)
	require.NoError(t, err)

	entries, err := format.DecodeEnvelope(out)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var got, want map[string]any
	require.NoError(t, json.Unmarshal(entries[1], &got))
	require.NoError(t, json.Unmarshal([]byte(`{
      "category": {"type": "Unknown_type", "child": {"type": "Unknown_type"}},
      "id": 2,
      "vendorBlob": {"z": [3, 2, 1], "a": null},
      "data": {"allPointsX": [1, 2, 3], "allPointsY": [4, 5, 6]}
    }`), &want))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("passthrough entry changed beyond its id (-want +got):\n%s", diff)
	}

	key, _, _ := format.FirstMember(entries[1])
	assert.Equal(t, "category", key, "passthrough member order must be preserved")
}

func TestSerializeLayout(t *testing.T) {
	s := shape.New("Road", shape.Polygon)
	s.Points = []geometry.Point{{X: 0, Y: 0}, {X: 5.5, Y: 0}, {X: 5.5, Y: 9}}
	s.Description = "Road+#804080+asphalt"

	out, err := New(nil, nil).Serialize(&format.Document{Shapes: []*shape.Shape{s}})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, "7.0", env["version"])
	assert.Equal(t, "", env["index"])
	assert.Equal(t, map[string]any{"fileHeight": 896.0, "fileWidth": 896.0}, env["publicAttrs"])

	e := env["anno"].([]any)[0].(map[string]any)
	want := map[string]any{
		"attrs": map[string]any{"Road": "#804080"},
		"category": map[string]any{
			"child": map[string]any{"attributes": map[string]any{"Attribute": "asphalt"}, "type": "Road"},
			"type":  "Road",
		},
		"create":          "0",
		"data":            map[string]any{"allPointsX": []any{0.0, 5.5, 5.5}, "allPointsY": []any{0.0, 0.0, 9.0}, "name": "polygon_close"},
		"fileMetaUuid":    "0",
		"id":              1.0,
		"objectId":        1.0,
		"preAnnotationId": 1.0,
		"shapeKey":        "polygon_close",
	}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Errorf("entry layout mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	a := New(nil, nil)
	first, err := a.Parse([]byte(fixture))
	require.NoError(t, err)

	out, err := a.Serialize(first)
	require.NoError(t, err)
	second, err := a.Parse(out)
	require.NoError(t, err)

	opts := cmp.Options{
		cmpopts.IgnoreUnexported(shape.Shape{}),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(first.Shapes, second.Shapes, opts); diff != "" {
		t.Errorf("shapes changed (-first +second):\n%s", diff)
	}
	require.Len(t, second.Passthrough, len(first.Passthrough))
	for i := range first.Passthrough {
		if diff := cmp.Diff(withoutID(t, first.Passthrough[i]), withoutID(t, second.Passthrough[i])); diff != "" {
			t.Errorf("passthrough entry %d changed (-first +second):\n%s", i, diff)
		}
	}

	again, err := a.Serialize(second)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again), "a second save must not change the file")
}

func withoutID(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	delete(m, "id")
	return m
}

func TestPassthroughKeepsSpecialCharacters(t *testing.T) {
	a := New(nil, nil)
	doc, err := a.Parse([]byte(`{"anno": [{"category": {"type": "Unknown_type"}, "id": 9, "note": "a&b<c>"}]}`))
	require.NoError(t, err)

	out, err := a.Serialize(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"note": "a&b<c>"`)
	assert.NotContains(t, string(out), `\u0026`)
}

func TestSerializeRectangle(t *testing.T) {
	s := shape.New("Car", shape.Rectangle)
	s.Points = []geometry.Point{{X: 30, Y: 20}, {X: 5, Y: 5}}
	s.Description = "Car+#FF0000+parked"

	a := New(nil, nil)
	out, err := a.Serialize(&format.Document{Shapes: []*shape.Shape{s}})
	require.NoError(t, err)

	doc, err := a.Parse(out)
	require.NoError(t, err)
	require.Len(t, doc.Shapes, 1)
	got := doc.Shapes[0]
	assert.Equal(t, shape.Polygon, got.ShapeType)
	assert.Equal(t, []geometry.Point{{X: 5, Y: 5}, {X: 30, Y: 5}, {X: 30, Y: 20}, {X: 5, Y: 20}}, got.Points)
	assert.NoError(t, got.Validate())
}

func TestSerializeRejectsUnstorableShapes(t *testing.T) {
	tests := []struct {
		name string
		typ  shape.Type
	}{
		{"circle", shape.Circle},
		{"line", shape.Line},
		{"point", shape.Point},
		{"linestrip", shape.LineStrip},
		{"mask", shape.Mask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := shape.New("Car", tt.typ)
			s.Points = []geometry.Point{{X: 1, Y: 1}, {X: 9, Y: 9}}
			_, err := New(nil, nil).Serialize(&format.Document{Shapes: []*shape.Shape{s}})
			assert.ErrorIs(t, err, format.ErrUnsupportedShape)
			assert.False(t, Storable(tt.typ))
		})
	}
	assert.True(t, Storable(shape.Polygon))
	assert.True(t, Storable(shape.Rectangle))
}

func TestParseErrors(t *testing.T) {
	a := New(nil, nil)

	_, err := a.Parse([]byte(`{"anno": [{"data": {}}]}`))
	assert.True(t, errors.Is(err, format.ErrSchemaMismatch), "missing category: %v", err)

	_, err = a.Parse([]byte(`{"anno": [{"category": {"type": "Road"}, "data": {"allPointsX": [1, 2], "allPointsY": [1]}}]}`))
	assert.ErrorIs(t, err, format.ErrSchemaMismatch)

	_, err = a.Parse([]byte(`{"anno": [`))
	assert.ErrorIs(t, err, format.ErrMalformedJSON)
}

func TestEmptyRegionKept(t *testing.T) {
	a := New(nil, nil)
	doc, err := a.Parse([]byte(`{"anno": [{"category": {"type": "Road"}, "id": 1, "data": {"allPointsX": [], "allPointsY": []}}]}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Shapes)
	assert.Len(t, doc.Passthrough, 1)
}

func TestComposite(t *testing.T) {
	dir := t.TempDir()
	layout := schema.LayoutFor(filepath.Join(dir, "seq", "json", "0001.json"))

	proc := processing.NewProcessor()
	cfg := overlay.DefaultConfig()
	cfg.RegionSize = 64
	a := New(proc, overlay.NewWithConfig(cfg))

	base := imaging.New(128, 64, color.NRGBA{255, 0, 0, 255})
	require.NoError(t, proc.SaveImage(base, layout.VisPath()))

	saved := []byte(`{"anno": [
	  {"category": {"type": "self_car"}, "data": {"allPointsX": [20, 40, 40, 20], "allPointsY": [20, 20, 40, 40]}},
	  {"category": {"type": "Road"}, "data": {"allPointsX": [0, 64, 64, 0], "allPointsY": [0, 0, 64, 64]}},
	  {"category": {"type": "Unknown_type"}, "data": {"x": 3}}
	]}`)
	require.NoError(t, a.Composite(saved, layout))

	img, err := proc.LoadImage(layout.VisPath())
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Equal(t, []uint32{255, 0, 0}, []uint32{r >> 8, g >> 8, b >> 8}, "left half must be kept")

	want := palette.Segmentation["self_car"]
	r, g, b, _ = img.At(64+30, 30).RGBA()
	assert.Equal(t, []uint32{uint32(want.R), uint32(want.G), uint32(want.B)}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestImages(t *testing.T) {
	l := schema.LayoutFor("/data/AVM_1/json/0001.json")
	imgs := New(nil, nil).Images(l)
	assert.Equal(t, l.VisPath(), imgs.Primary)
	assert.True(t, imgs.RightHalf)
	assert.Equal(t, l.AVMPath(), imgs.Reference)
}
