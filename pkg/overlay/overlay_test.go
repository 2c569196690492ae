package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/palette"
)

func square(x0, y0, x1, y1 float64) []geometry.Point {
	return []geometry.Point{
		geometry.Pt(x0, y0), geometry.Pt(x1, y0), geometry.Pt(x1, y1), geometry.Pt(x0, y1),
	}
}

func near(got color.Color, want color.RGBA) bool {
	r, g, b, _ := got.RGBA()
	d := func(a uint32, b uint8) int {
		v := int(a>>8) - int(b)
		if v < 0 {
			return -v
		}
		return v
	}
	return d(r, want.R) <= 2 && d(g, want.G) <= 2 && d(b, want.B) <= 2
}

func testCompositor() *Compositor {
	cfg := DefaultConfig()
	cfg.RegionSize = 64
	return NewWithConfig(cfg)
}

func TestSegmentationPaintOrder(t *testing.T) {
	c := testCompositor()
	// self_car is listed first but must end up on top of Road
	img := c.Segmentation([]Polygon{
		{Label: "self_car", Points: square(20, 20, 40, 40)},
		{Label: "Road", Points: square(0, 0, 64, 64)},
		{Label: "Unknown_type", Points: square(50, 50, 60, 60)},
	})

	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("unexpected canvas %v", b)
	}
	if got := img.At(30, 30); !near(got, palette.Segmentation["self_car"]) {
		t.Errorf("center pixel = %v, want self_car color", got)
	}
	if got := img.At(10, 10); !near(got, palette.Segmentation["Road"]) {
		t.Errorf("road pixel = %v, want Road color", got)
	}
	if got := img.At(55, 55); !near(got, palette.SegmentationFallback) {
		t.Errorf("unknown label pixel = %v, want black", got)
	}
}

func TestSegmentationBlankCanvas(t *testing.T) {
	img := testCompositor().Segmentation(nil)
	if got := img.At(5, 5); !near(got, color.RGBA{255, 255, 255, 255}) {
		t.Errorf("empty canvas pixel = %v, want white", got)
	}
}

func TestReplaceRight(t *testing.T) {
	c := testCompositor()
	base := imaging.New(100, 64, color.NRGBA{255, 0, 0, 255})
	region := imaging.New(32, 32, color.NRGBA{0, 0, 255, 255})

	out := c.ReplaceRight(base, region)
	if out.Bounds().Dx() != 100 || out.Bounds().Dy() != 64 {
		t.Fatalf("unexpected size %v", out.Bounds())
	}
	if got := out.NRGBAAt(10, 10); got.R != 255 || got.B != 0 {
		t.Errorf("left part changed: %v", got)
	}
	if got := out.NRGBAAt(90, 40); got.B != 255 || got.R != 0 {
		t.Errorf("right column not replaced: %v", got)
	}
}

func TestSlotMarks(t *testing.T) {
	c := testCompositor()
	base := imaging.New(128, 64, color.NRGBA{255, 255, 255, 255})

	out := c.Slot(base, []Mark{
		{Kind: "keypoint", Points: []geometry.Point{geometry.Pt(10, 10)}},
		{Kind: "entrance_line", Points: []geometry.Point{geometry.Pt(0, 40), geometry.Pt(63, 40)}},
		{Kind: "mystery", Points: []geometry.Point{geometry.Pt(0, 50), geometry.Pt(63, 50)}},
	})

	if got := out.At(64+10, 10); !near(got, palette.Slot["keypoint"]) {
		t.Errorf("keypoint pixel = %v, want red", got)
	}
	if got := out.At(64+30, 40); !near(got, palette.Slot["entrance_line"]) {
		t.Errorf("entrance line pixel = %v, want blue", got)
	}
	if got := out.At(64+30, 50); !near(got, color.RGBA{255, 255, 255, 255}) {
		t.Errorf("unknown mark kind was drawn: %v", got)
	}
	if got := out.At(10, 10); !near(got, color.RGBA{255, 255, 255, 255}) {
		t.Errorf("left part must stay untouched, got %v", got)
	}
}

func TestBoxes(t *testing.T) {
	c := testCompositor()
	base := imaging.New(200, 120, color.NRGBA{0, 0, 0, 255})

	out, err := c.Boxes(base, []Box{{
		Label: "car",
		Rect:  geometry.Rect{Min: geometry.Pt(10, 40), Max: geometry.Pt(60, 90)},
	}})
	if err != nil {
		t.Fatalf("Boxes() error = %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 200, 120) {
		t.Fatalf("Boxes must draw on the full frame, got %v", out.Bounds())
	}
	if got := out.At(35, 40); !near(got, palette.ObjectColor("car")) {
		t.Errorf("top edge pixel = %v, want car color", got)
	}
	if got := out.At(35, 65); !near(got, color.RGBA{0, 0, 0, 255}) {
		t.Errorf("box interior must stay unfilled, got %v", got)
	}
}
