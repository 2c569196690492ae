// Package overlay renders the visualization images refreshed after every
// save: the semantic map of surround-view polygons, parking-slot marks and
// labelled object boxes.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/palette"
	"github.com/menta2k/avm-annotator/pkg/processing"
)

// Config contains compositor settings
type Config struct {
	RegionSize   int     // side of the square editable column
	MarkerRadius float64 // keypoint radius
	LineWidth    float64
	FontSize     float64
}

// DefaultConfig returns the settings matching the vendor visualizations
func DefaultConfig() Config {
	return Config{
		RegionSize:   896,
		MarkerRadius: 5,
		LineWidth:    1,
		FontSize:     12,
	}
}

// Compositor draws overlays
type Compositor struct {
	config Config

	faceOnce sync.Once
	face     font.Face
	faceErr  error
}

// New creates a compositor with default settings
func New() *Compositor {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a compositor with custom settings
func NewWithConfig(cfg Config) *Compositor {
	def := DefaultConfig()
	if cfg.RegionSize <= 0 {
		cfg.RegionSize = def.RegionSize
	}
	if cfg.MarkerRadius <= 0 {
		cfg.MarkerRadius = def.MarkerRadius
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = def.LineWidth
	}
	if cfg.FontSize <= 0 {
		cfg.FontSize = def.FontSize
	}
	return &Compositor{config: cfg}
}

// RegionSize is the side of the square column overlays are pasted into
func (c *Compositor) RegionSize() int {
	return c.config.RegionSize
}

// Polygon is one filled region of the semantic map
type Polygon struct {
	Label  string
	Points []geometry.Point
}

// Segmentation rasterizes polygons onto a white RegionSize square. Regions
// are painted in palette order so later layers cover earlier ones.
func (c *Compositor) Segmentation(polys []Polygon) image.Image {
	size := c.config.RegionSize
	dc := gg.NewContext(size, size)
	dc.SetColor(color.White)
	dc.Clear()

	ordered := append([]Polygon(nil), polys...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return palette.PaintRank(ordered[i].Label) < palette.PaintRank(ordered[j].Label)
	})

	for _, p := range ordered {
		if len(p.Points) < 3 {
			continue
		}
		for i, pt := range p.Points {
			// vertices snap to the pixel grid like the vendor renderer
			x, y := math.Trunc(pt.X), math.Trunc(pt.Y)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
		dc.SetColor(palette.SegmentationColor(p.Label))
		dc.Fill()
	}
	return dc.Image()
}

// ReplaceRight keeps the left part of base and pastes region, resized to a
// RegionSize square, into its right column.
func (c *Compositor) ReplaceRight(base, region image.Image) *image.NRGBA {
	size := c.config.RegionSize
	b := base.Bounds()
	split := b.Dx() - size

	out := imaging.New(b.Dx(), b.Dy(), color.NRGBA{0, 0, 0, 255})
	if split > 0 {
		left := processing.LeftPart(base, split)
		out = imaging.Paste(out, left, image.Pt(0, 0))
	}
	resized := imaging.Resize(region, size, size, imaging.Lanczos)
	return imaging.Paste(out, resized, image.Pt(split, 0))
}

// Mark is one parking-slot element keyed by its child type
type Mark struct {
	Kind   string
	Points []geometry.Point
}

// Slot draws marks over the left part of base and shows the result in the
// right column. Marks of unknown kinds are ignored.
func (c *Compositor) Slot(base image.Image, marks []Mark) *image.NRGBA {
	size := c.config.RegionSize
	b := base.Bounds()
	width := b.Dx() - size
	if width <= 0 {
		width = b.Dx()
	}
	left := processing.LeftPart(base, width)

	dc := gg.NewContextForImage(left)
	dc.SetLineWidth(c.config.LineWidth)
	for _, m := range marks {
		col, ok := palette.Slot[m.Kind]
		if !ok || len(m.Points) == 0 {
			continue
		}
		dc.SetColor(col)
		if m.Kind == "keypoint" {
			p := m.Points[0]
			dc.DrawCircle(math.Trunc(p.X), math.Trunc(p.Y), c.config.MarkerRadius)
			dc.Fill()
			continue
		}
		if len(m.Points) < 2 {
			continue
		}
		for i, p := range m.Points {
			x, y := math.Trunc(p.X)+0.5, math.Trunc(p.Y)+0.5
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.Stroke()
	}
	return c.ReplaceRight(base, dc.Image())
}

// Box is one labelled object rectangle in image pixels
type Box struct {
	Label string
	Rect  geometry.Rect
}

// Boxes draws 1 px rectangles and their labels over the full base image
func (c *Compositor) Boxes(base image.Image, boxes []Box) (*image.NRGBA, error) {
	face, err := c.fontFace()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContextForImage(base)
	dc.SetFontFace(face)
	dc.SetLineWidth(c.config.LineWidth)
	for _, box := range boxes {
		x0, y0 := math.Round(box.Rect.Min.X), math.Round(box.Rect.Min.Y)
		x1, y1 := math.Round(box.Rect.Max.X), math.Round(box.Rect.Max.Y)

		dc.SetColor(palette.ObjectColor(box.Label))
		dc.DrawRectangle(x0+0.5, y0+0.5, x1-x0, y1-y0)
		dc.Stroke()
		dc.DrawString(box.Label, x0, y0-10)
	}
	return imaging.Clone(dc.Image()), nil
}

func (c *Compositor) fontFace() (font.Face, error) {
	c.faceOnce.Do(func() {
		f, err := truetype.Parse(gomono.TTF)
		if err != nil {
			c.faceErr = fmt.Errorf("failed to parse font: %w", err)
			return
		}
		c.face = truetype.NewFace(f, &truetype.Options{
			Size:    c.config.FontSize,
			DPI:     72,
			Hinting: font.HintingFull,
		})
	})
	return c.face, c.faceErr
}
