// Package palette is the single home of every label→color table used by the
// compositors and by the pixel-based category lookup.
package palette

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Segmentation colors of the surround-view semantic map
var Segmentation = map[string]color.RGBA{
	"Background":           {70, 70, 70, 255},
	"Road":                 {128, 64, 128, 255},
	"Lane_line":            {240, 240, 240, 255},
	"Parking_line":         {70, 120, 120, 255},
	"Parking_slot":         {70, 12, 120, 255},
	"Arrow":                {70, 120, 12, 255},
	"Crosswalk_line":       {0, 120, 120, 255},
	"No_parking_sign_line": {200, 120, 120, 255},
	"Speed_bump":           {70, 200, 120, 255},
	"Parking_lock_open":    {70, 120, 200, 255},
	"Parking_lock_closed":  {100, 0, 0, 255},
	"Traffic_cone":         {130, 100, 10, 255},
	"Parking_rod":          {250, 120, 120, 255},
	"Limiter_pole":         {70, 0, 250, 255},
	"Pillar":               {250, 170, 160, 255},
	"Immovable_obstacle":   {150, 120, 90, 255},
	"Person":               {220, 20, 60, 255},
	"Car":                  {0, 0, 142, 255},
	"self_car":             {20, 180, 80, 255},
	"Curb":                 {140, 100, 100, 255},
	"Movable_obstacle":     {230, 150, 140, 255},
	"Guide_line":           {160, 160, 160, 255},
	"Center_lane":          {170, 10, 10, 255},
	"Cover":                {170, 170, 170, 255},
	"sewer":                {100, 20, 10, 255},
}

// SegmentationFallback paints labels missing from Segmentation
var SegmentationFallback = color.RGBA{0, 0, 0, 255}

// SegmentationColor returns the semantic-map color for label
func SegmentationColor(label string) color.RGBA {
	if c, ok := Segmentation[label]; ok {
		return c
	}
	return SegmentationFallback
}

// Paint order of the semantic map. Base goes first, then Priority in order,
// then every other label, and Topmost always last.
var (
	PaintBase     = "Road"
	PaintPriority = []string{"Parking_slot", "Parking_line", "Center_lane"}
	PaintTopmost  = "self_car"
)

// PaintRank orders labels for the semantic map; lower ranks are painted first
func PaintRank(label string) int {
	if label == PaintBase {
		return 0
	}
	for i, p := range PaintPriority {
		if label == p {
			return 1 + i
		}
	}
	if label == PaintTopmost {
		return len(PaintPriority) + 2
	}
	return len(PaintPriority) + 1
}

// CategoryThreshold is the largest squared RGB distance still accepted by
// ClosestCategory.
const CategoryThreshold = 100

// ClosestCategory maps a pixel of the semantic map back to its label. ok is
// false when no palette entry lies within CategoryThreshold.
func ClosestCategory(c color.Color) (label string, ok bool) {
	r, g, b, _ := c.RGBA()
	pr, pg, pb := int(r>>8), int(g>>8), int(b>>8)

	best := -1
	for name, pc := range Segmentation {
		dr := pr - int(pc.R)
		dg := pg - int(pc.G)
		db := pb - int(pc.B)
		d := dr*dr + dg*dg + db*db
		// ties resolve by name so the answer does not depend on map order
		if best < 0 || d < best || (d == best && name < label) {
			best = d
			label = name
		}
	}
	if best < 0 || best > CategoryThreshold {
		return "", false
	}
	return label, true
}

// Objects holds the hex colors of the 2D box classes
var Objects = map[string]string{
	"standing_pedestrian": "#808708",
	"car":                 "#FFF200",
	"rider":               "#68818C",
	"truck":               "#FFFFFF",
	"bus":                 "#FFFFFF",
	"motorbike":           "#75F305",
	"pillar":              "#70E2AA",
	"anticollision":       "#E03F23",
	"bumping_post":        "#FFFFFF",
	"traffic_cones":       "#5EF2F2",
	"shopping_cart":       "#FFFFFF",
	"babycart":            "#FFFFFF",
	"drum":                "#99C4C3",
	"Turnstile_opened":    "#FFFFFF",
	"Turnstile_closed":    "#FFFFFF",
	"fire_hydrant":        "#924F44",
	"electric_closet":     "#FFFFFF",
	"charging_pile":       "#FFFFFF",
	"ground_lock_open":    "#488D7F",
	"ground_lock_close":   "#BCE784",
	"limiter":             "#827AF9",
	"limiter_pole":        "#FFFFFF",
	"front":               "#AC5AA1",
	"rear":                "#429B1D",
	"light":               "#191479",
	"plate":               "#A6261B",
}

// ObjectFallback is used for box classes missing from Objects
const ObjectFallback = "#FFFFFF"

// ObjectHex returns the hex color of a 2D box class
func ObjectHex(label string) string {
	if h, ok := Objects[label]; ok {
		return h
	}
	return ObjectFallback
}

// ObjectColor returns the drawable color of a 2D box class
func ObjectColor(label string) color.RGBA {
	c, err := ParseHex(ObjectHex(label))
	if err != nil {
		c, _ = ParseHex(ObjectFallback)
	}
	return c
}

// Slot overlay colors keyed by the entry child type
var Slot = map[string]color.RGBA{
	"keypoint":      {255, 0, 0, 255},
	"line":          {0, 255, 255, 255},
	"entrance_line": {0, 0, 255, 255},
	"rear_line":     {255, 165, 0, 255},
}

// Attribute colors written into slot entries
const (
	SlotMarkHex    = "#FF0000"
	SlotVehicleHex = "#000000"
)

// ParseHex decodes "#RRGGBB" into an opaque color
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
