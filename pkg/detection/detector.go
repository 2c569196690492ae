package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"regexp"
	"strings"

	"github.com/fogleman/gg"

	"github.com/menta2k/avm-annotator/pkg/client"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/geometry"
	"github.com/menta2k/avm-annotator/pkg/llamacpp"
	"github.com/menta2k/avm-annotator/pkg/ollama"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/shape"
	"github.com/menta2k/avm-annotator/pkg/types"
)

// ErrNoOutline is returned when the model answer holds fewer than three
// distinct vertices.
var ErrNoOutline = errors.New("model returned no usable outline")

// OutlinePrompt asks for a polygon around the object marked by the clicks.
// The single %s receives the JSON encoded click list.
const OutlinePrompt = `You are an image segmentation assistant.

The user clicked these points (normalized to [0,1], x right, y down):
%s

"foreground": true marks a point ON the object to outline.
"foreground": false marks a point that must stay OUTSIDE the outline.

Return JSON only:
{
  "label": "string",
  "confidence": 0.0,
  "polygon": [[x, y], [x, y], [x, y]]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The polygon must enclose every foreground point and no background point.
- Trace the object boundary clockwise with 3 to 64 vertices.
- If no object is found, return {"label":"none","confidence":0.0,"polygon":[]}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// NewClient creates the vision client selected by cfg.Backend
func NewClient(cfg types.ModelConfig) (client.VisionClient, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "ollama":
		url := cfg.URL
		if url == "" {
			url = "http://localhost:11434"
		}
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp", "llama.cpp":
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown backend %q (use 'ollama' or 'llamacpp')", cfg.Backend)
}

// Predictor turns prompt clicks into polygons and masks using a vision model
type Predictor struct {
	client client.VisionClient
	model  string
	maxDim int
	proc   *processing.Processor
}

// NewPredictor creates a predictor. maxDim bounds the longest image side
// sent to the model; zero sends the image unscaled.
func NewPredictor(c client.VisionClient, model string, maxDim int) *Predictor {
	return &Predictor{
		client: c,
		model:  model,
		maxDim: maxDim,
		proc:   processing.NewProcessor(),
	}
}

// PredictPolygon returns the outline of the object marked by points, in the
// pixel space of img. labels runs parallel to points; a missing entry counts
// as foreground.
func (p *Predictor) PredictPolygon(ctx context.Context, img image.Image, points []geometry.Point, labels []int) ([]geometry.Point, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no prompt points")
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	prompts := make([]types.PromptPoint, len(points))
	for i, pt := range points {
		prompts[i] = types.PromptPoint{
			X:          clamp((pt.X-float64(b.Min.X))/w, 0, 1),
			Y:          clamp((pt.Y-float64(b.Min.Y))/h, 0, 1),
			Foreground: i >= len(labels) || labels[i] != shape.Background,
		}
	}
	promptJSON, err := json.Marshal(prompts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt points: %w", err)
	}

	imgB64, err := p.proc.EncodeBase64(img, "png", p.maxDim)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	raw, err := p.client.Query(ctx, p.model, fmt.Sprintf(OutlinePrompt, promptJSON), imgB64)
	if err != nil {
		return nil, err
	}

	outline, err := parseOutline(raw)
	if err != nil {
		return nil, err
	}

	sw, sh := sentSize(b.Dx(), b.Dy(), p.maxDim)
	return toPixels(outline.Polygon, b, sw, sh)
}

// PredictMask predicts the outline and rasterizes it into a bitmap aligned
// to the returned integer bounding box.
func (p *Predictor) PredictMask(ctx context.Context, img image.Image, points []geometry.Point, labels []int) (*shape.Bitmap, geometry.Rect, error) {
	poly, err := p.PredictPolygon(ctx, img, points, labels)
	if err != nil {
		return nil, geometry.Rect{}, err
	}
	mask, rect := Rasterize(poly)
	return mask, rect, nil
}

// Rasterize fills poly into a bitmap covering its bounds snapped outward to
// whole pixels.
func Rasterize(poly []geometry.Point) (*shape.Bitmap, geometry.Rect) {
	r := geometry.Bounds(poly)
	x0, y0 := math.Floor(r.Min.X), math.Floor(r.Min.Y)
	x1, y1 := math.Ceil(r.Max.X), math.Ceil(r.Max.Y)
	w, h := int(x1-x0), int(y1-y0)
	if w < 1 {
		w, x1 = 1, x0+1
	}
	if h < 1 {
		h, y1 = 1, y0+1
	}

	dc := gg.NewContext(w, h)
	for i, pt := range poly {
		if i == 0 {
			dc.MoveTo(pt.X-x0, pt.Y-y0)
		} else {
			dc.LineTo(pt.X-x0, pt.Y-y0)
		}
	}
	dc.ClosePath()
	dc.SetColor(color.White)
	dc.Fill()

	out := dc.Image()
	mask := shape.NewBitmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// half-covered edge pixels count as inside
			if _, _, _, a := out.At(x, y).RGBA(); a >= 0x8000 {
				mask.Set(x, y, true)
			}
		}
	}
	return mask, geometry.Rect{Min: geometry.Pt(x0, y0), Max: geometry.Pt(x1, y1)}
}

func parseOutline(raw string) (*types.Outline, error) {
	cleaned, err := format.Standardize([]byte(sanitizeModelJSON(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoOutline, err)
	}
	var outline types.Outline
	if err := json.Unmarshal(cleaned, &outline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoOutline, err)
	}
	return &outline, nil
}

// toPixels maps model coordinates back onto img bounds. Coordinates are
// expected normalized; an answer with any value above 1 is taken as pixels
// of the sent sw x sh image instead.
func toPixels(poly [][2]float64, b image.Rectangle, sw, sh int) ([]geometry.Point, error) {
	pixels := false
	for _, v := range poly {
		if v[0] > 1 || v[1] > 1 {
			pixels = true
			break
		}
	}

	w, h := float64(b.Dx()), float64(b.Dy())
	out := make([]geometry.Point, 0, len(poly))
	for _, v := range poly {
		x, y := v[0], v[1]
		if pixels {
			x /= float64(sw)
			y /= float64(sh)
		}
		pt := geometry.Pt(
			float64(b.Min.X)+clamp(x, 0, 1)*w,
			float64(b.Min.Y)+clamp(y, 0, 1)*h,
		)
		if n := len(out); n > 0 && out[n-1] == pt {
			continue
		}
		out = append(out, pt)
	}
	if n := len(out); n > 1 && out[0] == out[n-1] {
		out = out[:n-1]
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("%w: %d vertices", ErrNoOutline, len(out))
	}
	return out, nil
}

// sentSize mirrors the downscale applied by EncodeBase64
func sentSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, int(math.Round(float64(h)*float64(maxDim)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(maxDim)/float64(h)))), maxDim
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips the wrapping models put around JSON answers.
// Line comments are left to Standardize, which knows about string literals.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}
