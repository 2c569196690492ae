package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/avm-annotator/internal/utils"
)

// ErrImageLoad is returned when a paired image is missing or undecodable
var ErrImageLoad = errors.New("image load failed")

// Config controls encoding of written images
type Config struct {
	JPEGQuality  int
	WebPLossless bool
}

// DefaultConfig returns the encoder settings used for visualization images
func DefaultConfig() Config {
	return Config{JPEGQuality: 95, WebPLossless: true}
}

// Processor handles image decode, encode and region operations
type Processor struct {
	config Config
}

// NewProcessor creates a new image processor with default settings
func NewProcessor() *Processor {
	return NewProcessorWithConfig(DefaultConfig())
}

// NewProcessorWithConfig creates an image processor with custom settings
func NewProcessorWithConfig(cfg Config) *Processor {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	return &Processor{config: cfg}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageLoad, path, err)
	}
	return img, nil
}

// LoadRightHalf loads an image and keeps the half right of its vertical
// midline, where side-by-side visualizations hold the editable frame.
func (p *Processor) LoadRightHalf(path string) (image.Image, error) {
	img, err := p.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return RightHalf(img), nil
}

// DecodeImage decodes an image from byte data with WebP support
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	// Try standard image.Decode first
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// SaveImage writes img to path, picking the encoder from the extension.
// Missing parent directories are created.
func (p *Processor) SaveImage(img image.Image, path string) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: p.config.WebPLossless, Quality: float32(p.config.JPEGQuality)}
		return webp.Encode(f, img, opts)
	case ".jpg", ".jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(p.config.JPEGQuality))
	default:
		return imaging.Save(img, path)
	}
}

// EncodeBase64 converts an image to base64 for sending to vision models.
// Images larger than maxDim on either side are downscaled first.
func (p *Processor) EncodeBase64(img image.Image, format string, maxDim int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.config.JPEGQuality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// RightHalf crops img to the columns at and after width/2
func RightHalf(img image.Image) *image.NRGBA {
	b := img.Bounds()
	return imaging.Crop(img, image.Rect(b.Min.X+b.Dx()/2, b.Min.Y, b.Max.X, b.Max.Y))
}

// LeftPart crops img to its first width columns, clamped to the image
func LeftPart(img image.Image, width int) *image.NRGBA {
	b := img.Bounds()
	if width > b.Dx() {
		width = b.Dx()
	}
	if width < 0 {
		width = 0
	}
	return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+width, b.Max.Y))
}
