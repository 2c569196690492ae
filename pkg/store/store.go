// Package store loads and saves annotation files. It routes every path to
// its dialect, pairs the annotation with its images and refreshes the
// visualization after a save.
//
// Saving is best effort: the JSON is written before the visualization is
// rendered, so a failing render leaves the new JSON next to a stale image.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/menta2k/avm-annotator/internal/logger"
	"github.com/menta2k/avm-annotator/internal/utils"
	"github.com/menta2k/avm-annotator/pkg/format"
	"github.com/menta2k/avm-annotator/pkg/format/avm"
	"github.com/menta2k/avm-annotator/pkg/format/od2d"
	"github.com/menta2k/avm-annotator/pkg/format/slot"
	"github.com/menta2k/avm-annotator/pkg/overlay"
	"github.com/menta2k/avm-annotator/pkg/processing"
	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

// Error is returned by every Store operation
type Error struct {
	Op   string
	Path string
	Kind schema.Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config contains store settings
type Config struct {
	Processing processing.Config
	Overlay    overlay.Config
}

// DefaultConfig returns default store settings
func DefaultConfig() Config {
	return Config{
		Processing: processing.DefaultConfig(),
		Overlay:    overlay.DefaultConfig(),
	}
}

// Store coordinates the dialect adapters
type Store struct {
	proc     *processing.Processor
	adapters map[schema.Kind]format.Adapter
}

// New creates a store with default settings
func New() *Store {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a store with custom settings
func NewWithConfig(cfg Config) *Store {
	proc := processing.NewProcessorWithConfig(cfg.Processing)
	comp := overlay.NewWithConfig(cfg.Overlay)
	return &Store{
		proc: proc,
		adapters: map[schema.Kind]format.Adapter{
			schema.AVM:  avm.New(proc, comp),
			schema.Slot: slot.New(proc, comp),
			schema.OD2D: od2d.New(proc, comp),
		},
	}
}

// Adapter returns the adapter registered for kind
func (s *Store) Adapter(kind schema.Kind) format.Adapter {
	return s.adapters[kind]
}

// Processor returns the image codec shared by the adapters
func (s *Store) Processor() *processing.Processor {
	return s.proc
}

// Loaded is the result of Load
type Loaded struct {
	Path     string
	Kind     schema.Kind
	Document *format.Document
	// Image is the picture being annotated
	Image image.Image
	// Reference is the raw frame, nil when it could not be loaded
	Reference image.Image
}

// Read parses the annotation file at path without touching its images
func (s *Store) Read(path string) (*format.Document, error) {
	kind := schema.Classify(path)
	doc, err := s.read(kind, path)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Kind: kind, Err: err}
	}
	return doc, nil
}

func (s *Store) read(kind schema.Kind, path string) (*format.Document, error) {
	data, err := format.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.adapters[kind].Parse(data)
}

// Load parses the annotation file at path and loads its paired images. A
// missing reference frame is logged and tolerated.
func (s *Store) Load(path string) (*Loaded, error) {
	kind := schema.Classify(path)
	wrap := func(err error) error {
		return &Error{Op: "load", Path: path, Kind: kind, Err: err}
	}

	doc, err := s.read(kind, path)
	if err != nil {
		return nil, wrap(err)
	}

	imgs := s.adapters[kind].Images(schema.LayoutFor(path))
	var primary image.Image
	if imgs.RightHalf {
		primary, err = s.proc.LoadRightHalf(imgs.Primary)
	} else {
		primary, err = s.proc.LoadImage(imgs.Primary)
	}
	if err != nil {
		return nil, wrap(err)
	}

	out := &Loaded{Path: path, Kind: kind, Document: doc, Image: primary}
	if imgs.Reference != "" {
		ref, err := s.proc.LoadImage(imgs.Reference)
		if err != nil {
			logger.Logger().Warn("reference image unavailable", "path", imgs.Reference, "error", err)
		} else {
			out.Reference = ref
		}
	}

	logger.Logger().Info("annotation loaded", "path", path, "kind", kind.String(), "shapes", len(doc.Shapes))
	return out, nil
}

// Save writes shapes to path. Passthrough entries of the file being
// replaced are preserved.
func (s *Store) Save(path string, shapes []*shape.Shape) error {
	return s.SaveDocument(path, &format.Document{Shapes: shapes})
}

// SaveDocument serializes doc to path, creating missing directories, and
// then refreshes the visualization image from the written file. When
// doc.Passthrough is nil it is recovered from the existing file.
func (s *Store) SaveDocument(path string, doc *format.Document) error {
	kind := schema.Classify(path)
	wrap := func(err error) error {
		return &Error{Op: "save", Path: path, Kind: kind, Err: err}
	}
	a := s.adapters[kind]

	out := *doc
	if out.Passthrough == nil {
		out.Passthrough = s.previousPassthrough(kind, path)
	}

	data, err := a.Serialize(&out)
	if err != nil {
		return wrap(err)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return wrap(fmt.Errorf("failed to create directory: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrap(fmt.Errorf("failed to write annotation: %w", err))
	}
	logger.Logger().Info("annotation saved", "path", path, "kind", kind.String(), "shapes", len(doc.Shapes))

	saved, err := format.ReadFile(path)
	if err != nil {
		return wrap(err)
	}
	if err := a.Composite(saved, schema.LayoutFor(path)); err != nil {
		return wrap(fmt.Errorf("annotation written but visualization failed: %w", err))
	}
	return nil
}

func (s *Store) previousPassthrough(kind schema.Kind, path string) []json.RawMessage {
	prev, err := s.read(kind, path)
	if err != nil {
		if !errors.Is(err, format.ErrFileNotFound) {
			logger.Logger().Warn("cannot recover passthrough entries", "path", path, "error", err)
		}
		return nil
	}
	return prev.Passthrough
}
