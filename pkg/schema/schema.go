// Package schema decides which vendor dialect an annotation file speaks and
// where its paired images live.
//
// The decision is a pure function of the path: the name of the directory two
// levels above the file. Loading and saving both go through Classify so a
// file is always written back in the dialect it was read in.
package schema

import (
	"path/filepath"
	"strings"
)

// Kind identifies one of the supported annotation dialects
type Kind int

// Supported dialects
const (
	AVM Kind = iota
	Slot
	OD2D
)

// Directory-name prefixes that route to the non-default dialects
const (
	SlotPrefix = "Slot_"
	OD2DPrefix = "2D-OD_"
)

func (k Kind) String() string {
	switch k {
	case AVM:
		return "avm"
	case Slot:
		return "slot"
	case OD2D:
		return "2d-od"
	}
	return "unknown"
}

// Classify returns the dialect of the annotation file at path
func Classify(path string) Kind {
	name := filepath.Base(filepath.Dir(filepath.Dir(path)))
	switch {
	case strings.HasPrefix(name, SlotPrefix):
		return Slot
	case strings.HasPrefix(name, OD2DPrefix):
		return OD2D
	}
	return AVM
}

// Sibling directory names under the sequence root
const (
	VisDir   = "vis_avm"
	AVMDir   = "AVM"
	ImageDir = "image"
)

// Layout resolves the files paired with an annotation file. Root is the
// grandparent directory, the same one Classify inspects.
type Layout struct {
	Root string
	Stem string
}

// LayoutFor derives the Layout of the annotation file at path
func LayoutFor(path string) Layout {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	base := filepath.Base(abs)
	return Layout{
		Root: filepath.Dir(filepath.Dir(abs)),
		Stem: strings.TrimSuffix(base, filepath.Ext(base)),
	}
}

// VisPath is the side-by-side visualization image that saves refresh
func (l Layout) VisPath() string {
	return filepath.Join(l.Root, VisDir, l.Stem+".png")
}

// AVMPath is the raw surround-view frame
func (l Layout) AVMPath() string {
	return filepath.Join(l.Root, AVMDir, l.Stem+".jpg")
}

// ImagePath is the raw camera frame used by box annotations
func (l Layout) ImagePath() string {
	return filepath.Join(l.Root, ImageDir, l.Stem+".jpg")
}
