// Package history keeps a bounded stack of shape-set snapshots for undo.
//
// A snapshot is pushed after every completed edit, never before, so the top
// of the stack always mirrors the live shape set. Undoing therefore needs at
// least two snapshots: the current one and the one to go back to.
package history

import (
	"errors"

	"github.com/menta2k/avm-annotator/pkg/shape"
)

// ErrUnrestorable is returned by Restore when fewer than two snapshots exist
var ErrUnrestorable = errors.New("nothing to restore")

// DefaultCapacity matches the number of undo steps kept when none is configured
const DefaultCapacity = 10

// Stack is a bounded snapshot history. It is not safe for concurrent use.
type Stack struct {
	capacity  int
	snapshots [][]*shape.Shape
}

// New creates a Stack with DefaultCapacity
func New() *Stack {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a Stack keeping capacity prior states plus the
// current one. Non-positive capacities fall back to DefaultCapacity.
func NewWithCapacity(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{capacity: capacity}
}

// Capacity returns the number of prior states retained
func (s *Stack) Capacity() int {
	return s.capacity
}

// Len returns the number of snapshots currently held
func (s *Stack) Len() int {
	return len(s.snapshots)
}

// Push deep-copies shapes and appends them as the newest snapshot, dropping
// the oldest entries beyond capacity+1.
func (s *Stack) Push(shapes []*shape.Shape) {
	s.snapshots = append(s.snapshots, shape.CopyAll(shapes))
	if over := len(s.snapshots) - (s.capacity + 1); over > 0 {
		// copy down so the dropped snapshots can be collected
		s.snapshots = append(s.snapshots[:0:0], s.snapshots[over:]...)
	}
}

// IsRestorable reports whether a prior snapshot exists
func (s *Stack) IsRestorable() bool {
	return len(s.snapshots) >= 2
}

// Restore discards the newest snapshot and returns a deep copy of the one
// below it, which becomes the new top. Nothing changes when the stack is not
// restorable.
func (s *Stack) Restore() ([]*shape.Shape, error) {
	if !s.IsRestorable() {
		return nil, ErrUnrestorable
	}
	s.snapshots = s.snapshots[:len(s.snapshots)-1]
	return shape.CopyAll(s.snapshots[len(s.snapshots)-1]), nil
}

// Current returns a deep copy of the newest snapshot, or nil when empty
func (s *Stack) Current() []*shape.Shape {
	if len(s.snapshots) == 0 {
		return nil
	}
	return shape.CopyAll(s.snapshots[len(s.snapshots)-1])
}

// Reset drops every snapshot
func (s *Stack) Reset() {
	s.snapshots = nil
}
