// Package format defines the contract shared by the vendor annotation
// dialects and the JSON helpers they have in common.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/menta2k/avm-annotator/pkg/schema"
	"github.com/menta2k/avm-annotator/pkg/shape"
)

// Failure kinds reported by the adapters
var (
	ErrFileNotFound     = errors.New("annotation file not found")
	ErrMalformedJSON    = errors.New("malformed annotation json")
	ErrSchemaMismatch   = errors.New("annotation schema mismatch")
	ErrUnsupportedShape = errors.New("shape type not supported by dialect")
)

// Document is the in-memory form of one annotation file
type Document struct {
	Shapes []*shape.Shape
	// Passthrough holds entries that are carried through load and save
	// without being edited. nil on save means "recover them from the file
	// being overwritten".
	Passthrough []json.RawMessage
}

// Images names the pictures paired with an annotation file
type Images struct {
	// Primary is what gets annotated. RightHalf keeps only the right half of
	// the decoded file.
	Primary   string
	RightHalf bool
	// Reference is an optional raw frame; failing to load it is not fatal
	Reference string
}

// Adapter maps canonical shapes to and from one vendor dialect
type Adapter interface {
	Kind() schema.Kind
	Parse(data []byte) (*Document, error)
	Serialize(doc *Document) ([]byte, error)
	Images(l schema.Layout) Images
	// Composite refreshes the visualization image from the bytes that were
	// just written to disk.
	Composite(saved []byte, l schema.Layout) error
}

// Envelope is the top level object every dialect writes
type Envelope struct {
	Anno        []json.RawMessage `json:"anno"`
	Index       string            `json:"index"`
	PublicAttrs PublicAttrs       `json:"publicAttrs"`
	Version     string            `json:"version"`
}

// PublicAttrs carries the canvas size of the annotated frame
type PublicAttrs struct {
	FileHeight int `json:"fileHeight"`
	FileWidth  int `json:"fileWidth"`
}

// Version is the envelope version tag
const Version = "7.0"

// NewEnvelope returns an empty envelope for a w x h frame
func NewEnvelope(w, h int) *Envelope {
	return &Envelope{
		Anno:        []json.RawMessage{},
		PublicAttrs: PublicAttrs{FileHeight: h, FileWidth: w},
		Version:     Version,
	}
}

// Marshal renders the envelope with two-space indentation. Strings are
// written unescaped so passthrough text keeps its bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadFile reads an annotation file, mapping a missing file to
// ErrFileNotFound.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Decode unmarshals annotation JSON. Comments and trailing commas are
// tolerated; anything else that fails is ErrMalformedJSON.
func Decode(data []byte, v any) error {
	std, err := Standardize(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if err := json.Unmarshal(std, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

// DecodeEnvelope extracts the raw entries of the top level "anno" array
func DecodeEnvelope(data []byte) ([]json.RawMessage, error) {
	var env struct {
		Anno *[]json.RawMessage `json:"anno"`
	}
	if err := Decode(data, &env); err != nil {
		return nil, err
	}
	if env.Anno == nil {
		return nil, fmt.Errorf("%w: missing \"anno\" array", ErrSchemaMismatch)
	}
	return *env.Anno, nil
}

// DescriptionDelimiter joins the fields packed into a shape description.
// Field values are not escaped.
const DescriptionDelimiter = "+"

// PackDescription joins fields with DescriptionDelimiter
func PackDescription(fields ...string) string {
	return strings.Join(fields, DescriptionDelimiter)
}

// UnpackDescription splits desc into exactly n fields. Missing trailing
// fields are empty and surplus ones are dropped, so a value that contains
// the delimiter shifts every later field. exact reports whether desc held
// precisely n fields.
func UnpackDescription(desc string, n int) (fields []string, exact bool) {
	parts := strings.Split(desc, DescriptionDelimiter)
	exact = len(parts) == n
	fields = make([]string, n)
	copy(fields, parts)
	return fields, exact
}
