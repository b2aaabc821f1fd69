package contentstream

import (
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/resources"
)

// TextRenderMode matches PDF text rendering modes set via Tr operator.
type TextRenderMode int

const (
	TextFill TextRenderMode = iota
	TextStroke
	TextFillStroke
	TextInvisible
	TextFillClip
	TextStrokeClip
	TextFillStrokeClip
	TextClip
)

// ItemKind classifies a traced painting operation.
type ItemKind int

const (
	ItemText ItemKind = iota
	ItemPath
	ItemImage
	ItemShading
	ItemForm
)

func (k ItemKind) String() string {
	switch k {
	case ItemText:
		return "text"
	case ItemPath:
		return "path"
	case ItemImage:
		return "image"
	case ItemShading:
		return "shading"
	case ItemForm:
		return "form"
	}
	return "unknown"
}

// Item is one operation that marks the page, with its page-space geometry.
type Item struct {
	Kind ItemKind
	// Index is the position of the operation in the traced stream.
	Index int
	// Depth is 0 for page content and grows by one per form XObject.
	Depth int
	Op    *Operation
	// State is the graphics state the operation paints with.
	State  GraphicsState
	Bounds coords.Rect

	Glyphs []GlyphBox

	// paths
	Path *Path

	// XObjects
	Name   string
	Object raw.Object
	Stream *raw.StreamObj
	// Matrix is the form matrix; Scope the resources the form resolves
	// names against.
	Matrix coords.Matrix
	Scope  *resources.Scope
	Inline bool
}

// GlyphBox is one shown glyph.
type GlyphBox struct {
	fonts.Glyph
	Quad coords.Quad
	// Origin is the glyph origin on the baseline. EmX and EmY are the
	// page-space vectors of one text-space unit along and across the
	// baseline, font size and scaling included.
	Origin   coords.Point
	EmX, EmY coords.Point
	// Next is where the following glyph starts when nothing but the
	// glyph advance, character and word spacing moves the text position.
	Next coords.Point
	// Element is the index of the string in a TJ array, 0 otherwise.
	Element int
	// Offset is the byte offset of the glyph code within its string.
	Offset int
	// Adjust is the TJ number that displaces the text position exactly as
	// showing this glyph does.
	Adjust float64
}

// SegmentKind is a path construction step.
type SegmentKind int

const (
	SegMove SegmentKind = iota
	SegLine
	SegCurve
	SegClose
	SegRect
)

// Segment is a construction step in user space. Curves carry their two
// control points before the end point; rectangles carry the four corners.
type Segment struct {
	Kind   SegmentKind
	Points []coords.Point
	Op     int
}

// Subpath is a sequence of segments starting with a move or a rectangle.
type Subpath struct {
	Segments []Segment
}

// First and Last are the operation indexes the subpath was built from.
func (s Subpath) First() int { return s.Segments[0].Op }
func (s Subpath) Last() int  { return s.Segments[len(s.Segments)-1].Op }

// Closed reports whether the subpath ends with h or is a rectangle.
func (s Subpath) Closed() bool {
	last := s.Segments[len(s.Segments)-1].Kind
	return last == SegClose || (len(s.Segments) == 1 && last == SegRect)
}

// Points returns every point of the subpath, control points included.
func (s Subpath) Points() []coords.Point {
	var pts []coords.Point
	for _, seg := range s.Segments {
		pts = append(pts, seg.Points...)
	}
	return pts
}

// Path is the current path at a painting operator.
type Path struct {
	Subpaths []Subpath
	// Start is the index of the first construction operation.
	Start int
	// ClipOp is the index of a W or W* operation, or -1.
	ClipOp int
	// Paint is the painting operator.
	Paint     string
	LineWidth float64
}

// Stroked reports whether the painting operator strokes the path.
func (p *Path) Stroked() bool {
	switch p.Paint {
	case "S", "s", "B", "B*", "b", "b*":
		return true
	}
	return false
}

// Filled reports whether the painting operator fills the path.
func (p *Path) Filled() bool {
	switch p.Paint {
	case "f", "F", "f*", "B", "B*", "b", "b*":
		return true
	}
	return false
}

// Polyline reports whether every subpath is made of straight segments.
func (p *Path) Polyline() bool {
	for _, sp := range p.Subpaths {
		for _, seg := range sp.Segments {
			if seg.Kind == SegCurve || seg.Kind == SegRect {
				return false
			}
		}
	}
	return len(p.Subpaths) > 0
}

// RectsOnly reports whether the path is made only of re operations.
func (p *Path) RectsOnly() bool {
	for _, sp := range p.Subpaths {
		if len(sp.Segments) != 1 || sp.Segments[0].Kind != SegRect {
			return false
		}
	}
	return len(p.Subpaths) > 0
}
