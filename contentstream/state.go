package contentstream

import (
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
)

// TextState holds the text parameters that q/Q save and restore.
type TextState struct {
	CharSpacing float64
	WordSpacing float64
	// HScale is Tz divided by 100.
	HScale   float64
	Leading  float64
	Font     *fonts.Font
	FontName string
	Size     float64
	Render   TextRenderMode
	Rise     float64
}

// GraphicsState is the subset of the graphics state that affects geometry.
type GraphicsState struct {
	CTM       coords.Matrix
	LineWidth float64
	// Clip bounds the current clipping path in page space.
	Clip coords.Rect
	Text TextState
}

func newGraphicsState(base coords.Matrix, clip coords.Rect) GraphicsState {
	return GraphicsState{
		CTM:       base,
		LineWidth: 1,
		Clip:      clip,
		Text:      TextState{HScale: 1},
	}
}

type stateStack struct {
	cur   GraphicsState
	saved []GraphicsState
}

func (s *stateStack) push() { s.saved = append(s.saved, s.cur) }

// pop ignores unbalanced Q operators.
func (s *stateStack) pop() {
	if n := len(s.saved); n > 0 {
		s.cur = s.saved[n-1]
		s.saved = s.saved[:n-1]
	}
}

// textObject is the state of a BT ... ET block.
type textObject struct {
	tm, tlm coords.Matrix
	open    bool
}

func (t *textObject) begin() {
	t.tm, t.tlm, t.open = coords.Identity(), coords.Identity(), true
}

// moveLine applies Td.
func (t *textObject) moveLine(tx, ty float64) {
	t.tlm = coords.Translate(tx, ty).Multiply(t.tlm)
	t.tm = t.tlm
}

func (t *textObject) setMatrix(m coords.Matrix) {
	t.tm, t.tlm = m, m
}
