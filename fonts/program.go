package fonts

import (
	"bytes"
	"fmt"

	gofont "github.com/go-text/typesetting/font"
)

// Program gives access to metrics of an embedded TrueType or OpenType font.
type Program struct {
	face *gofont.Face
	upem float64
}

// ParseProgram parses a TrueType or OpenType font file.
func ParseProgram(data []byte) (*Program, error) {
	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse font program: %w", err)
	}
	upem := float64(face.Upem())
	if upem == 0 {
		upem = 1000
	}
	return &Program{face: face, upem: upem}, nil
}

// Advance returns the horizontal advance of gid in 1/1000 em.
func (p *Program) Advance(gid uint32) float64 {
	return float64(p.face.HorizontalAdvance(gofont.GID(gid))) * 1000 / p.upem
}

// GlyphIndex looks r up in the font's cmap.
func (p *Program) GlyphIndex(r rune) (uint32, bool) {
	gid, ok := p.face.NominalGlyph(r)
	return uint32(gid), ok
}

// RuneAdvance is the advance of r in 1/1000 em.
func (p *Program) RuneAdvance(r rune) (float64, bool) {
	gid, ok := p.GlyphIndex(r)
	if !ok {
		return 0, false
	}
	return p.Advance(gid), true
}

// Extents returns ascender and descender in 1/1000 em.
func (p *Program) Extents() (ascent, descent float64, ok bool) {
	ext, ok := p.face.FontHExtents()
	if !ok {
		return 0, 0, false
	}
	return float64(ext.Ascender) * 1000 / p.upem, float64(ext.Descender) * 1000 / p.upem, true
}
