package editor

import (
	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

// stripText removes the glyphs of a show operation that fall inside rects
// and returns how many were removed.
func stripText(it *contentstream.Item, rects, protect []coords.Rect, ed *edits) int {
	removed := make([]bool, len(it.Glyphs))
	count := 0
	for i, g := range it.Glyphs {
		b := g.Quad.Bounds()
		if !overlapsAny(b, rects) || protected(b.Center(), protect) {
			continue
		}
		removed[i] = true
		count++
	}
	if count == 0 {
		return 0
	}
	ed.set(it.Index, rewriteShow(it, removed)...)
	return count
}

func protected(p coords.Point, protect []coords.Rect) bool {
	for _, r := range protect {
		if r.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// rewriteShow turns a show operation into a TJ that shows only the kept
// glyphs; each removed glyph becomes a TJ adjustment of its displacement.
func rewriteShow(it *contentstream.Item, removed []bool) []contentstream.Operation {
	op := it.Op
	last := op.Operands[len(op.Operands)-1]
	parts := []raw.Object{last}
	if op.Operator == "TJ" {
		parts = last.(*raw.ArrayObj).Items
	}

	arr := raw.NewArray()
	var (
		kept    []byte
		hex     bool
		pending float64
		hasNum  bool
	)
	flushString := func() {
		if kept != nil {
			arr.Append(raw.StringObj{Bytes: kept, Hex: hex})
			kept = nil
		}
	}
	flushNumber := func() {
		if hasNum && pending != 0 {
			arr.Append(raw.Float(pending))
		}
		pending, hasNum = 0, false
	}

	gi := 0
	for e, part := range parts {
		switch v := part.(type) {
		case raw.StringObj:
			for gi < len(it.Glyphs) && it.Glyphs[gi].Element == e {
				g := it.Glyphs[gi]
				if removed[gi] {
					flushString()
					pending += g.Adjust
					hasNum = true
				} else {
					flushNumber()
					kept = append(kept, g.Code...)
					hex = v.Hex
				}
				gi++
			}
			flushString()
		case raw.NumberObj:
			flushString()
			pending += v.Float()
			hasNum = true
		}
	}
	flushString()
	flushNumber()

	show := contentstream.Op("TJ", arr)
	switch op.Operator {
	case "'":
		return []contentstream.Operation{contentstream.Op("T*"), show}
	case "\"":
		return []contentstream.Operation{
			contentstream.Op("Tw", op.Operands[0]),
			contentstream.Op("Tc", op.Operands[1]),
			contentstream.Op("T*"),
			show,
		}
	}
	return []contentstream.Operation{show}
}
