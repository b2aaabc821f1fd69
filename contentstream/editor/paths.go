package editor

import (
	"math"
	"sort"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
)

const minPiece = 1e-6

// stripPath edits a painted path that overlaps rects. Filled rectangles
// under an axis-aligned CTM are cut geometrically, stroked polylines are
// cut segment by segment, anything else loses the subpaths that lie
// inside a rectangle and is painted under an exclusion clip.
func stripPath(ops []contentstream.Operation, it *contentstream.Item, rects []coords.Rect, ed *edits) bool {
	p := it.Path
	if !p.Filled() && !p.Stroked() {
		// clip-only paths paint nothing
		return false
	}
	ctm := it.State.CTM
	if p.ClipOp < 0 && !p.Stroked() && p.RectsOnly() && ctm.AxisAligned() {
		if changed, ok := cutRects(it, rects, ed); ok {
			return changed
		}
	}
	if p.ClipOp < 0 && !p.Filled() && p.Polyline() {
		if changed, ok := cutPolyline(it, rects, ed); ok {
			return changed
		}
	}
	return dropAndExclude(ops, it, rects, ed)
}

func strokeMargin(it *contentstream.Item) float64 {
	if !it.Path.Stroked() {
		return 0
	}
	return math.Max(it.Path.LineWidth*it.State.CTM.Scale(), 1) / 2
}

func grow(r coords.Rect, d float64) coords.Rect {
	return coords.Rect{X1: r.X1 - d, Y1: r.Y1 - d, X2: r.X2 + d, Y2: r.Y2 + d}
}

func cutRects(it *contentstream.Item, rects []coords.Rect, ed *edits) (changed, ok bool) {
	ctm := it.State.CTM
	inv, err := ctm.Inverse()
	if err != nil {
		return false, false
	}
	remaining := 0
	for _, sp := range it.Path.Subpaths {
		seg := sp.Segments[0]
		pieces := []coords.Rect{coords.BoundsOf(seg.Points...).Transform(ctm)}
		cut := false
		for _, r := range rects {
			if overlapsAny(r, pieces) {
				pieces = subtract(pieces, r)
				cut = true
			}
		}
		if !cut {
			remaining++
			continue
		}
		changed = true
		var repl []contentstream.Operation
		for _, pc := range pieces {
			if pc.Width() < minPiece || pc.Height() < minPiece {
				continue
			}
			u := pc.Transform(inv)
			repl = append(repl, contentstream.Op("re", num(u.X1), num(u.Y1), num(u.Width()), num(u.Height())))
		}
		ed.set(seg.Op, repl...)
		remaining += len(repl)
	}
	if changed && remaining == 0 {
		ed.set(it.Index)
	}
	return changed, true
}

type line struct{ a, b coords.Point }

func cutPolyline(it *contentstream.Item, rects []coords.Rect, ed *edits) (changed, ok bool) {
	p := it.Path
	ctm := it.State.CTM
	margin := strokeMargin(it)
	grown := make([]coords.Rect, len(rects))
	for i, r := range rects {
		grown[i] = grow(r, margin)
	}

	var out []contentstream.Operation
	for si, sp := range p.Subpaths {
		var start, pen coords.Point
		var lines []line
		for _, seg := range sp.Segments {
			switch seg.Kind {
			case contentstream.SegMove:
				start, pen = seg.Points[0], seg.Points[0]
			case contentstream.SegLine:
				lines = append(lines, line{pen, seg.Points[0]})
				pen = seg.Points[0]
			case contentstream.SegClose:
				lines = append(lines, line{pen, start})
				pen = start
			}
		}
		if p.Paint == "s" && si == len(p.Subpaths)-1 && !sp.Closed() {
			lines = append(lines, line{pen, start})
		}

		connected := false
		for _, ln := range lines {
			keep := keptIntervals(ctm.Transform(ln.a), ctm.Transform(ln.b), grown)
			if len(keep) != 1 || keep[0] != [2]float64{0, 1} {
				changed = true
			}
			for _, iv := range keep {
				from, to := lerp(ln.a, ln.b, iv[0]), lerp(ln.a, ln.b, iv[1])
				if !connected || iv[0] != 0 {
					out = append(out, contentstream.Op("m", num(from.X), num(from.Y)))
				}
				out = append(out, contentstream.Op("l", num(to.X), num(to.Y)))
				connected = iv[1] == 1
			}
			if len(keep) == 0 {
				connected = false
			}
		}
	}
	if !changed {
		return false, true
	}
	for i := p.Start; i < it.Index; i++ {
		ed.set(i)
	}
	if len(out) == 0 {
		ed.set(it.Index)
	} else {
		ed.set(it.Index, append(out, contentstream.Op("S"))...)
	}
	return true, true
}

func lerp(a, b coords.Point, t float64) coords.Point {
	return coords.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

// keptIntervals returns the parameter ranges of segment a-b that lie
// outside every rectangle.
func keptIntervals(a, b coords.Point, rects []coords.Rect) [][2]float64 {
	var cut [][2]float64
	for _, r := range rects {
		if t0, t1, ok := clipSegment(a, b, r); ok {
			cut = append(cut, [2]float64{t0, t1})
		}
	}
	sort.Slice(cut, func(i, j int) bool { return cut[i][0] < cut[j][0] })
	var keep [][2]float64
	pos := 0.0
	for _, c := range cut {
		if c[0]-pos > minPiece {
			keep = append(keep, [2]float64{pos, c[0]})
		}
		pos = math.Max(pos, c[1])
	}
	if 1-pos > minPiece {
		keep = append(keep, [2]float64{pos, 1})
	}
	return keep
}

// clipSegment is Liang-Barsky: the part of a-b inside r.
func clipSegment(a, b coords.Point, r coords.Rect) (float64, float64, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{a.X - r.X1, r.X2 - a.X, a.Y - r.Y1, r.Y2 - a.Y}
	t0, t1 := 0.0, 1.0
	for i := range p {
		if p[i] == 0 {
			if q[i] < 0 {
				return 0, 0, false
			}
			continue
		}
		t := q[i] / p[i]
		if p[i] < 0 {
			if t > t1 {
				return 0, 0, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, false
			}
			t1 = math.Min(t1, t)
		}
	}
	return t0, t1, true
}

// dropAndExclude removes subpaths inside a rectangle and paints whatever
// still overlaps under an exclusion clip. Paths that also clip keep their
// full geometry for the clip.
func dropAndExclude(ops []contentstream.Operation, it *contentstream.Item, rects []coords.Rect, ed *edits) bool {
	p := it.Path
	ctm := it.State.CTM
	margin := strokeMargin(it)

	var kept []contentstream.Subpath
	dropped := false
	overlap := false
	for _, sp := range p.Subpaths {
		pts := sp.Points()
		for i := range pts {
			pts[i] = ctm.Transform(pts[i])
		}
		b := grow(coords.BoundsOf(pts...), margin)
		if p.ClipOp < 0 && containsAny(b, rects) {
			dropped = true
			for _, seg := range sp.Segments {
				ed.set(seg.Op)
			}
			continue
		}
		if overlapsAny(b, rects) {
			overlap = true
		}
		kept = append(kept, sp)
	}
	if len(kept) == 0 {
		ed.set(it.Index)
		return true
	}
	if dropped {
		// a kept subpath that started from the previous one's end point
		// needs its own start point now
		for _, sp := range kept {
			first := sp.Segments[0]
			if op := ops[first.Op].Operator; op != "m" && op != "re" {
				ed.prepend(first.Op, contentstream.Op("m", num(first.Points[0].X), num(first.Points[0].Y)))
			}
		}
	}
	if !overlap {
		return dropped
	}

	clip, ok := exclusionClip(ctm, it.Bounds, rects)
	if !ok {
		for i := p.Start; i <= it.Index; i++ {
			ed.set(i)
		}
		return true
	}
	ed.prepend(p.Start, append([]contentstream.Operation{contentstream.Op("q")}, clip...)...)
	if p.ClipOp < 0 {
		ed.appendAfter(it.Index, contentstream.Op("Q"))
		return true
	}
	// paint inside the exclusion clip, then rebuild the path for the clip
	ed.set(p.ClipOp)
	restore := []contentstream.Operation{contentstream.Op("Q")}
	for i := p.Start; i < it.Index; i++ {
		if i != p.ClipOp {
			restore = append(restore, ops[i])
		}
	}
	restore = append(restore, ops[p.ClipOp], contentstream.Op("n"))
	ed.appendAfter(it.Index, restore...)
	return true
}
