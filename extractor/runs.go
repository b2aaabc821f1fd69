package extractor

import (
	"math"
	"strings"
	"unicode"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
)

// baselineTolerance is the share of the font size two glyph origins may
// differ across the baseline and still share it.
const baselineTolerance = 0.3

type runBuilder struct {
	page int
	opts Options
	done []*pendingRun
	cur  *pendingRun
}

type pendingRun struct {
	sep    string
	text   strings.Builder
	glyphs []Glyph

	dir, normal coords.Point
	pos         float64
	next        float64
	em          float64
	lastSpace   bool
	corners     []coords.Point
}

func newRunBuilder(page int, opts Options) *runBuilder {
	return &runBuilder{page: page, opts: opts}
}

func dot(a, b coords.Point) float64 { return a.X*b.X + a.Y*b.Y }

func isBlank(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}

func (b *runBuilder) add(g contentstream.GlyphBox, spaceAdvance float64) {
	lx := math.Hypot(g.EmX.X, g.EmX.Y)
	size := math.Hypot(g.EmY.X, g.EmY.Y)
	if size == 0 {
		return
	}
	dir := coords.Point{X: 1}
	if lx > 0 {
		dir = coords.Point{X: g.EmX.X / lx, Y: g.EmX.Y / lx}
	}
	normal := coords.Point{X: -dir.Y, Y: dir.X}
	x0 := dot(g.Origin, dir)
	pos := dot(g.Origin, normal)
	next := dot(g.Next, dir)
	text := normalize(g.Text)

	cur := b.cur
	sep := ""
	if cur != nil {
		em := math.Max(size, cur.em)
		switch gap := x0 - cur.next; {
		case dot(dir, cur.dir) < 0.99 || math.Abs(pos-cur.pos) > baselineTolerance*em:
			sep = "\n"
		case gap > b.opts.RunGapFactor*em || gap < -0.5*em:
			sep = " "
		case gap > b.opts.SpaceFactor*spaceAdvance*lx && !cur.lastSpace && !isBlank(text) && text != "":
			cur.text.WriteByte(' ')
			cur.lastSpace = true
		}
	}
	if text == "" {
		if cur != nil && sep == "" {
			cur.next = next
		}
		return
	}
	if cur == nil || sep != "" {
		if cur != nil {
			b.done = append(b.done, cur)
		}
		cur = &pendingRun{sep: sep, dir: dir, normal: normal, pos: pos}
		b.cur = cur
	}
	start := cur.text.Len()
	cur.text.WriteString(text)
	cur.glyphs = append(cur.glyphs, Glyph{Text: text, Box: g.Quad.Bounds(), Start: start, End: start + len(text)})
	cur.next = next
	cur.em = size
	cur.lastSpace = isBlank(text)
	cur.corners = append(cur.corners, g.Quad[:]...)
}

func (b *runBuilder) finish() *PageText {
	if b.cur != nil {
		b.done = append(b.done, b.cur)
		b.cur = nil
	}
	pt := &PageText{PageIndex: b.page}
	var flat strings.Builder
	for i, pr := range b.done {
		if i > 0 {
			sep := pr.sep
			if sep == "" {
				sep = " "
			}
			flat.WriteString(sep)
		}
		run := TextRun{
			PageIndex: b.page,
			Text:      pr.text.String(),
			Start:     flat.Len(),
			Quad:      pr.quad(),
			Glyphs:    pr.glyphs,
		}
		for j := range run.Glyphs {
			run.Glyphs[j].Start += run.Start
			run.Glyphs[j].End += run.Start
		}
		flat.WriteString(run.Text)
		pt.Runs = append(pt.Runs, run)
	}
	pt.Flattened = flat.String()
	return pt
}

// quad is the smallest box aligned with the run's baseline holding every
// glyph box.
func (pr *pendingRun) quad() coords.Quad {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minN, maxN := math.Inf(1), math.Inf(-1)
	for _, c := range pr.corners {
		x, n := dot(c, pr.dir), dot(c, pr.normal)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minN, maxN = math.Min(minN, n), math.Max(maxN, n)
	}
	at := func(x, n float64) coords.Point {
		return coords.Point{X: pr.dir.X*x + pr.normal.X*n, Y: pr.dir.Y*x + pr.normal.Y*n}
	}
	return coords.Quad{at(minX, minN), at(maxX, minN), at(maxX, maxN), at(minX, maxN)}
}
