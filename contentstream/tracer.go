package contentstream

import (
	"context"
	"math"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/resources"
)

// StreamDecoder returns the decoded data of a stream.
type StreamDecoder func(ctx context.Context, s *raw.StreamObj) ([]byte, error)

// DefaultMaxDepth bounds form XObject nesting.
const DefaultMaxDepth = 16

// minGlyphWidth keeps zero-advance glyphs hit-testable, in em.
const minGlyphWidth = 0.1

// Visitor receives every painting operation in drawing order.
type Visitor func(*Item) error

// Tracer interprets content streams and reports page-space geometry.
// A Tracer is safe for concurrent use once configured.
type Tracer struct {
	fonts  *fonts.Cache
	decode StreamDecoder

	// MaxDepth bounds form XObject nesting; deeper forms are skipped.
	MaxDepth int
	// Forms makes Trace descend into form XObjects after reporting them.
	Forms  bool
	Logger observability.Logger
}

func NewTracer(r raw.Resolver, decode StreamDecoder) *Tracer {
	return &Tracer{
		fonts: fonts.NewCache(r, func(s *raw.StreamObj) ([]byte, error) {
			return decode(context.Background(), s)
		}),
		decode:   decode,
		MaxDepth: DefaultMaxDepth,
	}
}

// NewGraphicsState returns the initial state of a page drawn with base as
// its CTM and clipped to clip.
func NewGraphicsState(base coords.Matrix, clip coords.Rect) GraphicsState {
	return newGraphicsState(base, clip)
}

var fallbackFont = func() *fonts.Font {
	d := raw.Dict()
	d.Set("Type", raw.Name("Font"))
	d.Set("Subtype", raw.Name("Type1"))
	d.Set("BaseFont", raw.Name("Helvetica"))
	f, err := fonts.Load(raw.NewDocument(), d, nil)
	if err != nil {
		panic(err)
	}
	return f
}()

// Trace walks ops from state start and calls visit for every text show,
// painted or clipping path, image, shading and form XObject.
func (t *Tracer) Trace(ctx context.Context, ops []Operation, scope *resources.Scope, start GraphicsState, visit Visitor) error {
	return t.run(ctx, ops, scope, start, 0, visit)
}

func (t *Tracer) run(ctx context.Context, ops []Operation, scope *resources.Scope, start GraphicsState, depth int, visit Visitor) error {
	w := &walker{t: t, ctx: ctx, scope: scope, depth: depth, visit: visit, logger: observability.OrNop(t.Logger)}
	w.st.cur = start
	w.text.begin()
	w.text.open = false
	for i := range ops {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := w.step(i, &ops[i]); err != nil {
			return err
		}
	}
	return nil
}

type walker struct {
	t      *Tracer
	ctx    context.Context
	scope  *resources.Scope
	depth  int
	visit  Visitor
	logger observability.Logger

	st   stateStack
	text textObject

	path        *Path
	cur, origin coords.Point
}

func numbers(op *Operation, n int) ([]float64, bool) {
	if len(op.Operands) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, o := range op.Operands[len(op.Operands)-n:] {
		num, ok := o.(raw.NumberObj)
		if !ok {
			return nil, false
		}
		out[i] = num.Float()
	}
	return out, true
}

func name(op *Operation, i int) string {
	if i < len(op.Operands) {
		if n, ok := op.Operands[i].(raw.NameObj); ok {
			return n.Val
		}
	}
	return ""
}

func (w *walker) step(i int, op *Operation) error {
	gs := &w.st.cur
	ts := &gs.Text
	switch op.Operator {
	case "q":
		w.st.push()
	case "Q":
		w.st.pop()
	case "cm":
		if v, ok := numbers(op, 6); ok {
			gs.CTM = coords.Matrix(v).Multiply(gs.CTM)
		}
	case "w":
		if v, ok := numbers(op, 1); ok {
			gs.LineWidth = v[0]
		}
	case "gs":
		w.extGState(name(op, 0))

	case "BT":
		w.text.begin()
	case "ET":
		w.text.open = false
	case "Tc":
		if v, ok := numbers(op, 1); ok {
			ts.CharSpacing = v[0]
		}
	case "Tw":
		if v, ok := numbers(op, 1); ok {
			ts.WordSpacing = v[0]
		}
	case "Tz":
		if v, ok := numbers(op, 1); ok {
			ts.HScale = v[0] / 100
		}
	case "TL":
		if v, ok := numbers(op, 1); ok {
			ts.Leading = v[0]
		}
	case "Ts":
		if v, ok := numbers(op, 1); ok {
			ts.Rise = v[0]
		}
	case "Tr":
		if v, ok := numbers(op, 1); ok {
			ts.Render = TextRenderMode(v[0])
		}
	case "Tf":
		if v, ok := numbers(op, 1); ok {
			ts.Size = v[0]
		}
		ts.FontName = name(op, 0)
		ts.Font = w.font(ts.FontName)
	case "Td":
		if v, ok := numbers(op, 2); ok {
			w.text.moveLine(v[0], v[1])
		}
	case "TD":
		if v, ok := numbers(op, 2); ok {
			ts.Leading = -v[1]
			w.text.moveLine(v[0], v[1])
		}
	case "Tm":
		if v, ok := numbers(op, 6); ok {
			w.text.setMatrix(coords.Matrix(v))
		}
	case "T*":
		w.text.moveLine(0, -ts.Leading)
	case "Tj":
		if len(op.Operands) > 0 {
			return w.show(i, op, op.Operands[len(op.Operands)-1:])
		}
	case "TJ":
		if len(op.Operands) > 0 {
			if arr, ok := op.Operands[len(op.Operands)-1].(*raw.ArrayObj); ok {
				return w.show(i, op, arr.Items)
			}
		}
	case "'":
		w.text.moveLine(0, -ts.Leading)
		if len(op.Operands) > 0 {
			return w.show(i, op, op.Operands[len(op.Operands)-1:])
		}
	case "\"":
		if len(op.Operands) == 3 {
			if v, ok := op.Operands[0].(raw.NumberObj); ok {
				ts.WordSpacing = v.Float()
			}
			if v, ok := op.Operands[1].(raw.NumberObj); ok {
				ts.CharSpacing = v.Float()
			}
			w.text.moveLine(0, -ts.Leading)
			return w.show(i, op, op.Operands[2:])
		}

	case "m":
		if v, ok := numbers(op, 2); ok {
			w.moveTo(i, coords.Point{X: v[0], Y: v[1]})
		}
	case "l":
		if v, ok := numbers(op, 2); ok {
			p := coords.Point{X: v[0], Y: v[1]}
			w.segment(i, SegLine, p)
		}
	case "c":
		if v, ok := numbers(op, 6); ok {
			w.segment(i, SegCurve, coords.Point{X: v[0], Y: v[1]}, coords.Point{X: v[2], Y: v[3]}, coords.Point{X: v[4], Y: v[5]})
		}
	case "v":
		if v, ok := numbers(op, 4); ok {
			w.segment(i, SegCurve, w.cur, coords.Point{X: v[0], Y: v[1]}, coords.Point{X: v[2], Y: v[3]})
		}
	case "y":
		if v, ok := numbers(op, 4); ok {
			end := coords.Point{X: v[2], Y: v[3]}
			w.segment(i, SegCurve, coords.Point{X: v[0], Y: v[1]}, end, end)
		}
	case "h":
		if w.path != nil && len(w.path.Subpaths) > 0 {
			w.segment(i, SegClose)
			w.cur = w.origin
		}
	case "re":
		if v, ok := numbers(op, 4); ok {
			x, y, rw, rh := v[0], v[1], v[2], v[3]
			w.beginPath(i)
			w.path.Subpaths = append(w.path.Subpaths, Subpath{Segments: []Segment{{
				Kind: SegRect,
				Op:   i,
				Points: []coords.Point{
					{X: x, Y: y}, {X: x + rw, Y: y}, {X: x + rw, Y: y + rh}, {X: x, Y: y + rh},
				},
			}}})
			w.cur = coords.Point{X: x, Y: y}
			w.origin = w.cur
		}
	case "W", "W*":
		w.beginPath(i)
		w.path.ClipOp = i
	case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*", "n":
		return w.paint(i, op)

	case "Do":
		return w.xobject(i, op, name(op, 0))
	case "BI":
		return w.emit(&Item{
			Kind:   ItemImage,
			Index:  i,
			Op:     op,
			Inline: true,
			Bounds: unitSquare(gs.CTM),
		})
	case "sh":
		return w.emit(&Item{Kind: ItemShading, Index: i, Op: op, Name: name(op, 0), Bounds: gs.Clip})
	}
	return nil
}

func (w *walker) emit(item *Item) error {
	item.Depth = w.depth
	item.State = w.st.cur
	return w.visit(item)
}

func unitSquare(ctm coords.Matrix) coords.Rect {
	return coords.NewRect(0, 0, 1, 1).Transform(ctm)
}

func (w *walker) font(name string) *fonts.Font {
	obj, ok := w.scope.Lookup(resources.CategoryFont, name)
	if !ok {
		w.logger.Debug("font resource missing", observability.String("font", name))
		return nil
	}
	f, err := w.t.fonts.Font(obj)
	if err != nil {
		w.logger.Warn("font load failed", observability.String("font", name), observability.Err(err))
		return nil
	}
	return f
}

func (w *walker) extGState(name string) {
	obj, ok := w.scope.Lookup(resources.CategoryExtGState, name)
	if !ok {
		return
	}
	r := w.scope.Resolver()
	d := raw.DictOf(r, obj)
	if d == nil {
		return
	}
	if lw, ok := raw.NumberOf(r, mustGet(d, "LW")); ok {
		w.st.cur.LineWidth = lw
	}
	if fa := d.Array(r, "Font"); fa != nil && fa.Len() == 2 {
		if f, err := w.t.fonts.Font(fa.Items[0]); err == nil {
			w.st.cur.Text.Font = f
		}
		if size, ok := raw.NumberOf(r, fa.Items[1]); ok {
			w.st.cur.Text.Size = size
		}
	}
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func (w *walker) show(i int, op *Operation, parts []raw.Object) error {
	gs := &w.st.cur
	ts := gs.Text
	font := ts.Font
	if font == nil {
		font = fallbackFont
	}
	vertical := font.Vertical()
	item := &Item{Kind: ItemText, Index: i, Op: op}
	for e, part := range parts {
		switch v := part.(type) {
		case raw.StringObj:
			off := 0
			for _, g := range font.Decode(v.Bytes) {
				trm := coords.Matrix{ts.Size * ts.HScale, 0, 0, ts.Size, 0, ts.Rise}.Multiply(w.text.tm).Multiply(gs.CTM)
				var box coords.Rect
				var disp float64
				if vertical {
					box = coords.NewRect(-0.5, -1, 0.5, 0)
					disp = -ts.Size + ts.CharSpacing
				} else {
					box = coords.NewRect(0, font.Descent(), math.Max(g.Advance, minGlyphWidth), font.Ascent())
					disp = g.Advance*ts.Size + ts.CharSpacing
				}
				if g.Space {
					disp += ts.WordSpacing
				}
				adjust := 0.0
				if ts.Size != 0 {
					adjust = -disp * 1000 / ts.Size
				}
				origin := trm.Transform(coords.Point{})
				item.Glyphs = append(item.Glyphs, GlyphBox{
					Glyph:   g,
					Quad:    box.Quad().Transform(trm),
					Origin:  origin,
					EmX:     sub(trm.Transform(coords.Point{X: 1}), origin),
					EmY:     sub(trm.Transform(coords.Point{Y: 1}), origin),
					Element: e,
					Offset:  off,
					Adjust:  adjust,
				})
				off += len(g.Code)
				w.advance(disp, vertical)
				next := coords.Matrix{ts.Size * ts.HScale, 0, 0, ts.Size, 0, ts.Rise}.Multiply(w.text.tm).Multiply(gs.CTM)
				item.Glyphs[len(item.Glyphs)-1].Next = next.Transform(coords.Point{})
			}
		case raw.NumberObj:
			w.advance(-v.Float()/1000*ts.Size, vertical)
		}
	}
	for j, g := range item.Glyphs {
		if j == 0 {
			item.Bounds = g.Quad.Bounds()
			continue
		}
		item.Bounds = item.Bounds.Union(g.Quad.Bounds())
	}
	return w.emit(item)
}

func sub(a, b coords.Point) coords.Point { return coords.Point{X: a.X - b.X, Y: a.Y - b.Y} }

// advance moves the text matrix by a text-space displacement.
func (w *walker) advance(disp float64, vertical bool) {
	if vertical {
		w.text.tm = coords.Translate(0, disp).Multiply(w.text.tm)
		return
	}
	w.text.tm = coords.Translate(disp*w.st.cur.Text.HScale, 0).Multiply(w.text.tm)
}

func (w *walker) beginPath(i int) {
	if w.path == nil {
		w.path = &Path{Start: i, ClipOp: -1}
	}
}

func (w *walker) moveTo(i int, p coords.Point) {
	w.beginPath(i)
	w.path.Subpaths = append(w.path.Subpaths, Subpath{Segments: []Segment{{Kind: SegMove, Op: i, Points: []coords.Point{p}}}})
	w.cur, w.origin = p, p
}

func (w *walker) segment(i int, kind SegmentKind, pts ...coords.Point) {
	w.beginPath(i)
	n := len(w.path.Subpaths)
	if n == 0 || w.path.Subpaths[n-1].Closed() {
		// a segment after h or re starts at the current point
		w.path.Subpaths = append(w.path.Subpaths, Subpath{Segments: []Segment{{Kind: SegMove, Op: i, Points: []coords.Point{w.cur}}}})
		n++
	}
	sp := &w.path.Subpaths[n-1]
	sp.Segments = append(sp.Segments, Segment{Kind: kind, Op: i, Points: pts})
	if len(pts) > 0 {
		w.cur = pts[len(pts)-1]
	}
}

func (w *walker) paint(i int, op *Operation) error {
	p := w.path
	w.path = nil
	if p == nil {
		return nil
	}
	gs := &w.st.cur
	p.Paint = op.Operator
	p.LineWidth = gs.LineWidth
	var pts []coords.Point
	for _, sp := range p.Subpaths {
		for _, pt := range sp.Points() {
			pts = append(pts, gs.CTM.Transform(pt))
		}
	}
	if len(pts) == 0 {
		return nil
	}
	geom := coords.BoundsOf(pts...)
	bounds := geom
	if p.Stroked() {
		half := math.Max(gs.LineWidth*gs.CTM.Scale(), 1) / 2
		bounds = coords.Rect{X1: geom.X1 - half, Y1: geom.Y1 - half, X2: geom.X2 + half, Y2: geom.Y2 + half}
	}
	if err := w.emit(&Item{Kind: ItemPath, Index: i, Op: op, Path: p, Bounds: bounds}); err != nil {
		return err
	}
	if p.ClipOp >= 0 {
		gs.Clip = gs.Clip.Intersect(geom)
	}
	return nil
}

func (w *walker) xobject(i int, op *Operation, name string) error {
	obj, stm, subtype := w.scope.XObject(name)
	if stm == nil {
		return nil
	}
	gs := &w.st.cur
	switch subtype {
	case "Image":
		return w.emit(&Item{Kind: ItemImage, Index: i, Op: op, Name: name, Object: obj, Stream: stm, Bounds: unitSquare(gs.CTM)})
	case "Form":
	default:
		return nil
	}
	r := w.scope.Resolver()
	matrix := coords.Identity()
	if m := stm.Dict.Array(r, "Matrix").Floats(r); len(m) == 6 {
		matrix = coords.Matrix(m)
	}
	ctm := matrix.Multiply(gs.CTM)
	bounds := gs.Clip
	if bb := stm.Dict.Array(r, "BBox").Floats(r); len(bb) == 4 {
		bounds = coords.NewRect(bb[0], bb[1], bb[2], bb[3]).Transform(ctm).Intersect(gs.Clip)
	}
	scope := w.scope.Child(stm.Dict.Dict(r, "Resources"))
	item := &Item{Kind: ItemForm, Index: i, Op: op, Name: name, Object: obj, Stream: stm, Matrix: matrix, Scope: scope, Bounds: bounds}
	if err := w.emit(item); err != nil {
		return err
	}
	if !w.t.Forms {
		return nil
	}
	if w.depth+1 > w.t.MaxDepth {
		w.logger.Warn("form nesting too deep", observability.String("xobject", name), observability.Int("depth", w.depth))
		return nil
	}
	data, err := w.t.decode(w.ctx, stm)
	if err != nil {
		w.logger.Warn("form decode failed", observability.String("xobject", name), observability.Err(err))
		return nil
	}
	ops, err := Parse(data)
	if err != nil {
		w.logger.Warn("form content truncated", observability.String("xobject", name), observability.Err(err))
	}
	start := *gs
	start.CTM = ctm
	start.Clip = bounds
	return w.t.run(w.ctx, ops, scope, start, w.depth+1, w.visit)
}

// Fonts exposes the font cache shared by every trace.
func (t *Tracer) Fonts() *fonts.Cache { return t.fonts }
