// Package editor removes every trace of page content that falls inside a
// set of page-space rectangles, editing content streams at the operator
// level.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/resources"
)

// ImagePolicy selects what happens to images under a rectangle.
type ImagePolicy int

const (
	// ImageRemove drops the whole image.
	ImageRemove ImagePolicy = iota
	// ImageClip keeps the image but paints it under a clip that excludes
	// the rectangles.
	ImageClip
)

// ErrNestingTooDeep is returned when a form XObject that needs editing is
// nested deeper than the editor descends.
var ErrNestingTooDeep = errors.New("form XObject nesting too deep")

// Target describes one removal pass.
type Target struct {
	Rects []coords.Rect
	// Protect lists areas whose content is never removed.
	Protect []coords.Rect
	Images  ImagePolicy
}

// effective cuts the protected areas out of the removal rectangles.
func (t Target) effective() []coords.Rect {
	var out []coords.Rect
	for _, r := range t.Rects {
		pieces := []coords.Rect{r.Normalize()}
		for _, p := range t.Protect {
			pieces = subtract(pieces, p.Normalize())
		}
		for _, pc := range pieces {
			if !pc.Empty() {
				out = append(out, pc)
			}
		}
	}
	return out
}

func subtract(pieces []coords.Rect, r coords.Rect) []coords.Rect {
	out := make([]coords.Rect, 0, len(pieces))
	for _, pc := range pieces {
		if pc.Overlaps(r) {
			out = append(out, pc.Subtract(r)...)
			continue
		}
		out = append(out, pc)
	}
	return out
}

// Stats counts what a pass removed or altered.
type Stats struct {
	Glyphs   int
	Paths    int
	Images   int
	Shadings int
	Forms    int
}

func (s *Stats) add(o Stats) {
	s.Glyphs += o.Glyphs
	s.Paths += o.Paths
	s.Images += o.Images
	s.Shadings += o.Shadings
	s.Forms += o.Forms
}

// Total is the number of altered elements.
func (s Stats) Total() int { return s.Glyphs + s.Paths + s.Images + s.Shadings + s.Forms }

// ObjectAdder stores new objects in the document being edited.
type ObjectAdder interface {
	AddObject(obj raw.Object) raw.RefObj
}

// Content is a content stream to edit together with the resources its
// names resolve against. Resources must be the writable dictionary Scope
// consults first; edited form copies are registered in it.
type Content struct {
	Ops       []contentstream.Operation
	Scope     *resources.Scope
	Resources *raw.DictObj
	State     contentstream.GraphicsState
}

// Editor strips content under rectangles.
type Editor struct {
	r      raw.Resolver
	store  ObjectAdder
	decode contentstream.StreamDecoder
	tracer *contentstream.Tracer

	MaxDepth int
	Logger   observability.Logger
}

func New(r raw.Resolver, store ObjectAdder, decode contentstream.StreamDecoder) *Editor {
	return &Editor{
		r:        r,
		store:    store,
		decode:   decode,
		tracer:   contentstream.NewTracer(r, decode),
		MaxDepth: contentstream.DefaultMaxDepth,
	}
}

// RemoveRects returns c.Ops with everything painted inside the target
// rectangles removed. Text is removed glyph by glyph, the remaining glyphs
// keep their positions. Form XObjects that need editing are copied; the
// originals, which other pages may share, are left alone.
func (e *Editor) RemoveRects(ctx context.Context, c Content, target Target) ([]contentstream.Operation, Stats, error) {
	e.tracer.Logger = e.Logger
	return e.remove(ctx, c, target.effective(), target, 0)
}

func (e *Editor) remove(ctx context.Context, c Content, rects []coords.Rect, t Target, depth int) ([]contentstream.Operation, Stats, error) {
	var stats Stats
	if len(rects) == 0 {
		return c.Ops, stats, nil
	}
	var items []*contentstream.Item
	err := e.tracer.Trace(ctx, c.Ops, c.Scope, c.State, func(it *contentstream.Item) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	idx := NewOpSpatialIndex(items)
	hits := make(map[int][]coords.Rect)
	for _, r := range rects {
		for _, it := range idx.Query(r) {
			hits[it.Index] = append(hits[it.Index], r)
		}
	}
	order := make([]int, 0, len(hits))
	for i := range hits {
		order = append(order, i)
	}
	sort.Ints(order)
	byIndex := make(map[int]*contentstream.Item, len(items))
	for _, it := range items {
		byIndex[it.Index] = it
	}

	ed := newEdits()
	for _, i := range order {
		it, rs := byIndex[i], hits[i]
		switch it.Kind {
		case contentstream.ItemText:
			stats.Glyphs += stripText(it, rs, t.Protect, ed)
		case contentstream.ItemPath:
			if stripPath(c.Ops, it, rs, ed) {
				stats.Paths++
			}
		case contentstream.ItemImage:
			if t.Images == ImageRemove && !overlapsAny(it.Bounds, t.Protect) {
				ed.set(i)
			} else {
				e.exclude(it, rs, i, i, ed)
			}
			stats.Images++
		case contentstream.ItemShading:
			e.exclude(it, rs, i, i, ed)
			stats.Shadings++
		case contentstream.ItemForm:
			st, err := e.stripForm(ctx, c, it, rects, t, depth, ed)
			if err != nil {
				return nil, stats, err
			}
			stats.add(st)
		}
	}
	return ed.apply(c.Ops), stats, nil
}

func overlapsAny(r coords.Rect, rects []coords.Rect) bool {
	for _, o := range rects {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}

func containsAny(r coords.Rect, rects []coords.Rect) bool {
	for _, o := range rects {
		if o.Contains(r) {
			return true
		}
	}
	return false
}

// exclude paints ops[first..last] under a clip that leaves out rects.
func (e *Editor) exclude(it *contentstream.Item, rects []coords.Rect, first, last int, ed *edits) {
	clip, ok := exclusionClip(it.State.CTM, it.Bounds, rects)
	if !ok {
		// a singular CTM paints nothing
		for i := first; i <= last; i++ {
			ed.set(i)
		}
		return
	}
	ed.prepend(first, append([]contentstream.Operation{contentstream.Op("q")}, clip...)...)
	ed.appendAfter(last, contentstream.Op("Q"))
}

// exclusionClip builds clipping operations, in the user space of ctm, that
// intersect the clip with the outside of every rectangle in turn.
func exclusionClip(ctm coords.Matrix, area coords.Rect, rects []coords.Rect) ([]contentstream.Operation, bool) {
	inv, err := ctm.Inverse()
	if err != nil {
		return nil, false
	}
	outer := area
	for _, r := range rects {
		outer = outer.Union(r)
	}
	outer = coords.Rect{X1: outer.X1 - 1, Y1: outer.Y1 - 1, X2: outer.X2 + 1, Y2: outer.Y2 + 1}
	var ops []contentstream.Operation
	for _, r := range rects {
		ops = append(ops, polygon(outer.Quad().Transform(inv))...)
		ops = append(ops, polygon(r.Quad().Transform(inv))...)
		ops = append(ops, contentstream.Op("W*"), contentstream.Op("n"))
	}
	return ops, true
}

func polygon(q coords.Quad) []contentstream.Operation {
	ops := []contentstream.Operation{contentstream.Op("m", num(q[0].X), num(q[0].Y))}
	for _, p := range q[1:] {
		ops = append(ops, contentstream.Op("l", num(p.X), num(p.Y)))
	}
	return append(ops, contentstream.Op("h"))
}

func num(v float64) raw.Object { return raw.Float(v) }

func (e *Editor) stripForm(ctx context.Context, c Content, it *contentstream.Item, rects []coords.Rect, t Target, depth int, ed *edits) (Stats, error) {
	var stats Stats
	if depth+1 > e.MaxDepth {
		return stats, fmt.Errorf("%w: /%s", ErrNestingTooDeep, it.Name)
	}
	data, err := e.decode(ctx, it.Stream)
	if err != nil {
		return stats, fmt.Errorf("form /%s: %w", it.Name, err)
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		return stats, fmt.Errorf("form /%s: %w", it.Name, err)
	}

	var res *raw.DictObj
	if own := it.Stream.Dict.Dict(e.r, "Resources"); own != nil {
		res = raw.DeepCopy(own).(*raw.DictObj)
	} else if c.Resources != nil {
		res = raw.DeepCopy(c.Resources).(*raw.DictObj)
	} else {
		res = raw.Dict()
	}
	start := it.State
	start.CTM = it.Matrix.Multiply(it.State.CTM)
	start.Clip = it.Bounds
	sub := Content{Ops: ops, Scope: c.Scope.Child(res), Resources: res, State: start}
	edited, st, err := e.remove(ctx, sub, rects, t, depth+1)
	if err != nil {
		return stats, err
	}
	if st.Total() == 0 {
		return stats, nil
	}

	dict := raw.DeepCopy(it.Stream.Dict).(*raw.DictObj)
	dict.Delete("Filter")
	dict.Delete("DecodeParms")
	dict.Delete("Length")
	dict.Set("Resources", res)
	ref := e.store.AddObject(raw.NewStream(dict, contentstream.Serialize(edited)))

	xobjects := ownXObjects(e.r, c.Resources)
	name := uniqueName(c.Scope, xobjects, it.Name)
	xobjects.Set(name, ref)
	ed.set(it.Index, contentstream.Op("Do", raw.Name(name)))

	stats.add(st)
	stats.Forms++
	observability.OrNop(e.Logger).Debug("form copied for redaction",
		observability.String("xobject", it.Name),
		observability.String("copy", name),
		observability.Int("depth", depth+1))
	return stats, nil
}

// ownXObjects returns a direct XObject dictionary inside res.
func ownXObjects(r raw.Resolver, res *raw.DictObj) *raw.DictObj {
	v, ok := res.Get("XObject")
	if d, direct := v.(*raw.DictObj); ok && direct {
		return d
	}
	d := raw.Dict()
	if src := raw.DictOf(r, v); ok && src != nil {
		d = raw.DeepCopy(src).(*raw.DictObj)
	}
	res.Set("XObject", d)
	return d
}

func uniqueName(scope *resources.Scope, xobjects *raw.DictObj, base string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%sR%d", base, n)
		if _, taken := xobjects.Get(candidate); taken {
			continue
		}
		if _, taken := scope.Lookup(resources.CategoryXObject, candidate); taken {
			continue
		}
		return candidate
	}
}

// edits collects operation replacements and insertions by index.
type edits struct {
	replace map[int][]contentstream.Operation
	before  map[int][]contentstream.Operation
	after   map[int][]contentstream.Operation
}

func newEdits() *edits {
	return &edits{
		replace: make(map[int][]contentstream.Operation),
		before:  make(map[int][]contentstream.Operation),
		after:   make(map[int][]contentstream.Operation),
	}
}

// set replaces operation i; with no ops it deletes it.
func (ed *edits) set(i int, ops ...contentstream.Operation) { ed.replace[i] = ops }

func (ed *edits) prepend(i int, ops ...contentstream.Operation) {
	ed.before[i] = append(ed.before[i], ops...)
}

func (ed *edits) appendAfter(i int, ops ...contentstream.Operation) {
	ed.after[i] = append(ed.after[i], ops...)
}

func (ed *edits) apply(ops []contentstream.Operation) []contentstream.Operation {
	if len(ed.replace)+len(ed.before)+len(ed.after) == 0 {
		return ops
	}
	out := make([]contentstream.Operation, 0, len(ops))
	for i, op := range ops {
		out = append(out, ed.before[i]...)
		if rep, ok := ed.replace[i]; ok {
			out = append(out, rep...)
		} else {
			out = append(out, op)
		}
		out = append(out, ed.after[i]...)
	}
	return out
}
