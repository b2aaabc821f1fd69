package redact

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/contentstream/editor"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/resources"
)

// ApplyError aborts a whole Apply call; the document is left unmodified.
type ApplyError struct {
	// Page is the page being edited, or -1 before any page was touched.
	Page int
	Err  error
}

func (e *ApplyError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("apply redactions: %v", e.Err)
	}
	return fmt.Sprintf("apply redactions on page %d: %v", e.Page, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// SkipOutsideCropBox is the reason given for regions not on the visible page.
const SkipOutsideCropBox = "outside crop box"

// RegionResult tells what happened to one planned region.
type RegionResult struct {
	Region  Region
	Applied bool
	// Skipped is the reason a region was not applied.
	Skipped string
}

// Result summarizes an Apply call.
type Result struct {
	Regions     []RegionResult
	Pages       int
	Glyphs      int
	Paths       int
	Images      int
	Shadings    int
	Forms       int
	Annotations int
}

// Applied counts the regions that were applied.
func (r *Result) Applied() int {
	n := 0
	for _, rr := range r.Regions {
		if rr.Applied {
			n++
		}
	}
	return n
}

func (r *Result) add(s editor.Stats) {
	r.Glyphs += s.Glyphs
	r.Paths += s.Paths
	r.Images += s.Images
	r.Shadings += s.Shadings
	r.Forms += s.Forms
}

type Options struct {
	// MaxDepth bounds form XObject nesting while editing.
	MaxDepth int
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// Applier writes planned regions into a document.
type Applier struct {
	opts   Options
	logger observability.Logger
	spans  observability.Tracer
}

func NewApplier(opts Options) *Applier {
	return &Applier{opts: opts, logger: observability.OrNop(opts.Logger), spans: observability.TracerOrNop(opts.Tracer)}
}

// Apply strips the content under the regions and draws their appearance.
// Edits are staged on a clone and committed only when every page
// succeeded.
func (a *Applier) Apply(ctx context.Context, doc *document.Document, regions []Region, style AppearanceStyle) (_ *Result, err error) {
	ctx, span := a.spans.StartSpan(ctx, observability.SpanApply)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	if err := style.Validate(); err != nil {
		return nil, &ApplyError{Page: -1, Err: err}
	}
	staged, err := doc.Clone()
	if err != nil {
		return nil, &ApplyError{Page: -1, Err: err}
	}

	var order []int
	groups := make(map[int][]Region)
	for _, r := range regions {
		if _, seen := groups[r.PageIndex]; !seen {
			order = append(order, r.PageIndex)
		}
		groups[r.PageIndex] = append(groups[r.PageIndex], r)
	}

	res := &Result{}
	for _, pi := range order {
		if err := ctx.Err(); err != nil {
			return nil, &ApplyError{Page: pi, Err: err}
		}
		if err := a.applyPage(ctx, staged, pi, groups[pi], style, res); err != nil {
			return nil, &ApplyError{Page: pi, Err: err}
		}
	}
	if err := doc.Commit(staged); err != nil {
		return nil, &ApplyError{Page: -1, Err: err}
	}
	span.SetTag(observability.MetricRegionCount, res.Applied())
	a.logger.Info("redactions applied",
		observability.Int(observability.MetricRegionCount, res.Applied()),
		observability.Int("pages", res.Pages),
		observability.Int("glyphs", res.Glyphs),
		observability.Int("annotations", res.Annotations),
		observability.Duration(observability.MetricApplyTime, time.Since(start)),
	)
	return res, nil
}

func (a *Applier) applyPage(ctx context.Context, doc *document.Document, pi int, regions []Region, style AppearanceStyle, res *Result) error {
	page, err := doc.Page(pi)
	if err != nil {
		return err
	}
	var rects, protect []coords.Rect
	var draw []Region
	for _, r := range regions {
		switch {
		case r.Negative:
			protect = append(protect, r.Rect)
			res.Regions = append(res.Regions, RegionResult{Region: r, Applied: true})
		case !r.Rect.Overlaps(page.CropBox):
			a.logger.Debug("region skipped", observability.Int("page", pi), observability.String("reason", SkipOutsideCropBox))
			res.Regions = append(res.Regions, RegionResult{Region: r, Skipped: SkipOutsideCropBox})
		default:
			rects = append(rects, r.Rect)
			draw = append(draw, r)
			res.Regions = append(res.Regions, RegionResult{Region: r, Applied: true})
		}
	}
	if len(rects) == 0 {
		return nil
	}

	data, err := page.Contents(ctx)
	if err != nil {
		return err
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		// a stream we cannot read fully cannot be redacted safely
		return fmt.Errorf("content stream: %w", err)
	}
	own := page.OwnResources()
	ed := editor.New(doc.Raw(), page, doc.DecodeStream)
	if a.opts.MaxDepth > 0 {
		ed.MaxDepth = a.opts.MaxDepth
	}
	ed.Logger = a.logger
	kept, stats, err := ed.RemoveRects(ctx, editor.Content{
		Ops:       ops,
		Scope:     resources.NewScope(page, own),
		Resources: own,
		State:     contentstream.NewGraphicsState(coords.Identity(), page.MediaBox),
	}, editor.Target{Rects: rects, Protect: protect, Images: editor.ImagePolicy(style.ImagePolicy)})
	if err != nil {
		return err
	}
	res.add(stats)
	res.Annotations += removeAnnotations(page, rects, protect)

	var fontRes string
	for _, r := range draw {
		if style.DrawOverlayBox && r.OverlayText != "" {
			fontRes = addFont(page, own, style.Font)
			break
		}
	}
	out := balanced(kept)
	for _, r := range draw {
		pieces := []coords.Rect{r.Rect}
		for _, p := range protect {
			pieces = cut(pieces, p)
		}
		if len(pieces) == 0 {
			continue
		}
		out = append(out, appearance(r.Rect, pieces, r.OverlayText, style, fontRes)...)
	}
	page.SetContents(contentstream.Serialize(out))
	res.Pages++
	a.logger.Debug("page redacted",
		observability.Int("page", pi),
		observability.Int("regions", len(draw)),
		observability.Int("removed", stats.Total()))
	return nil
}

// balanced wraps ops in q ... Q, adding saves or restores so that ops
// cannot unbalance the graphics state stack around the wrapper.
func balanced(ops []contentstream.Operation) []contentstream.Operation {
	depth, low := 0, 0
	for _, o := range ops {
		switch o.Operator {
		case "q":
			depth++
		case "Q":
			depth--
			low = min(low, depth)
		}
	}
	out := make([]contentstream.Operation, 0, len(ops)+depth-2*low+2)
	for range 1 - low {
		out = append(out, contentstream.Op("q"))
	}
	out = append(out, ops...)
	for range depth - low + 1 {
		out = append(out, contentstream.Op("Q"))
	}
	return out
}

// removeAnnotations drops annotations that overlap a rectangle and are
// not inside a protected area.
func removeAnnotations(page *document.Page, rects, protect []coords.Rect) int {
	annots := extractor.Annotations(page, page.Dict)
	if len(annots) == 0 {
		return 0
	}
	drop := make(map[int]bool)
	for _, an := range annots {
		if containsAnyRect(protect, an.Rect) {
			continue
		}
		for _, r := range rects {
			if an.Rect.Overlaps(r) {
				drop[an.Index] = true
				break
			}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	arr := page.Dict.Array(page, "Annots")
	kept := raw.NewArray()
	for i, item := range arr.Items {
		if !drop[i] {
			kept.Append(item)
		}
	}
	if kept.Len() == 0 {
		page.Dict.Delete("Annots")
	} else {
		page.Dict.Set("Annots", kept)
	}
	return len(drop)
}

func cut(pieces []coords.Rect, r coords.Rect) []coords.Rect {
	var out []coords.Rect
	for _, p := range pieces {
		for _, q := range p.Subtract(r) {
			if !q.Empty() {
				out = append(out, q)
			}
		}
	}
	return out
}

func containsAnyRect(areas []coords.Rect, r coords.Rect) bool {
	for _, a := range areas {
		if a.Contains(r) {
			return true
		}
	}
	return false
}

// addFont registers the label font in the page's own resources.
func addFont(page *document.Page, own *raw.DictObj, name string) string {
	fontsDict := raw.Dict()
	if v, ok := own.Get("Font"); ok {
		if d := raw.DictOf(page, v); d != nil {
			fontsDict = raw.DeepCopy(d).(*raw.DictObj)
		}
	}
	res := "RdF"
	for i := 1; ; i++ {
		if _, taken := fontsDict.Get(res); !taken {
			break
		}
		res = "RdF" + strconv.Itoa(i)
	}
	fontsDict.Set(res, page.AddObject(labelFont(name)))
	own.Set("Font", fontsDict)
	return res
}
