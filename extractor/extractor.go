// Package extractor turns page content into positioned text runs and a
// flattened page text whose byte offsets map back to glyph boxes.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/resources"
)

const (
	// DefaultRunGapFactor breaks a run at a horizontal gap wider than this
	// many font sizes.
	DefaultRunGapFactor = 1.5
	// DefaultSpaceFactor inserts a space at a gap wider than this share of
	// the font's space width.
	DefaultSpaceFactor = 0.3
)

// Options configure an Extractor.
type Options struct {
	RunGapFactor float64
	SpaceFactor  float64
	// MaxDepth bounds form XObject nesting.
	MaxDepth int
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// Glyph is one character of a run with its page-space box. Start and End
// are byte offsets into PageText.Flattened.
type Glyph struct {
	Text       string
	Box        coords.Rect
	Start, End int
}

// TextRun is a maximal sequence of glyphs on one baseline.
type TextRun struct {
	PageIndex int
	Text      string
	Quad      coords.Quad
	// Start is the offset of Text in PageText.Flattened.
	Start  int
	Glyphs []Glyph
}

// End is the offset just past the run.
func (r *TextRun) End() int { return r.Start + len(r.Text) }

// PageText is the text of one page.
type PageText struct {
	PageIndex int
	Flattened string
	Runs      []TextRun
}

// RunsIn returns the runs overlapping the byte range [start, end).
func (p *PageText) RunsIn(start, end int) []*TextRun {
	var out []*TextRun
	for i := range p.Runs {
		r := &p.Runs[i]
		if r.Start < end && start < r.End() {
			out = append(out, r)
		}
	}
	return out
}

// Extractor is safe for concurrent use across pages of one document.
type Extractor struct {
	opts   Options
	tracer *contentstream.Tracer
	logger observability.Logger
	spans  observability.Tracer
}

func New(doc *document.Document, opts Options) *Extractor {
	if opts.RunGapFactor <= 0 {
		opts.RunGapFactor = DefaultRunGapFactor
	}
	if opts.SpaceFactor <= 0 {
		opts.SpaceFactor = DefaultSpaceFactor
	}
	tr := contentstream.NewTracer(doc.Raw(), doc.DecodeStream)
	tr.Forms = true
	if opts.MaxDepth > 0 {
		tr.MaxDepth = opts.MaxDepth
	}
	tr.Logger = opts.Logger
	return &Extractor{
		opts:   opts,
		tracer: tr,
		logger: observability.OrNop(opts.Logger),
		spans:  observability.TracerOrNop(opts.Tracer),
	}
}

// Extract reads the text of page. A page without text yields an empty
// PageText.
func (e *Extractor) Extract(ctx context.Context, page *document.Page) (_ *PageText, err error) {
	ctx, span := e.spans.StartSpan(ctx, observability.SpanExtractPage)
	span.SetTag("page", page.Index)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	data, err := page.Contents(ctx)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index, err)
	}
	ops, err := contentstream.Parse(data)
	if err != nil {
		// keep what parsed; a truncated stream still shows its text
		e.logger.Warn("content stream truncated", observability.Int("page", page.Index), observability.Err(err))
	}

	b := newRunBuilder(page.Index, e.opts)
	scope := resources.NewScope(page, page.Resources)
	start := contentstream.NewGraphicsState(coords.Identity(), page.MediaBox)
	err = e.tracer.Trace(ctx, ops, scope, start, func(it *contentstream.Item) error {
		if it.Kind != contentstream.ItemText {
			return nil
		}
		spaceAdvance := 0.25
		if f := it.State.Text.Font; f != nil {
			spaceAdvance = f.SpaceAdvance()
		}
		for _, g := range it.Glyphs {
			b.add(g, spaceAdvance)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index, err)
	}
	pt := b.finish()
	e.logger.Debug("page text extracted",
		observability.Int("page", page.Index),
		observability.Int("runs", len(pt.Runs)),
		observability.Int("bytes", len(pt.Flattened)))
	return pt, nil
}

// normalize expands ligatures and compatibility forms; every byte of the
// result maps to the same glyph.
func normalize(s string) string {
	if s == "" {
		return s
	}
	return norm.NFKC.String(strings.ReplaceAll(s, " ", " "))
}
