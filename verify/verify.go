// Package verify re-reads a redacted file and looks for text left inside
// the areas that were redacted.
//
// Two readers are used. The engine's own extractor gives exact glyph
// boxes; github.com/ledongthuc/pdf parses the file with an independent
// implementation, so a defect shared by our writer and our reader does
// not hide a leak.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/redact"
)

// Reader names the parser that reported a finding.
const (
	ReaderEngine      = "engine"
	ReaderIndependent = "ledongthuc/pdf"
)

// Finding is text found inside a redacted region.
type Finding struct {
	PageIndex int         `json:"page"`
	Region    coords.Rect `json:"region"`
	Text      string      `json:"text"`
	Reader    string      `json:"reader"`
}

// Report is the outcome of Check.
type Report struct {
	Findings []Finding `json:"findings"`
	// Warnings lists checks that could not run, such as the independent
	// reader failing on the file.
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether no leaked text was found.
func (r *Report) OK() bool { return len(r.Findings) == 0 }

// LeakError is returned by strict verification when text survived.
type LeakError struct {
	Findings []Finding
}

func (e *LeakError) Error() string {
	if len(e.Findings) == 0 {
		return "redacted text survived"
	}
	f := e.Findings[0]
	msg := fmt.Sprintf("redacted text survived on page %d (%s): %q", f.PageIndex, f.Reader, f.Text)
	if n := len(e.Findings) - 1; n > 0 {
		msg += fmt.Sprintf(" and %d more", n)
	}
	return msg
}

// Err returns a LeakError when the report has findings and nil otherwise.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &LeakError{Findings: r.Findings}
}

type Options struct {
	MaxDepth int
	// SkipIndependent disables the ledongthuc/pdf pass.
	SkipIndependent bool
	Logger          observability.Logger
	Tracer          observability.Tracer
}

// glyph is a character with a reference point in page space.
type glyph struct {
	text string
	at   coords.Point
}

// pageAreas holds the applied regions of one page.
type pageAreas struct {
	redacted []redact.Region
	protect  []coords.Rect
}

// Check inspects data, the saved output, against the regions that were
// applied to it. Negative regions protect their area from findings.
func Check(ctx context.Context, data []byte, regions []redact.Region, opts Options) (_ *Report, err error) {
	ctx, span := observability.TracerOrNop(opts.Tracer).StartSpan(ctx, observability.SpanVerify)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()
	logger := observability.OrNop(opts.Logger)

	pages := make(map[int]*pageAreas)
	for _, r := range regions {
		pa := pages[r.PageIndex]
		if pa == nil {
			pa = &pageAreas{}
			pages[r.PageIndex] = pa
		}
		if r.Negative {
			pa.protect = append(pa.protect, r.Rect)
		} else {
			pa.redacted = append(pa.redacted, r)
		}
	}
	order := make([]int, 0, len(pages))
	for pi := range pages {
		order = append(order, pi)
	}
	sort.Ints(order)

	report := &Report{}
	doc, err := document.Load(ctx, data, document.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	ex := extractor.New(doc, extractor.Options{MaxDepth: opts.MaxDepth, Logger: opts.Logger})
	for _, pi := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := doc.Page(pi)
		if err != nil {
			return nil, err
		}
		pt, err := ex.Extract(ctx, page)
		if err != nil {
			return nil, err
		}
		var glyphs []glyph
		for _, run := range pt.Runs {
			for _, g := range run.Glyphs {
				glyphs = append(glyphs, glyph{text: g.Text, at: g.Box.Center()})
			}
		}
		report.Findings = append(report.Findings, inspect(pi, glyphs, pages[pi], ReaderEngine)...)
	}

	if !opts.SkipIndependent {
		findings, err := independent(data, order, pages)
		if err != nil {
			logger.Warn("independent verification skipped", observability.Err(err))
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", ReaderIndependent, err))
		}
		report.Findings = append(report.Findings, findings...)
	}
	span.SetTag("findings", len(report.Findings))
	logger.Info("output verified",
		observability.Int("pages", len(order)),
		observability.Int("findings", len(report.Findings)))
	return report, nil
}

// independent reads the page text with ledongthuc/pdf. The library panics
// on some malformed input; that is reported as an error.
func independent(data []byte, order []int, pages map[int]*pageAreas) (findings []Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			findings, err = nil, fmt.Errorf("reader panic: %v", p)
		}
	}()
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, pi := range order {
		if pi+1 > r.NumPage() {
			return findings, fmt.Errorf("page %d missing", pi)
		}
		p := r.Page(pi + 1)
		if p.V.IsNull() {
			continue
		}
		var glyphs []glyph
		for _, t := range p.Content().Text {
			// baseline origin; lift the point to mid x-height
			glyphs = append(glyphs, glyph{
				text: t.S,
				at:   coords.Point{X: t.X + t.W/2, Y: t.Y + t.FontSize*0.35},
			})
		}
		findings = append(findings, inspect(pi, glyphs, pages[pi], ReaderIndependent)...)
	}
	return findings, nil
}

// inspect collects the glyphs inside each redacted region. The overlay
// labels drawn over the page are expected there and are taken out before
// anything that remains counts as a finding.
func inspect(pi int, glyphs []glyph, pa *pageAreas, reader string) []Finding {
	var out []Finding
	for _, r := range pa.redacted {
		var b strings.Builder
		for _, g := range glyphs {
			if !r.Rect.ContainsPoint(g.at) || inAny(pa.protect, g.at) {
				continue
			}
			b.WriteString(g.text)
		}
		left := compact(b.String())
		var labels []string
		for _, other := range pa.redacted {
			if other.OverlayText != "" && other.Rect.Overlaps(r.Rect) {
				label := compact(other.OverlayText)
				labels = append(labels, label)
				left = strings.ReplaceAll(left, label, "")
			}
		}
		if left != "" && !clippedLabel(left, labels) {
			out = append(out, Finding{PageIndex: pi, Region: r.Rect, Text: left, Reader: reader})
		}
	}
	return out
}

// clippedLabel reports whether left is the visible part of a label that
// overflowed its region.
func clippedLabel(left string, labels []string) bool {
	for _, l := range labels {
		if strings.Contains(l, left) {
			return true
		}
	}
	return false
}

func inAny(areas []coords.Rect, p coords.Point) bool {
	for _, a := range areas {
		if a.ContainsPoint(p) {
			return true
		}
	}
	return false
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
