package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
)

// fixture builds a one-page document and the planned regions for pattern.
func fixture(t *testing.T, text, pattern, overlay string) (*document.Document, []redact.Region) {
	t.Helper()
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText(text, 72, 720, builder.TextOptions{})
	rd, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc, err := document.FromRaw(rd, document.Options{})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	page, _ := doc.Page(0)
	pt, err := extractor.New(doc, extractor.Options{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	spans, err := search.NewEngine(search.Options{}).FindAll(context.Background(), pt, search.Spec{Pattern: pattern})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	var regions []redact.Region
	for _, s := range spans {
		regions = append(regions, redact.MapToRegions(pt, s, overlay)...)
	}
	return doc, redact.Plan(regions)
}

func save(t *testing.T, doc *document.Document) []byte {
	t.Helper()
	data, err := doc.Bytes(context.Background(), document.SaveOptions{})
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	return data
}

func TestCheckRedactedOutput(t *testing.T) {
	for _, overlay := range []string{"", "FOIA"} {
		doc, regions := fixture(t, "Secret plan", "Secret", overlay)
		if _, err := redact.NewApplier(redact.Options{}).Apply(context.Background(), doc, regions, redact.DefaultStyle()); err != nil {
			t.Fatalf("apply: %v", err)
		}
		report, err := Check(context.Background(), save(t, doc), regions, Options{})
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !report.OK() || report.Err() != nil {
			t.Fatalf("overlay %q: unexpected findings %+v", overlay, report.Findings)
		}
	}
}

func TestCheckFindsLeak(t *testing.T) {
	doc, regions := fixture(t, "Secret plan", "Secret", "")
	// regions never applied: the text is still there
	report, err := Check(context.Background(), save(t, doc), regions, Options{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var engine, independent bool
	for _, f := range report.Findings {
		switch f.Reader {
		case ReaderEngine:
			engine = f.Text == "Secret" && f.PageIndex == 0
		case ReaderIndependent:
			independent = strings.Contains(f.Text, "ecre")
		}
	}
	if !engine {
		t.Fatalf("engine reader missed the leak: %+v", report.Findings)
	}
	if !independent && len(report.Warnings) == 0 {
		t.Fatalf("independent reader neither found the leak nor warned: %+v", report)
	}

	var leak *LeakError
	if err := report.Err(); !errors.As(err, &leak) || !strings.Contains(err.Error(), "page 0") {
		t.Fatalf("Err() = %v", err)
	}
}

func TestCheckProtectedArea(t *testing.T) {
	doc, regions := fixture(t, "Secret plan", "Secret", "")
	protect := regions[0]
	protect.Negative = true
	report, err := Check(context.Background(), save(t, doc), append(regions, protect), Options{SkipIndependent: true})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("text under a protected area reported: %+v", report.Findings)
	}
}

func TestInspectClippedLabel(t *testing.T) {
	r := redact.Region{Rect: coords.NewRect(0, 0, 10, 10), OverlayText: "REDACTED"}
	glyphs := []glyph{
		{text: "D", at: coords.Point{X: 2, Y: 5}},
		{text: "A", at: coords.Point{X: 6, Y: 5}},
		{text: "x", at: coords.Point{X: 20, Y: 5}},
	}
	if got := inspect(0, glyphs, &pageAreas{redacted: []redact.Region{r}}, ReaderEngine); len(got) != 0 {
		t.Fatalf("clipped label reported as leak: %+v", got)
	}
	glyphs = append(glyphs, glyph{text: "9", at: coords.Point{X: 8, Y: 5}})
	got := inspect(0, glyphs, &pageAreas{redacted: []redact.Region{r}}, ReaderEngine)
	if len(got) != 1 || got[0].Text != "DA9" {
		t.Fatalf("findings = %+v", got)
	}
}
