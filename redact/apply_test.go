package redact

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/contentstream/editor"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/search"
)

// regionsFor finds pattern on every page of doc and maps the matches.
func regionsFor(t *testing.T, doc *document.Document, pattern, overlay string) []Region {
	t.Helper()
	eng := search.NewEngine(search.Options{})
	var out []Region
	for i := 0; i < doc.PageCount(); i++ {
		pt := pageText(t, doc, i)
		spans, err := eng.FindAll(context.Background(), pt, search.Spec{Pattern: pattern})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		for _, s := range spans {
			out = append(out, MapToRegions(pt, s, overlay)...)
		}
	}
	return out
}

func contents(t *testing.T, doc *document.Document, i int) string {
	t.Helper()
	page, _ := doc.Page(i)
	data, err := page.Contents(context.Background())
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	return string(data)
}

func TestApplyRemovesText(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("Secret plan", 72, 720, builder.TextOptions{})
	doc := openBuilt(t, b)
	regions := Plan(regionsFor(t, doc, "Secret", "FOIA"))
	if len(regions) != 1 {
		t.Fatalf("regions = %+v", regions)
	}

	res, err := NewApplier(Options{}).Apply(context.Background(), doc, regions, DefaultStyle())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Glyphs != 6 || res.Applied() != 1 || res.Pages != 1 {
		t.Fatalf("result = %+v", res)
	}
	pt := pageText(t, doc, 0)
	if strings.Contains(pt.Flattened, "Secret") || !strings.Contains(pt.Flattened, "plan") {
		t.Fatalf("text after redaction = %q", pt.Flattened)
	}
	if !strings.Contains(pt.Flattened, "FOIA") {
		t.Fatalf("label missing from %q", pt.Flattened)
	}
	c := contents(t, doc, 0)
	if !strings.HasPrefix(c, "q\n") || !strings.Contains(c, " re\nf\n") {
		t.Fatalf("content = %q", c)
	}
	page, _ := doc.Page(0)
	if _, ok := page.Resources.Dict(doc.Raw(), "Font").Get("RdF"); !ok {
		t.Fatalf("label font not registered")
	}
}

func TestApplyLabelOnlyWithOverlayBox(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("Secret plan", 72, 720, builder.TextOptions{})
	doc := openBuilt(t, b)
	style := DefaultStyle()
	style.DrawOverlayBox = false
	style.BorderWidth = 1
	style.BorderColor = Color{R: 1}
	if _, err := NewApplier(Options{}).Apply(context.Background(), doc, regionsFor(t, doc, "Secret", "FOIA"), style); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c := contents(t, doc, 0)
	if strings.Contains(c, "FOIA") || strings.Contains(c, "RdF") {
		t.Fatalf("label drawn without DrawOverlayBox: %q", c)
	}
	if !strings.Contains(c, "1 0 0 RG") || !strings.Contains(c, "\nS\n") {
		t.Fatalf("border missing: %q", c)
	}
}

func TestApplyRemovesAnnotations(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).
		DrawText("Secret", 72, 720, builder.TextOptions{}).
		AddLink(coords.NewRect(70, 715, 110, 730), "https://example.com/secret").
		AddAnnotation("Text", coords.NewRect(300, 300, 320, 320), "unrelated")
	doc := openBuilt(t, b)
	res, err := NewApplier(Options{}).Apply(context.Background(), doc, regionsFor(t, doc, "Secret", ""), DefaultStyle())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Annotations != 1 {
		t.Fatalf("removed %d annotations", res.Annotations)
	}
	page, _ := doc.Page(0)
	left := extractor.Annotations(doc.Raw(), page.Dict)
	if len(left) != 1 || left[0].Subtype != "Text" {
		t.Fatalf("remaining annotations %+v", left)
	}
}

func TestApplySkipsRegionsOutsideCropBox(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).
		DrawText("hidden", 500, 20, builder.TextOptions{}).
		SetCropBox(coords.NewRect(0, 100, 400, 792))
	doc := openBuilt(t, b)
	before := contents(t, doc, 0)
	res, err := NewApplier(Options{}).Apply(context.Background(), doc, regionsFor(t, doc, "hidden", ""), DefaultStyle())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(res.Regions) != 1 || res.Regions[0].Skipped != SkipOutsideCropBox || res.Applied() != 0 {
		t.Fatalf("result = %+v", res)
	}
	if contents(t, doc, 0) != before {
		t.Fatalf("skipped region changed the page")
	}
}

func TestApplyNegativeRegionProtects(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("ABC", 72, 720, builder.TextOptions{})
	doc := openBuilt(t, b)
	pt := pageText(t, doc, 0)
	all := MapToRegions(pt, search.MatchSpan{Start: 0, End: 3}, "")
	keep := MapToRegions(pt, search.MatchSpan{Start: 1, End: 2, Spec: search.Spec{Exclude: true}}, "")
	res, err := NewApplier(Options{}).Apply(context.Background(), doc, append(all, keep...), DefaultStyle())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Glyphs != 2 {
		t.Fatalf("removed %d glyphs", res.Glyphs)
	}
	after := pageText(t, doc, 0)
	if !strings.Contains(after.Flattened, "B") || strings.Contains(after.Flattened, "A") || strings.Contains(after.Flattened, "C") {
		t.Fatalf("text after = %q", after.Flattened)
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("Secret one", 72, 720, builder.TextOptions{})
	b.NewPage(612, 792).DrawText("Secret two", 72, 720, builder.TextOptions{})
	doc := openBuilt(t, b)
	regions := regionsFor(t, doc, "Secret", "")
	if len(regions) != 2 {
		t.Fatalf("regions = %+v", regions)
	}
	// the second page's content can no longer be decoded
	page, _ := doc.Page(1)
	stm := raw.StreamOf(doc.Raw(), mustGet(page.Dict, "Contents"))
	stm.Dict.Set("Filter", raw.Name("JBIG2Decode"))

	before, err := doc.Bytes(context.Background(), document.SaveOptions{})
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	_, err = NewApplier(Options{}).Apply(context.Background(), doc, regions, DefaultStyle())
	var ae *ApplyError
	if !errors.As(err, &ae) || ae.Page != 1 {
		t.Fatalf("expected ApplyError on page 1, got %v", err)
	}
	after, err := doc.Bytes(context.Background(), document.SaveOptions{})
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("failed apply modified the document")
	}
}

func TestApplyInvalidStyle(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(100, 100)
	doc := openBuilt(t, b)
	style := DefaultStyle()
	style.MinFontSize = 0
	var ae *ApplyError
	if _, err := NewApplier(Options{}).Apply(context.Background(), doc, nil, style); !errors.As(err, &ae) {
		t.Fatalf("expected ApplyError, got %v", err)
	}
}

func TestApplyImagePolicy(t *testing.T) {
	for _, tc := range []struct {
		policy editor.ImagePolicy
		want   string
	}{
		{editor.ImageRemove, "q\n50 0 0 50 10 10 cm\nQ"},
		{editor.ImageClip, "/Im1 Do"},
	} {
		b := builder.NewBuilder()
		b.NewPage(200, 200).DrawImage(10, 10, 50, 50, builder.ImageOptions{})
		doc := openBuilt(t, b)
		style := DefaultStyle()
		style.ImagePolicy = ImagePolicy(tc.policy)
		regions := []Region{{Rect: coords.NewRect(20, 20, 30, 30)}}
		res, err := NewApplier(Options{}).Apply(context.Background(), doc, regions, style)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if res.Images != 1 || !strings.Contains(contents(t, doc, 0), tc.want) {
			t.Fatalf("policy %v: images %d content %q", tc.policy, res.Images, contents(t, doc, 0))
		}
	}
}

func TestBalanced(t *testing.T) {
	ops := []contentstream.Operation{contentstream.Op("Q"), contentstream.Op("q"), contentstream.Op("q")}
	got := string(contentstream.Serialize(balanced(ops)))
	if got != "q\nq\nQ\nq\nq\nQ\nQ\nQ\n" {
		t.Fatalf("balanced = %q", got)
	}
}

func TestLabelFitsRegion(t *testing.T) {
	s := DefaultStyle()
	if size := labelSize(coords.NewRect(0, 0, 200, 50), "FOIA", s); size != s.MaxFontSize {
		t.Fatalf("roomy region size = %v", size)
	}
	// 4 x 10pt Helvetica caps are much wider than 20pt
	size := labelSize(coords.NewRect(0, 0, 20, 50), "FOIA", s)
	if size >= s.MaxFontSize || size < s.MinFontSize {
		t.Fatalf("narrow region size = %v", size)
	}
	if size := labelSize(coords.NewRect(0, 0, 1, 1), "FOIA", s); size != s.MinFontSize {
		t.Fatalf("tiny region size = %v", size)
	}
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle([]byte(`{"boxFillColor":"#ff0000","horizontalAlign":"left","verticalAlign":"top","imagePolicy":"clip","maxFontSize":20}`))
	if err != nil {
		t.Fatalf("ParseStyle: %v", err)
	}
	if s.BoxFillColor != (Color{R: 1}) || s.HorizontalAlign != AlignLeft || s.VerticalAlign != AlignTop {
		t.Fatalf("style = %+v", s)
	}
	if editor.ImagePolicy(s.ImagePolicy) != editor.ImageClip || s.MaxFontSize != 20 || !s.DrawOverlayBox {
		t.Fatalf("style = %+v", s)
	}
	for _, bad := range []string{`{"textColor":"red"}`, `{"horizontalAlign":"up"}`, `{"borderWidth":-1}`, `{"minFontSize":30}`} {
		if _, err := ParseStyle([]byte(bad)); err == nil {
			t.Errorf("ParseStyle(%s) should fail", bad)
		}
	}
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}
