package redact

import (
	"context"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/search"
)

func openBuilt(t *testing.T, b builder.PDFBuilder) *document.Document {
	t.Helper()
	rd, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc, err := document.FromRaw(rd, document.Options{})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return doc
}

func pageText(t *testing.T, doc *document.Document, i int) *extractor.PageText {
	t.Helper()
	page, err := doc.Page(i)
	if err != nil {
		t.Fatalf("page %d: %v", i, err)
	}
	pt, err := extractor.New(doc, extractor.Options{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return pt
}

func TestMapToRegionsPerRun(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).
		DrawText("Name", 72, 720, builder.TextOptions{FontSize: 10}).
		DrawText("Jane", 72, 700, builder.TextOptions{FontSize: 10})
	pt := pageText(t, openBuilt(t, b), 0)
	if pt.Flattened != "Name\nJane" {
		t.Fatalf("flattened = %q", pt.Flattened)
	}

	spec := search.Spec{Name: "wrap", Pattern: "me Ja"}
	regions := MapToRegions(pt, search.MatchSpan{Start: 2, End: 7, Spec: spec}, "X")
	if len(regions) != 2 {
		t.Fatalf("regions = %+v", regions)
	}
	// "me" starts after "Na": N 722 + a 556 units at 10pt
	if r := regions[0].Rect; !near(r.X1, 84.78) || r.Y1 < 717 || r.Y2 > 728 {
		t.Fatalf("first region %+v", r)
	}
	if regions[0].Text != "me" || regions[1].Text != "Ja" {
		t.Fatalf("texts %q %q", regions[0].Text, regions[1].Text)
	}
	if regions[1].Rect.Y2 > 711 || regions[1].OverlayText != "X" || regions[1].Sources[0] != "wrap" {
		t.Fatalf("second region %+v", regions[1])
	}
	for _, r := range regions {
		if r.Rect.X1 > r.Rect.X2 || r.Rect.Y1 > r.Rect.Y2 {
			t.Fatalf("rect not normalized: %+v", r.Rect)
		}
	}

	if got := MapToRegions(pt, search.MatchSpan{Start: 4, End: 5, Spec: spec}, ""); len(got) != 0 {
		t.Fatalf("separator span produced %+v", got)
	}
}

func TestMapToRegionsNegative(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("keep", 72, 720, builder.TextOptions{})
	pt := pageText(t, openBuilt(t, b), 0)
	got := MapToRegions(pt, search.MatchSpan{Start: 0, End: 4, Spec: search.Spec{Pattern: "keep", Exclude: true}}, "")
	if len(got) != 1 || !got[0].Negative {
		t.Fatalf("regions = %+v", got)
	}
}

func near(a, b float64) bool { return a-b < 1e-6 && b-a < 1e-6 }

func rect(x1, y1, x2, y2 float64) coords.Rect { return coords.NewRect(x1, y1, x2, y2) }

func TestPlan(t *testing.T) {
	cases := []struct {
		name string
		in   []Region
		want []coords.Rect
	}{
		{
			name: "overlapping same overlay merge",
			in:   []Region{{Rect: rect(0, 0, 10, 10)}, {Rect: rect(5, 5, 15, 15)}},
			want: []coords.Rect{rect(0, 0, 15, 15)},
		},
		{
			name: "different overlay stays apart",
			in:   []Region{{Rect: rect(0, 0, 10, 10), OverlayText: "A"}, {Rect: rect(5, 5, 15, 15), OverlayText: "B"}},
			want: []coords.Rect{rect(0, 0, 10, 10), rect(5, 5, 15, 15)},
		},
		{
			name: "touching edges do not merge",
			in:   []Region{{Rect: rect(0, 0, 10, 10)}, {Rect: rect(10, 0, 20, 10)}},
			want: []coords.Rect{rect(0, 0, 10, 10), rect(10, 0, 20, 10)},
		},
		{
			name: "different pages",
			in:   []Region{{Rect: rect(0, 0, 10, 10)}, {PageIndex: 1, Rect: rect(0, 0, 10, 10)}},
			want: []coords.Rect{rect(0, 0, 10, 10), rect(0, 0, 10, 10)},
		},
		{
			name: "negative flag",
			in:   []Region{{Rect: rect(0, 0, 10, 10)}, {Rect: rect(5, 5, 15, 15), Negative: true}},
			want: []coords.Rect{rect(0, 0, 10, 10), rect(5, 5, 15, 15)},
		},
		{
			// the union of the first two reaches the third
			name: "transitive",
			in: []Region{
				{Rect: rect(0, 0, 10, 10)},
				{Rect: rect(30, 0, 40, 10)},
				{Rect: rect(8, 0, 32, 2)},
				{Rect: rect(0, 50, 5, 55)},
			},
			want: []coords.Rect{rect(0, 0, 40, 10), rect(0, 50, 5, 55)},
		},
		{
			name: "union grows into an earlier region",
			in: []Region{
				{Rect: rect(0, 20, 10, 30)},
				{Rect: rect(0, 0, 10, 10)},
				{Rect: rect(5, 5, 8, 25)},
			},
			want: []coords.Rect{rect(0, 0, 10, 30)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d regions %+v, want %d", len(got), got, len(tc.want))
			}
			for i := range got {
				if got[i].Rect != tc.want[i] {
					t.Fatalf("region %d = %+v, want %+v", i, got[i].Rect, tc.want[i])
				}
			}
		})
	}
}

func TestPlanMergesSources(t *testing.T) {
	in := []Region{
		{Rect: rect(0, 0, 10, 10), Sources: []string{"a"}, Text: "x"},
		{Rect: rect(5, 0, 15, 10), Sources: []string{"b", "a"}, Text: "y"},
	}
	got := Plan(in)
	if len(got) != 1 || len(got[0].Sources) != 2 || got[0].Sources[1] != "b" || got[0].Text != "x y" {
		t.Fatalf("merged = %+v", got)
	}
	if len(in[0].Sources) != 1 {
		t.Fatalf("Plan modified its input")
	}
}
