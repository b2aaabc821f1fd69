package extractor

import (
	"context"
	"math"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/ir/raw"
)

func open(t *testing.T, b builder.PDFBuilder) *document.Document {
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

func extract(t *testing.T, doc *document.Document, index int) *PageText {
	t.Helper()
	page, err := doc.Page(index)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	pt, err := New(doc, Options{}).Extract(context.Background(), page)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return pt
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestExtractSeparators(t *testing.T) {
	opts := builder.TextOptions{FontSize: 12}
	cases := []struct {
		name string
		draw func(p builder.PageBuilder)
		want string
		runs int
	}{
		{
			name: "one run",
			draw: func(p builder.PageBuilder) { p.DrawText("Hello World", 72, 720, opts) },
			want: "Hello World",
			runs: 1,
		},
		{
			name: "baseline change",
			draw: func(p builder.PageBuilder) {
				p.DrawText("Name", 72, 720, opts).DrawText("Jane", 72, 700, opts)
			},
			want: "Name\nJane",
			runs: 2,
		},
		{
			name: "large gap",
			draw: func(p builder.PageBuilder) {
				p.DrawText("A", 72, 720, opts).DrawText("B", 300, 720, opts)
			},
			want: "A B",
			runs: 2,
		},
		{
			name: "backwards jump",
			draw: func(p builder.PageBuilder) {
				p.DrawText("right", 300, 720, opts).DrawText("left", 72, 720, opts)
			},
			want: "right left",
			runs: 2,
		},
		{
			// "Hello" is 27.336pt wide; a 2pt gap exceeds 0.3 of the space width
			name: "synthetic space",
			draw: func(p builder.PageBuilder) {
				p.DrawText("Hello", 72, 720, opts).DrawText("World", 101.336, 720, opts)
			},
			want: "Hello World",
			runs: 1,
		},
		{
			name: "abutting shows",
			draw: func(p builder.PageBuilder) {
				p.DrawText("Hello", 72, 720, opts).DrawText("World", 99.336, 720, opts)
			},
			want: "HelloWorld",
			runs: 1,
		},
		{
			name: "letter spacing",
			draw: func(p builder.PageBuilder) {
				p.DrawText("SECRET", 72, 720, builder.TextOptions{FontSize: 12, CharSpacing: 2})
			},
			want: "SECRET",
			runs: 1,
		},
		{
			// 20pt of character spacing is wider than the run gap
			name: "wide letter spacing",
			draw: func(p builder.PageBuilder) {
				p.DrawText("SECRET", 72, 720, builder.TextOptions{FontSize: 12, CharSpacing: 20})
			},
			want: "SECRET",
			runs: 1,
		},
		{
			name: "word spacing",
			draw: func(p builder.PageBuilder) {
				p.DrawText("alpha SECRET omega", 72, 720, builder.TextOptions{FontSize: 12, CharSpacing: 2, WordSpacing: 7})
			},
			want: "alpha SECRET omega",
			runs: 1,
		},
		{
			name: "invisible text",
			draw: func(p builder.PageBuilder) {
				p.DrawText("hidden", 72, 720, builder.TextOptions{FontSize: 12, RenderMode: contentstream.TextInvisible})
			},
			want: "hidden",
			runs: 1,
		},
		{
			name: "image only",
			draw: func(p builder.PageBuilder) { p.DrawImage(0, 0, 100, 100, builder.ImageOptions{}) },
			want: "",
			runs: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := builder.NewBuilder()
			tc.draw(b.NewPage(612, 792))
			pt := extract(t, open(t, b), 0)
			if pt.Flattened != tc.want {
				t.Fatalf("flattened = %q, want %q", pt.Flattened, tc.want)
			}
			if len(pt.Runs) != tc.runs {
				t.Fatalf("runs = %d, want %d", len(pt.Runs), tc.runs)
			}
			for _, r := range pt.Runs {
				if pt.Flattened[r.Start:r.End()] != r.Text {
					t.Fatalf("run %q is not at offset %d", r.Text, r.Start)
				}
				for _, g := range r.Glyphs {
					if pt.Flattened[g.Start:g.End] != g.Text {
						t.Fatalf("glyph %q offsets %d..%d", g.Text, g.Start, g.End)
					}
				}
			}
		})
	}
}

func TestExtractGlyphBoxes(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("Hi there", 72, 720, builder.TextOptions{FontSize: 10})
	pt := extract(t, open(t, b), 0)
	if len(pt.Runs) != 1 || len(pt.Runs[0].Glyphs) != 8 {
		t.Fatalf("unexpected runs %+v", pt.Runs)
	}
	h := pt.Runs[0].Glyphs[0].Box
	// Helvetica H is 722 units wide with ascent 718 and descent -207
	if !near(h.X1, 72) || !near(h.X2, 79.22) || !near(h.Y1, 717.93) || !near(h.Y2, 727.18) {
		t.Fatalf("H box = %+v", h)
	}
	i := pt.Runs[0].Glyphs[1].Box
	if !near(i.X1, 79.22) {
		t.Fatalf("i starts at %v", i.X1)
	}
	q := pt.Runs[0].Quad.Bounds()
	if !near(q.X1, 72) || !near(q.Y2, 727.18) {
		t.Fatalf("run quad = %+v", q)
	}
}

func TestExtractExpandsLigatures(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).DrawText("\x01nd", 72, 720, builder.TextOptions{})
	doc := open(t, b)
	page, _ := doc.Page(0)
	ref, _ := page.Resources.Dict(doc.Raw(), "Font").Get("F1")
	enc := raw.Dict()
	enc.Set("BaseEncoding", raw.Name("WinAnsiEncoding"))
	enc.Set("Differences", raw.NewArray(raw.Int(1), raw.Name("fi")))
	raw.DictOf(doc.Raw(), ref).Set("Encoding", enc)

	pt := extract(t, doc, 0)
	if pt.Flattened != "find" {
		t.Fatalf("flattened = %q", pt.Flattened)
	}
	g := pt.Runs[0].Glyphs
	if len(g) != 3 || g[0].Start != 0 || g[0].End != 2 || g[1].Start != 2 {
		t.Fatalf("glyph offsets %+v", g)
	}
}

func TestExtractFormText(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).
		DrawText("Body", 72, 700, builder.TextOptions{}).
		DrawFormText("hdr", "Header", 72, 760, builder.TextOptions{})
	pt := extract(t, open(t, b), 0)
	if pt.Flattened != "Body\nHeader" {
		t.Fatalf("flattened = %q", pt.Flattened)
	}
}

func TestRunsIn(t *testing.T) {
	b := builder.NewBuilder()
	b.NewPage(612, 792).
		DrawText("one", 72, 720, builder.TextOptions{}).
		DrawText("two", 72, 700, builder.TextOptions{}).
		DrawText("three", 72, 680, builder.TextOptions{})
	pt := extract(t, open(t, b), 0)
	if got := pt.RunsIn(2, 5); len(got) != 2 || got[0].Text != "one" || got[1].Text != "two" {
		t.Fatalf("RunsIn(2,5) = %+v", got)
	}
	if got := pt.RunsIn(3, 4); len(got) != 0 {
		t.Fatalf("separator should not overlap a run, got %+v", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"a b":   "a b",
		"ﬁ":     "fi",
		"plain": "plain",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
