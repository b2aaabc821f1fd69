package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/document"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/redact"
	"github.com/wudi/pdfredact/search"
)

// writePDF builds one page per entry of pages and writes the file.
func writePDF(t *testing.T, pages ...string) string {
	t.Helper()
	b := builder.NewBuilder()
	for _, text := range pages {
		b.NewPage(612, 792).DrawText(text, 72, 720, builder.TextOptions{})
	}
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	path := filepath.Join(t.TempDir(), "source.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func textOf(t *testing.T, path string) []string {
	t.Helper()
	doc, err := document.Open(context.Background(), path, document.Options{})
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer doc.Close()
	ex := extractor.New(doc, extractor.Options{})
	var out []string
	for i := 0; i < doc.PageCount(); i++ {
		page, _ := doc.Page(i)
		pt, err := ex.Extract(context.Background(), page)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		out = append(out, pt.Flattened)
	}
	return out
}

func preset(t *testing.T, name string) search.Spec {
	t.Helper()
	s, err := search.Preset(name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunEndToEnd(t *testing.T) {
	src := writePDF(t, "Contact: jane@example.com or call (555) 123-4567")
	dst := filepath.Join(t.TempDir(), "out.pdf")
	job := Job{
		Source:      src,
		Destination: dst,
		Specs: []search.Spec{
			{Pattern: "Contact"},
			preset(t, "email"),
			preset(t, "us-phone"),
		},
		OverlayText: "FOIA",
		Verify:      true,
	}
	m, err := New(Options{Workers: 2}).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Applied() != 3 || len(m.Regions) != 3 {
		t.Fatalf("regions = %+v", m.Regions)
	}
	for i, a := range m.Regions {
		for _, b := range m.Regions[i+1:] {
			if a.Rect.Overlaps(b.Rect) {
				t.Fatalf("regions overlap: %+v %+v", a, b)
			}
		}
	}
	for i, s := range m.Specs {
		if s.Matches != 1 || s.Error != "" {
			t.Fatalf("spec %d report = %+v", i, s)
		}
	}
	if m.Verification == nil || !m.Verification.OK() {
		t.Fatalf("verification = %+v", m.Verification)
	}
	if m.RunID == "" || len(m.SourceSHA256) != 64 || m.SourceSHA256 == m.OutputSHA256 {
		t.Fatalf("manifest identity = %+v", m)
	}
	out, _ := os.ReadFile(dst)
	if digest(out) != m.OutputSHA256 {
		t.Fatalf("output hash does not match the written file")
	}

	text := strings.Join(textOf(t, dst), "\n")
	for _, gone := range []string{"Contact", "jane@example.com", "555", "123-4567"} {
		if strings.Contains(text, gone) {
			t.Fatalf("%q survived in %q", gone, text)
		}
	}
	if !strings.Contains(text, "or call") {
		t.Fatalf("unmatched text lost: %q", text)
	}
}

func TestRunWholeWord(t *testing.T) {
	src := writePDF(t, "cat category concat cat")
	dst := filepath.Join(t.TempDir(), "out.pdf")
	m, err := New(Options{}).Run(context.Background(), Job{
		Source:      src,
		Destination: dst,
		Specs:       []search.Spec{{Pattern: "cat", WholeWord: true}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Specs[0].Matches != 2 {
		t.Fatalf("matches = %d", m.Specs[0].Matches)
	}
	if got := textOf(t, dst)[0]; !strings.Contains(got, "category") || !strings.Contains(got, "concat") {
		t.Fatalf("text = %q", got)
	}
}

func TestRunFindsLetterSpacedText(t *testing.T) {
	cases := map[string]builder.TextOptions{
		"char spacing":         {CharSpacing: 2},
		"char and word":        {CharSpacing: 2, WordSpacing: 7},
		"spacing past run gap": {CharSpacing: 20},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			b := builder.NewBuilder()
			b.NewPage(612, 792).DrawText("alpha SECRET omega", 72, 720, opts)
			data, err := b.Bytes()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			src := filepath.Join(t.TempDir(), "spaced.pdf")
			if err := os.WriteFile(src, data, 0o644); err != nil {
				t.Fatal(err)
			}
			dst := filepath.Join(t.TempDir(), "out.pdf")
			m, err := New(Options{}).Run(context.Background(), Job{
				Source:       src,
				Destination:  dst,
				Specs:        []search.Spec{{Pattern: "SECRET"}},
				StrictVerify: true,
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if m.Specs[0].Matches != 1 || m.Applied() != 1 {
				t.Fatalf("specs = %+v regions = %+v", m.Specs, m.Regions)
			}
			got := textOf(t, dst)[0]
			if strings.Contains(got, "SECRET") || !strings.Contains(got, "alpha") || !strings.Contains(got, "omega") {
				t.Fatalf("text = %q", got)
			}
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	src := writePDF(t, "Secret one", "Secret two")
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf")
	specs := []search.Spec{{Pattern: "secret", IgnoreCase: true}}
	r := New(Options{})
	m, err := r.Run(context.Background(), Job{Source: src, Destination: first, Specs: specs})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if m.Applied() != 2 {
		t.Fatalf("first run applied %d", m.Applied())
	}
	m, err = r.Run(context.Background(), Job{Source: first, Destination: second, Specs: specs})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if m.Applied() != 0 || m.Specs[0].Matches != 0 {
		t.Fatalf("second run found %+v", m.Specs)
	}
}

func TestRunBoundIsDocumentWide(t *testing.T) {
	src := writePDF(t, "x x x", "x x")
	m, err := New(Options{MaxResults: 3, Workers: 4}).Run(context.Background(), Job{
		Source:      src,
		Destination: filepath.Join(t.TempDir(), "out.pdf"),
		Specs:       []search.Spec{{Pattern: "x", WholeWord: true}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := m.Specs[0]
	if rep.Matches != 3 || !rep.Truncated {
		t.Fatalf("spec report = %+v", rep)
	}
	for _, r := range m.Regions {
		if r.Page != 0 {
			t.Fatalf("bound should keep the first page's matches, got %+v", r)
		}
	}
	if len(m.Warnings) != 1 || !strings.Contains(m.Warnings[0], "stopped after 3") {
		t.Fatalf("warnings = %q", m.Warnings)
	}
}

func TestRunInvalidSpecIsAWarning(t *testing.T) {
	src := writePDF(t, "alpha beta")
	m, err := New(Options{}).Run(context.Background(), Job{
		Source:      src,
		Destination: filepath.Join(t.TempDir(), "out.pdf"),
		Specs:       []search.Spec{{Kind: search.Regex, Pattern: "("}, {Pattern: "beta"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if m.Specs[0].Error == "" || len(m.Warnings) == 0 || m.Applied() != 1 {
		t.Fatalf("manifest = %+v", m)
	}
}

func TestRunLeavesNoPartialOutput(t *testing.T) {
	src := writePDF(t, "Secret")
	original, _ := os.ReadFile(src)
	dst := filepath.Join(t.TempDir(), "out.pdf")
	if err := os.WriteFile(dst, original, 0o644); err != nil {
		t.Fatal(err)
	}
	bad := redact.DefaultStyle()
	bad.MaxFontSize = 1
	bad.MinFontSize = 2

	r := New(Options{})
	_, err := r.Run(context.Background(), Job{Source: src, Destination: dst, Specs: []search.Spec{{Pattern: "Secret"}}, Style: &bad})
	var ae *redact.ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ApplyError, got %v", err)
	}
	after, _ := os.ReadFile(dst)
	if !bytes.Equal(after, original) {
		t.Fatalf("destination changed after a failed run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, Job{Source: src, Destination: dst, Specs: []search.Spec{{Pattern: "Secret"}}}); err == nil {
		t.Fatalf("cancelled run succeeded")
	}
	after, _ = os.ReadFile(dst)
	if !bytes.Equal(after, original) {
		t.Fatalf("destination changed after a cancelled run")
	}

	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "out.pdf")
	_, err = r.Run(context.Background(), Job{Source: src, Destination: missing, Specs: []search.Spec{{Pattern: "Secret"}}})
	var se *document.SaveError
	if !errors.As(err, &se) || se.Path != missing {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("output exists after failed save")
	}
}

func TestRunErrors(t *testing.T) {
	r := New(Options{})
	if _, err := r.Run(context.Background(), Job{Source: writePDF(t, "x")}); !errors.Is(err, ErrNoSpecs) {
		t.Fatalf("expected ErrNoSpecs, got %v", err)
	}
	_, err := r.Run(context.Background(), Job{Source: filepath.Join(t.TempDir(), "absent.pdf"), Specs: []search.Spec{{Pattern: "x"}}})
	var oe *document.OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OpenError, got %v", err)
	}
}
