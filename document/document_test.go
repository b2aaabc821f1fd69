package document

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/parser"
)

// treeDoc builds a two-level page tree where the intermediate node carries
// the inherited attributes.
func treeDoc() *raw.Document {
	doc := raw.NewDocument()
	font := raw.Dict()
	font.Set("Type", raw.Name("Font"))
	font.Set("Subtype", raw.Name("Type1"))
	font.Set("BaseFont", raw.Name("Helvetica"))
	fonts := raw.Dict()
	fonts.Set("F1", doc.Add(font))
	res := raw.Dict()
	res.Set("Font", fonts)

	root := raw.Dict()
	root.Set("Type", raw.Name("Pages"))
	rootRef := doc.Add(root)
	mid := raw.Dict()
	mid.Set("Type", raw.Name("Pages"))
	mid.Set("Parent", rootRef)
	mid.Set("Resources", res)
	mid.Set("MediaBox", raw.Numbers(0, 0, 400, 500))
	mid.Set("Rotate", raw.Int(-90))
	midRef := doc.Add(mid)

	midKids := raw.NewArray()
	for i, body := range []string{"BT /F1 10 Tf (one) Tj ET", "BT /F1 10 Tf (two) Tj ET"} {
		page := raw.Dict()
		page.Set("Type", raw.Name("Page"))
		page.Set("Parent", midRef)
		if i == 1 {
			page.Set("CropBox", raw.Numbers(10, 10, 900, 200))
			first := doc.Add(raw.NewStream(raw.Dict(), []byte("BT /F1 10 Tf")))
			second := doc.Add(raw.NewStream(raw.Dict(), []byte("(two) Tj ET")))
			page.Set("Contents", raw.NewArray(first, second))
		} else {
			page.Set("Contents", doc.Add(raw.NewStream(raw.Dict(), []byte(body))))
		}
		midKids.Append(doc.Add(page))
	}
	mid.Set("Kids", midKids)
	mid.Set("Count", raw.Int(2))

	last := raw.Dict()
	last.Set("Type", raw.Name("Page"))
	last.Set("Parent", rootRef)
	last.Set("Contents", doc.Add(raw.NewStream(raw.Dict(), nil)))
	root.Set("Kids", raw.NewArray(midRef, doc.Add(last)))
	root.Set("Count", raw.Int(3))

	cat := raw.Dict()
	cat.Set("Type", raw.Name("Catalog"))
	cat.Set("Pages", rootRef)
	doc.Trailer.Set("Root", doc.Add(cat))
	return doc
}

func saveTree(t *testing.T, opts SaveOptions) string {
	t.Helper()
	d, err := FromRaw(treeDoc(), Options{})
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tree.pdf")
	if err := d.Save(context.Background(), path, opts); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestOpenInheritsPageAttributes(t *testing.T) {
	for _, opts := range []SaveOptions{{}, {Compress: true}, {Linearize: true}} {
		path := saveTree(t, opts)
		d, err := Open(context.Background(), path, Options{})
		if err != nil {
			t.Fatalf("Open(%+v): %v", opts, err)
		}
		if d.PageCount() != 3 {
			t.Fatalf("PageCount = %d", d.PageCount())
		}
		p0, err := d.Page(0)
		if err != nil {
			t.Fatalf("Page(0): %v", err)
		}
		if p0.MediaBox != (coords.Rect{X2: 400, Y2: 500}) || p0.Rotate != 270 {
			t.Fatalf("page 0 box=%v rotate=%d", p0.MediaBox, p0.Rotate)
		}
		if p0.Resources == nil || p0.Resources.Dict(p0, "Font").Len() != 1 {
			t.Fatalf("page 0 did not inherit resources")
		}
		p1, _ := d.Page(1)
		if p1.CropBox != (coords.Rect{X1: 10, Y1: 10, X2: 400, Y2: 200}) {
			t.Fatalf("crop box should be clipped to the media box, got %v", p1.CropBox)
		}
		content, err := p1.Contents(context.Background())
		if err != nil || string(content) != "BT /F1 10 Tf\n(two) Tj ET" {
			t.Fatalf("joined contents %q, %v", content, err)
		}
		p2, _ := d.Page(2)
		if p2.MediaBox != defaultMediaBox || p2.Resources != nil {
			t.Fatalf("page 2 should use defaults, got %v %v", p2.MediaBox, p2.Resources)
		}
		if _, err := d.Page(3); err == nil {
			t.Fatalf("expected out of range error")
		}
		d.Close()
		if _, err := d.Page(0); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(context.Background(), filepath.Join(dir, "missing.pdf"), Options{})
	var oe *OpenError
	if !errors.As(err, &oe) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}

	junk := filepath.Join(dir, "junk.pdf")
	os.WriteFile(junk, []byte("not a pdf at all"), 0o644)
	if _, err := Open(context.Background(), junk, Options{}); !errors.As(err, &oe) || oe.Path != junk {
		t.Fatalf("junk file: %v", err)
	}

	d, _ := FromRaw(treeDoc(), Options{})
	enc := filepath.Join(dir, "enc.pdf")
	data, err := d.Bytes(context.Background(), SaveOptions{})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	os.WriteFile(enc, injectEncrypt(data), 0o644)
	if _, err := Open(context.Background(), enc, Options{}); !errors.Is(err, parser.ErrEncrypted) {
		t.Fatalf("encrypted: %v", err)
	}
}

// injectEncrypt adds an /Encrypt entry to the trailer of a written file.
func injectEncrypt(data []byte) []byte {
	i := bytes.LastIndex(data, []byte("trailer\n<<"))
	if i < 0 {
		return data
	}
	i += len("trailer\n<<")
	out := append([]byte(nil), data[:i]...)
	out = append(out, "/Encrypt <</Filter /Standard>> "...)
	return append(out, data[i:]...)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.pdf")
	original := []byte("original contents")
	os.WriteFile(dest, original, 0o644)

	d, _ := FromRaw(treeDoc(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Save(ctx, dest, SaveOptions{})
	var se *SaveError
	if !errors.As(err, &se) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != string(original) {
		t.Fatalf("destination modified on failed save")
	}

	missingDir := filepath.Join(dir, "nope", "out.pdf")
	if err := d.Save(context.Background(), missingDir, SaveOptions{}); !errors.As(err, &se) {
		t.Fatalf("expected SaveError for missing directory, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d, _ := FromRaw(treeDoc(), Options{})
	staged, err := d.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	sp, _ := staged.Page(0)
	sp.SetContents([]byte("0 0 1 1 re f"))
	res := sp.OwnResources()
	res.Set("Marker", raw.Bool(true))

	op, _ := d.Page(0)
	content, _ := op.Contents(context.Background())
	if string(content) != "BT /F1 10 Tf (one) Tj ET" {
		t.Fatalf("original changed: %q", content)
	}
	if _, ok := op.Resources.Get("Marker"); ok {
		t.Fatalf("inherited resources were edited in place")
	}
	if err := d.Commit(staged); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	op, _ = d.Page(0)
	content, _ = op.Contents(context.Background())
	if string(content) != "0 0 1 1 re f" {
		t.Fatalf("commit not visible: %q", content)
	}
	// the sibling page still sees the shared, unedited resources
	sib, _ := d.Page(1)
	if _, ok := sib.Resources.Get("Marker"); ok {
		t.Fatalf("sibling page sees page-local resource edit")
	}
}
