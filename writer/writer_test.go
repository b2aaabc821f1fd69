package writer_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/writer"
)

// buildDoc creates a document with n pages sharing one font.
func buildDoc(n int) *raw.Document {
	doc := raw.NewDocument()
	font := raw.Dict()
	font.Set("Type", raw.Name("Font"))
	font.Set("Subtype", raw.Name("Type1"))
	font.Set("BaseFont", raw.Name("Helvetica"))
	fontRef := doc.Add(font)

	pages := raw.Dict()
	pages.Set("Type", raw.Name("Pages"))
	pagesRef := doc.Add(pages)
	kids := raw.NewArray()
	for i := 0; i < n; i++ {
		content := raw.NewStream(raw.Dict(), []byte(fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)))
		contentRef := doc.Add(content)
		res := raw.Dict()
		fonts := raw.Dict()
		fonts.Set("F1", fontRef)
		res.Set("Font", fonts)
		page := raw.Dict()
		page.Set("Type", raw.Name("Page"))
		page.Set("Parent", pagesRef)
		page.Set("MediaBox", raw.Numbers(0, 0, 612, 792))
		page.Set("Resources", res)
		page.Set("Contents", contentRef)
		kids.Append(doc.Add(page))
	}
	pages.Set("Kids", kids)
	pages.Set("Count", raw.Int(int64(n)))

	catalog := raw.Dict()
	catalog.Set("Type", raw.Name("Catalog"))
	catalog.Set("Pages", pagesRef)
	doc.Trailer.Set("Root", doc.Add(catalog))

	// unreachable objects are dropped on save
	doc.Add(raw.Str([]byte("orphan")))
	return doc
}

func roundTrip(t *testing.T, doc *raw.Document, cfg writer.Config) ([]byte, *raw.Document) {
	t.Helper()
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	parsed, err := parser.NewDocumentParser(parser.Config{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parse written file: %v", err)
	}
	return buf.Bytes(), parsed
}

func pageContents(t *testing.T, doc *raw.Document) []string {
	t.Helper()
	cat := raw.DictOf(doc, mustGet(doc.Trailer, "Root"))
	pages := cat.Dict(doc, "Pages")
	var out []string
	for _, kid := range pages.Array(doc, "Kids").Items {
		page := raw.DictOf(doc, kid)
		stm := raw.StreamOf(doc, mustGet(page, "Contents"))
		data, err := filters.Standard(filters.Limits{}).DecodeStream(context.Background(), doc, stm)
		if err != nil {
			t.Fatalf("decode contents: %v", err)
		}
		out = append(out, string(data))
	}
	return out
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func TestWriteClassicRoundTrip(t *testing.T) {
	data, parsed := roundTrip(t, buildDoc(2), writer.Config{})
	if !bytes.HasPrefix(data, []byte("%PDF-1.7\n")) {
		t.Fatalf("unexpected header %q", data[:12])
	}
	if len(parsed.Objects) != 7 {
		t.Fatalf("expected 7 reachable objects, got %d", len(parsed.Objects))
	}
	got := pageContents(t, parsed)
	if len(got) != 2 || got[1] != "BT /F1 12 Tf 72 720 Td (Page 2) Tj ET" {
		t.Fatalf("contents = %q", got)
	}
	if ids := parsed.Trailer.Array(nil, "ID"); ids == nil || ids.Len() != 2 {
		t.Fatalf("trailer /ID missing")
	}
}

func TestWriteCompressed(t *testing.T) {
	doc := buildDoc(1)
	big := bytes.Repeat([]byte("0 0 m 10 10 l S\n"), 200)
	for _, obj := range doc.Objects {
		if s, ok := obj.(*raw.StreamObj); ok {
			s.Data = big
		}
	}
	data, parsed := roundTrip(t, doc, writer.Config{Compress: true})
	if bytes.Contains(data, big[:64]) {
		t.Fatalf("content stream was not compressed")
	}
	if got := pageContents(t, parsed); got[0] != string(big) {
		t.Fatalf("compressed content did not round trip")
	}
}

func TestWriteLinearized(t *testing.T) {
	data, parsed := roundTrip(t, buildDoc(3), writer.Config{Linearize: true})

	lin, ok := parsed.Objects[raw.ObjectRef{Num: 1}].(*raw.DictObj)
	if !ok {
		t.Fatalf("object 1 should be the linearization dictionary, got %T", parsed.Objects[raw.ObjectRef{Num: 1}])
	}
	if lin.Int(nil, "Linearized", 0) != 1 || lin.Int(nil, "N", 0) != 3 {
		t.Fatalf("bad linearization dict: %v", lin.KV)
	}
	if lin.Int(nil, "L", 0) != int64(len(data)) {
		t.Fatalf("/L = %d, file is %d bytes", lin.Int(nil, "L", 0), len(data))
	}
	hintNum := -1
	for ref, obj := range parsed.Objects {
		if s, ok := obj.(*raw.StreamObj); ok {
			if _, has := s.Dict.Get("S"); has {
				hintNum = ref.Num
			}
		}
	}
	h := lin.Array(nil, "H").Floats(nil)
	if hintNum < 0 || len(h) != 2 || !bytes.HasPrefix(data[int(h[0]):], []byte(fmt.Sprintf("%d 0 obj", hintNum))) {
		t.Fatalf("/H does not point at the hint stream")
	}
	if end := lin.Int(nil, "E", 0); end != int64(h[0]) {
		t.Fatalf("/E = %d, hint stream starts at %v", end, h[0])
	}
	firstPage := raw.DictOf(parsed, raw.Ref(int(lin.Int(nil, "O", 0)), 0))
	if firstPage == nil || firstPage.Name(nil, "Type") != "Page" {
		t.Fatalf("/O is not a page")
	}
	mainXRef := lin.Int(nil, "T", 0)
	if !bytes.HasPrefix(data[mainXRef:], []byte("xref")) {
		t.Fatalf("/T does not point at the main xref")
	}
	got := pageContents(t, parsed)
	if len(got) != 3 || got[2] != "BT /F1 12 Tf 72 720 Td (Page 3) Tj ET" {
		t.Fatalf("contents = %q", got)
	}
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{
		0:         "0",
		12:        "12",
		-3.5:      "-3.5",
		0.1 + 0.2: "0.3",
		1e-9:      "0",
		612.00001: "612.00001",
	}
	for in, want := range cases {
		if got := writer.FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestAppendObjectEscapes(t *testing.T) {
	d := raw.Dict()
	d.Set("A B", raw.Str([]byte("(x)\\\n")))
	d.Set("Hex", raw.StringObj{Bytes: []byte{0xde, 0xad}, Hex: true})
	got := string(writer.AppendObject(nil, d))
	want := `<</A#20B (\(x\)\\\n)/Hex <DEAD>>>`
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestWriteDeduplicates(t *testing.T) {
	doc := buildDoc(3)
	// every page gets its own copy of the same font
	for _, obj := range doc.Objects {
		page, ok := obj.(*raw.DictObj)
		if !ok || page.Name(nil, "Type") != "Page" {
			continue
		}
		font := raw.Dict()
		font.Set("Type", raw.Name("Font"))
		font.Set("Subtype", raw.Name("Type1"))
		font.Set("BaseFont", raw.Name("Courier"))
		fonts := page.Dict(nil, "Resources").Dict(nil, "Font")
		fonts.Set("F2", doc.Add(font))
	}
	before := len(doc.Objects)
	_, plain := roundTrip(t, doc, writer.Config{})
	_, merged := roundTrip(t, doc, writer.Config{Deduplicate: true})
	if len(merged.Objects) != len(plain.Objects)-2 {
		t.Fatalf("deduplicated file has %d objects, plain %d", len(merged.Objects), len(plain.Objects))
	}
	if len(doc.Objects) != before {
		t.Fatalf("Write modified the document")
	}
	if got := pageContents(t, merged); len(got) != 3 || got[1] != "BT /F1 12 Tf 72 720 Td (Page 2) Tj ET" {
		t.Fatalf("contents = %q", got)
	}
}
