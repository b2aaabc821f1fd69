package xref_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/recovery"
	"github.com/wudi/pdfredact/xref"
)

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString(xref.FormatOffset(0, 65535, false))
	for i := 1; i <= 2; i++ {
		buf.WriteString(xref.FormatOffset(offsets[i], 0, true))
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")

	return buf.Bytes(), offsets
}

func TestResolverParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), pdf)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Repaired() {
		t.Fatalf("a valid table should not need repair")
	}
	for num, off := range offsets {
		e, ok := table.Lookup(num)
		if !ok || e.Kind != xref.EntryInFile || e.Offset != off {
			t.Fatalf("object %d: got %+v, want offset %d", num, e, off)
		}
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("free entry 0 must not resolve")
	}
	if got := table.Objects(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Objects() = %v", got)
	}
}

func TestFormatOffsetIsTwentyBytes(t *testing.T) {
	if got := xref.FormatOffset(1234, 0, true); len(got) != 20 {
		t.Fatalf("entry %q has %d bytes", got, len(got))
	}
}

func TestResolverFollowsPrev(t *testing.T) {
	base, _ := buildSimplePDF()
	buf := bytes.NewBuffer(append([]byte(nil), base...))
	prevXRef := bytes.LastIndex(base, []byte("xref\n0 3"))

	off := int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 /Updated true >>\nendobj\n")
	xrefOffset := buf.Len()
	buf.WriteString("xref\n2 1\n")
	buf.WriteString(xref.FormatOffset(off, 0, true))
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size 3 /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", prevXRef, xrefOffset))

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Sections() != 2 {
		t.Fatalf("expected 2 sections, got %d", table.Sections())
	}
	if e, _ := table.Lookup(2); e.Offset != off {
		t.Fatalf("newest definition must win: got %d want %d", e.Offset, off)
	}
	if _, ok := table.Trailer().Get("Root"); !ok {
		t.Fatalf("Root should be inherited from the older trailer")
	}
}

func TestResolverXRefStream(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xrefOff := buf.Len()

	rows := []byte{
		0, 0, 0, 0xff,
		1, 0, byte(off1), 0,
		1, 0, byte(off2), 0,
		2, 0, 9, 4, // object 3 lives in object stream 9 at index 4
		1, byte(xrefOff >> 8), byte(xrefOff), 0,
	}
	enc, _ := filters.EncodeFlate(rows)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 5 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", len(enc))
	buf.Write(enc)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e, _ := table.Lookup(2); e.Kind != xref.EntryInFile || e.Offset != int64(off2) {
		t.Fatalf("object 2 = %+v", e)
	}
	if e, _ := table.Lookup(3); e.Kind != xref.EntryCompressed || e.Stream != 9 || e.Index != 4 {
		t.Fatalf("object 3 = %+v", e)
	}
}

func TestResolverRepairsBrokenOffset(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	broken := bytes.Replace(pdf, []byte("startxref\n"), []byte("startxref\n9"), 1)

	strict := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewStrictStrategy()})
	if _, err := strict.Resolve(context.Background(), broken); err == nil {
		t.Fatalf("strict strategy should refuse a broken xref")
	}

	rec := recovery.NewLenientStrategy(nil)
	table, err := xref.NewResolver(xref.ResolverConfig{Recovery: rec}).Resolve(context.Background(), broken)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	if !table.Repaired() || len(rec.Errors()) != 1 {
		t.Fatalf("expected a repaired table and one recorded error, got repaired=%v errors=%v", table.Repaired(), rec.Errors())
	}
	for num, off := range offsets {
		if e, ok := table.Lookup(num); !ok || e.Offset != off {
			t.Fatalf("object %d: got %+v want offset %d", num, e, off)
		}
	}
	if _, ok := table.Trailer().Get("Root"); !ok {
		t.Fatalf("repaired trailer lost /Root")
	}
}
