package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/recovery"
	"github.com/wudi/pdfredact/scanner"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInFile
	EntryCompressed
)

// Entry locates one object: at Offset in the file, or at Index inside the
// object stream numbered Stream.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged cross-reference information of a file.
type Table struct {
	entries  map[int]Entry
	trailer  *raw.DictObj
	repaired bool
	sections int
}

func newTable() *Table { return &Table{entries: make(map[int]Entry)} }

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Repaired reports whether the table was rebuilt by scanning the file.
func (t *Table) Repaired() bool { return t.repaired }

// Sections is the number of xref sections followed through /Prev.
func (t *Table) Sections() int { return t.sections }

// addOlder records e unless a newer section already defined objNum.
func (t *Table) addOlder(objNum int, e Entry) {
	if _, ok := t.entries[objNum]; !ok {
		t.entries[objNum] = e
	}
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Filters      *filters.Pipeline
}

// Resolver locates and parses xref information in a PDF.
type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Standard(filters.Limits{})
	}
	return &Resolver{cfg: cfg}
}

var ErrNoStartXRef = errors.New("startxref not found")

// Resolve reads the xref chain ending at the last startxref. When it is
// unusable the recovery strategy may ask for a repair scan instead.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		if _, ok := t.trailer.Get("Root"); ok {
			return t, nil
		}
		err = errors.New("trailer has no /Root")
	}
	action := recovery.ActionFix
	if r.cfg.Recovery != nil {
		action = r.cfg.Recovery.OnError(ctx, err, recovery.Location{Component: recovery.ComponentXRef})
	}
	if action != recovery.ActionFix {
		return nil, err
	}
	repaired, rerr := Repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%v; %w", err, rerr)
	}
	return repaired, nil
}

func (r *Resolver) resolveChain(ctx context.Context, data []byte) (*Table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := newTable()
	visited := make(map[int64]bool)
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("xref chain deeper than %d", r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			break
		}
		visited[offset] = true
		trailer, err := r.readSection(ctx, data, offset, t)
		if err != nil {
			return nil, err
		}
		t.sections++
		if t.trailer == nil {
			t.trailer = trailer
		} else {
			for k, v := range trailer.KV {
				if _, ok := t.trailer.Get(k); !ok && k != "Prev" && k != "XRefStm" {
					t.trailer.Set(k, v)
				}
			}
		}
		offset = -1
		if prev, ok := raw.IntOf(nil, mustGet(trailer, "Prev")); ok {
			offset = prev
		}
	}
	return t, nil
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	s := scanner.New(data, scanner.Config{})
	_ = s.Seek(int64(idx + len("startxref")))
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, errors.New("parse startxref: missing offset")
	}
	if tok.Int <= 0 || tok.Int >= int64(len(data)) {
		return 0, fmt.Errorf("xref offset out of range: %d", tok.Int)
	}
	return tok.Int, nil
}

func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64, t *Table) (*raw.DictObj, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("xref offset out of range: %d", offset)
	}
	s := scanner.New(data, scanner.Config{})
	_ = s.Seek(offset)
	tok, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("read xref at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		trailer, err := readClassic(s, t)
		if err != nil {
			return nil, err
		}
		// hybrid files carry an xref stream next to the classic table
		if stm, ok := raw.IntOf(nil, mustGet(trailer, "XRefStm")); ok {
			if _, err := r.readStream(ctx, data, stm, t); err != nil {
				return nil, fmt.Errorf("xref stream %d: %w", stm, err)
			}
		}
		return trailer, nil
	}
	if tok.Type == scanner.TokenNumber {
		return r.readStream(ctx, data, offset, t)
	}
	return nil, fmt.Errorf("xref keyword not found at offset %d", offset)
}

func readClassic(s *scanner.Scanner, t *Table) (*raw.DictObj, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, errors.New("unexpected end of xref section")
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := s.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("parse trailer: %w", err)
			}
			d, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return d, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("invalid xref subsection header %q", tok.Str)
		}
		countTok, err := s.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, errors.New("invalid xref subsection count")
		}
		start := int(tok.Int)
		for i := 0; i < int(countTok.Int); i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			kindTok, err3 := s.Next()
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, errors.New("unexpected end of xref section")
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber {
				return nil, fmt.Errorf("invalid xref entry for object %d", start+i)
			}
			e := Entry{Kind: EntryFree, Gen: int(genTok.Int)}
			if kindTok.Str == "n" {
				e.Kind = EntryInFile
				e.Offset = offTok.Int
			}
			t.addOlder(start+i, e)
		}
	}
}

func (r *Resolver) readStream(ctx context.Context, data []byte, offset int64, t *Table) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{})
	_ = s.Seek(offset)
	for i := 0; i < 3; i++ { // "N G obj"
		if _, err := s.Next(); err != nil {
			return nil, err
		}
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok || dict.Name(nil, "Type") != "XRef" {
		return nil, errors.New("object is not an xref stream")
	}
	if tok, err := s.Next(); err != nil || tok.Str != "stream" {
		return nil, errors.New("xref stream has no data")
	}
	payload := s.ReadStream(dict.Int(nil, "Length", -1))
	decoded, err := r.cfg.Filters.DecodeStream(ctx, nil, raw.NewStream(dict, payload))
	if err != nil {
		return nil, err
	}

	w := dict.Array(nil, "W").Floats(nil)
	if len(w) != 3 {
		return nil, errors.New("xref stream /W must have 3 entries")
	}
	widths := [3]int{int(w[0]), int(w[1]), int(w[2])}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen <= 0 {
		return nil, errors.New("xref stream row width is zero")
	}
	index := dict.Array(nil, "Index").Floats(nil)
	if len(index) == 0 {
		index = []float64{0, float64(dict.Int(nil, "Size", 0))}
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for k := 0; k < count; k++ {
			if pos+rowLen > len(decoded) {
				return dict, nil
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if widths[0] > 0 {
				typ = readField(row[:widths[0]])
			}
			f2 := readField(row[widths[0] : widths[0]+widths[1]])
			f3 := readField(row[widths[0]+widths[1]:])
			var e Entry
			switch typ {
			case 0:
				e = Entry{Kind: EntryFree}
			case 1:
				e = Entry{Kind: EntryInFile, Offset: f2, Gen: int(f3)}
			case 2:
				e = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			default:
				continue
			}
			t.addOlder(start+k, e)
		}
	}
	return dict, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// FormatOffset renders a 20-byte classic xref entry line.
func FormatOffset(offset int64, gen int, inUse bool) string {
	kind := "n"
	if !inUse {
		kind = "f"
	}
	return fmt.Sprintf("%010d %05d %s \n", offset, gen, kind)
}
