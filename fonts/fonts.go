// Package fonts decodes the strings of PDF show operators into glyphs with
// Unicode text and advance widths.
package fonts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfredact/ir/raw"
)

// StreamDecoder returns the decoded payload of a stream.
type StreamDecoder func(s *raw.StreamObj) ([]byte, error)

// Default vertical extent of glyphs when neither the font descriptor nor
// the font program says otherwise, in 1/1000 em.
const (
	DefaultAscent  = 800
	DefaultDescent = -200
)

// Glyph is one decoded character code.
type Glyph struct {
	Code []byte
	CID  int
	// Text is the Unicode text of the glyph; U+FFFD when unknown.
	Text string
	// Advance is the horizontal displacement for a font size of 1.
	Advance float64
	// Space marks the single-byte code 32, the only code word spacing
	// applies to.
	Space bool
}

// Font is a loaded font resource.
type Font struct {
	BaseFont string
	Subtype  string

	composite bool
	vertical  bool
	toUnicode *CMap
	codes     *CMap // composite fonts: code space and CID mapping
	identity  bool

	encoding  Encoding
	firstChar int
	widths    []float64
	missing   float64

	cidWidths map[int]float64
	dw        float64
	cidToGID  []uint16

	std      *standardMetrics
	prog     *Program
	scale    float64 // glyph space to text space
	ascent   float64
	descent  float64
	hasWidth bool
}

// Load builds a Font from a font dictionary.
func Load(r raw.Resolver, obj raw.Object, decode StreamDecoder) (*Font, error) {
	if r == nil {
		return nil, errors.New("fonts: nil resolver")
	}
	dict := raw.DictOf(r, obj)
	if dict == nil {
		return nil, errors.New("fonts: font is not a dictionary")
	}
	f := &Font{
		BaseFont: dict.Name(r, "BaseFont"),
		Subtype:  dict.Name(r, "Subtype"),
		scale:    0.001,
		ascent:   DefaultAscent,
		descent:  DefaultDescent,
	}
	if tu := raw.StreamOf(r, mustGet(dict, "ToUnicode")); tu != nil {
		if data, err := decode(tu); err == nil {
			f.toUnicode, _ = ParseCMap(data)
		}
	}
	var err error
	if f.Subtype == "Type0" {
		err = f.loadComposite(r, dict, decode)
	} else {
		err = f.loadSimple(r, dict, decode)
	}
	if err != nil {
		return nil, fmt.Errorf("font %s: %w", f.BaseFont, err)
	}
	return f, nil
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func (f *Font) loadSimple(r raw.Resolver, dict *raw.DictObj, decode StreamDecoder) error {
	if m, ok := lookupStandard(f.BaseFont); ok {
		f.std = &m
		f.ascent, f.descent = m.ascent, m.descent
	}
	fallback := latin1Encoding
	if f.Subtype == "Type1" || f.Subtype == "MMType1" {
		fallback = standardEncoding
		if base := stripSubset(f.BaseFont); base == "Symbol" || base == "ZapfDingbats" {
			fallback = latin1Encoding
		}
	}
	f.encoding, _ = simpleEncoding(r, dict, fallback)

	if f.Subtype == "Type3" {
		if fm := dict.Array(r, "FontMatrix").Floats(r); len(fm) == 6 && fm[0] != 0 {
			f.scale = fm[0]
		}
		if bbox := dict.Array(r, "FontBBox").Floats(r); len(bbox) == 4 && bbox[3] > bbox[1] {
			// express in 1/1000 em like the other font types
			f.ascent = bbox[3] * f.scale * 1000
			f.descent = bbox[1] * f.scale * 1000
		}
	}

	f.firstChar = int(dict.Int(r, "FirstChar", 0))
	if ws := dict.Array(r, "Widths"); ws != nil {
		f.widths = ws.Floats(r)
		f.hasWidth = true
	}
	if fd := dict.Dict(r, "FontDescriptor"); fd != nil {
		f.missing = fd.Number(r, "MissingWidth", 0)
		f.applyDescriptor(r, fd, decode)
	}
	return nil
}

func (f *Font) loadComposite(r raw.Resolver, dict *raw.DictObj, decode StreamDecoder) error {
	f.composite = true
	f.dw = 1000
	switch obj := r.Resolve(mustGet(dict, "Encoding")).(type) {
	case raw.NameObj:
		f.identity = obj.Val == "Identity-H" || obj.Val == "Identity-V"
		f.vertical = len(obj.Val) > 2 && obj.Val[len(obj.Val)-2:] == "-V"
	case *raw.StreamObj:
		if data, err := decode(obj); err == nil {
			f.codes, _ = ParseCMap(data)
		}
		f.vertical = obj.Dict.Int(r, "WMode", 0) == 1
	}
	if f.codes == nil || !f.codes.HasCodeSpace() {
		// predefined CMaps other than Identity are read as two-byte codes
		f.codes = &CMap{spaces: []codeSpace{{lo: []byte{0, 0}, hi: []byte{0xFF, 0xFF}}}}
		f.identity = true
	}

	descendants := dict.Array(r, "DescendantFonts")
	if descendants == nil || descendants.Len() == 0 {
		return errors.New("Type0 font without descendant")
	}
	cid := raw.DictOf(r, descendants.Items[0])
	if cid == nil {
		return errors.New("descendant font is not a dictionary")
	}
	f.dw = cid.Number(r, "DW", 1000)
	if w := cid.Array(r, "W"); w != nil {
		f.cidWidths = parseW(r, w)
		f.hasWidth = true
	}
	if m := raw.StreamOf(r, mustGet(cid, "CIDToGIDMap")); m != nil {
		if data, err := decode(m); err == nil {
			f.cidToGID = make([]uint16, len(data)/2)
			for i := range f.cidToGID {
				f.cidToGID[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
			}
		}
	}
	if fd := cid.Dict(r, "FontDescriptor"); fd != nil {
		f.applyDescriptor(r, fd, decode)
	}
	return nil
}

// parseW reads the /W array: "c [w1 w2 ...]" and "cfirst clast w" forms.
func parseW(r raw.Resolver, w *raw.ArrayObj) map[int]float64 {
	out := make(map[int]float64)
	items := w.Items
	for i := 0; i < len(items); {
		first, ok := raw.IntOf(r, items[i])
		if !ok || i+1 >= len(items) {
			break
		}
		if arr := raw.ArrayOf(r, items[i+1]); arr != nil {
			for j, v := range arr.Floats(r) {
				out[int(first)+j] = v
			}
			i += 2
			continue
		}
		if i+2 >= len(items) {
			break
		}
		last, _ := raw.IntOf(r, items[i+1])
		width, _ := raw.NumberOf(r, items[i+2])
		if last-first <= 0xFFFF {
			for c := first; c <= last; c++ {
				out[int(c)] = width
			}
		}
		i += 3
	}
	return out
}

func (f *Font) applyDescriptor(r raw.Resolver, fd *raw.DictObj, decode StreamDecoder) {
	for _, key := range []string{"FontFile2", "FontFile3"} {
		s := raw.StreamOf(r, mustGet(fd, key))
		if s == nil {
			continue
		}
		if key == "FontFile3" && s.Dict.Name(r, "Subtype") != "OpenType" {
			continue
		}
		data, err := decode(s)
		if err != nil {
			continue
		}
		if p, err := ParseProgram(data); err == nil {
			f.prog = p
			if a, d, ok := p.Extents(); ok && a > 0 {
				f.ascent, f.descent = a, d
			}
		}
		break
	}
	if a := fd.Number(r, "Ascent", 0); a > 0 {
		f.ascent = a
	}
	if d := fd.Number(r, "Descent", 0); d < 0 {
		f.descent = d
	}
}

// Composite reports whether the font is a Type0 font.
func (f *Font) Composite() bool { return f.composite }

// Vertical reports vertical writing mode. Vertical fonts are laid out as
// horizontal by the extractor.
func (f *Font) Vertical() bool { return f.vertical }

// Ascent and Descent are in text space units for a font size of 1.
func (f *Font) Ascent() float64  { return f.ascent / 1000 }
func (f *Font) Descent() float64 { return f.descent / 1000 }

// SpaceAdvance is the advance of the space character for a font size of 1,
// or 0.25 when the font has no space glyph.
func (f *Font) SpaceAdvance() float64 {
	if !f.composite {
		for code := 0; code < 256; code++ {
			if f.encoding[code] == ' ' {
				if w := f.simpleWidth(code); w > 0 {
					return w * f.scale
				}
				break
			}
		}
	}
	if f.std != nil {
		return f.std.width(' ') * f.scale
	}
	if f.prog != nil {
		if w, ok := f.prog.RuneAdvance(' '); ok && w > 0 {
			return w / 1000
		}
	}
	return 0.25
}

// Decode splits s into glyphs.
func (f *Font) Decode(s []byte) []Glyph {
	out := make([]Glyph, 0, len(s))
	for len(s) > 0 {
		var code []byte
		if f.composite {
			code, s = f.codes.NextCode(s)
		} else {
			code, s = s[:1], s[1:]
		}
		out = append(out, f.glyph(code))
	}
	return out
}

func (f *Font) glyph(code []byte) Glyph {
	g := Glyph{Code: code, CID: codeValue(code), Space: len(code) == 1 && code[0] == ' '}
	if f.composite {
		if !f.identity {
			if cid, ok := f.codes.CID(code); ok {
				g.CID = cid
			}
		}
		g.Advance = f.cidWidth(g.CID) / 1000
	} else {
		g.Advance = f.simpleWidth(int(code[0])) * f.scale
	}
	g.Text = f.text(code)
	return g
}

func (f *Font) text(code []byte) string {
	if s, ok := f.toUnicode.Unicode(code); ok && s != "" {
		return s
	}
	if !f.composite {
		if r := f.encoding[code[0]]; r != 0 {
			return string(r)
		}
		if code[0] >= 0x20 && code[0] < 0x7F {
			return string(rune(code[0]))
		}
	}
	return "�"
}

func (f *Font) simpleWidth(code int) float64 {
	if i := code - f.firstChar; f.hasWidth && i >= 0 && i < len(f.widths) {
		return f.widths[i]
	}
	if f.missing > 0 {
		return f.missing
	}
	r := f.encoding[code]
	if r == 0 {
		r = rune(code)
	}
	if f.std != nil {
		return f.std.width(r)
	}
	if f.prog != nil {
		if w, ok := f.prog.RuneAdvance(r); ok {
			return w
		}
	}
	return 500
}

func (f *Font) cidWidth(cid int) float64 {
	if w, ok := f.cidWidths[cid]; ok {
		return w
	}
	if !f.hasWidth && f.prog != nil {
		gid := uint32(cid)
		if f.cidToGID != nil {
			if cid >= len(f.cidToGID) {
				return f.dw
			}
			gid = uint32(f.cidToGID[cid])
		}
		return f.prog.Advance(gid)
	}
	return f.dw
}

// Cache shares loaded fonts between pages. It is safe for concurrent use.
type Cache struct {
	r      raw.Resolver
	decode StreamDecoder

	mu    sync.Mutex
	byRef map[raw.ObjectRef]*cacheEntry
}

type cacheEntry struct {
	font *Font
	err  error
}

func NewCache(r raw.Resolver, decode StreamDecoder) *Cache {
	return &Cache{r: r, decode: decode, byRef: make(map[raw.ObjectRef]*cacheEntry)}
}

// Font loads the font referenced by obj, once per indirect object.
func (c *Cache) Font(obj raw.Object) (*Font, error) {
	ref, ok := obj.(raw.RefObj)
	if !ok {
		return Load(c.r, obj, c.decode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byRef[ref.R]; ok {
		return e.font, e.err
	}
	f, err := Load(c.r, obj, c.decode)
	c.byRef[ref.R] = &cacheEntry{font: f, err: err}
	return f, err
}
