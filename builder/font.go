package builder

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wudi/pdfredact/ir/raw"
)

// type0Font embeds f as an Identity-H composite font whose CIDs are glyph
// ids, with widths and a ToUnicode map for the glyphs the pages used.
func (b *builderImpl) type0Font(f *fontResource) *raw.DictObj {
	doc := b.doc
	ascent, descent, ok := f.prog.Extents()
	if !ok {
		ascent, descent = 800, -200
	}

	file := raw.Dict()
	file.Set("Length1", raw.Int(int64(len(f.data))))
	desc := raw.Dict()
	desc.Set("Type", raw.Name("FontDescriptor"))
	desc.Set("FontName", raw.Name(f.baseFont))
	desc.Set("Flags", raw.Int(32))
	desc.Set("FontBBox", raw.Numbers(0, descent, 1000, ascent))
	desc.Set("ItalicAngle", raw.Int(0))
	desc.Set("Ascent", raw.Float(ascent))
	desc.Set("Descent", raw.Float(descent))
	desc.Set("CapHeight", raw.Float(ascent))
	desc.Set("StemV", raw.Int(80))
	desc.Set("FontFile2", doc.Add(raw.NewStream(file, f.data)))

	gids := make([]uint32, 0, len(f.used))
	for gid := range f.used {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	widths := raw.NewArray()
	for _, gid := range gids {
		widths.Append(raw.Int(int64(gid)), raw.Numbers(f.prog.Advance(gid)))
	}

	info := raw.Dict()
	info.Set("Registry", raw.Str([]byte("Adobe")))
	info.Set("Ordering", raw.Str([]byte("Identity")))
	info.Set("Supplement", raw.Int(0))
	cid := raw.Dict()
	cid.Set("Type", raw.Name("Font"))
	cid.Set("Subtype", raw.Name("CIDFontType2"))
	cid.Set("BaseFont", raw.Name(f.baseFont))
	cid.Set("CIDSystemInfo", info)
	cid.Set("FontDescriptor", doc.Add(desc))
	cid.Set("DW", raw.Int(1000))
	cid.Set("W", widths)
	cid.Set("CIDToGIDMap", raw.Name("Identity"))

	font := raw.Dict()
	font.Set("Type", raw.Name("Font"))
	font.Set("Subtype", raw.Name("Type0"))
	font.Set("BaseFont", raw.Name(f.baseFont))
	font.Set("Encoding", raw.Name("Identity-H"))
	font.Set("DescendantFonts", raw.NewArray(doc.Add(cid)))
	font.Set("ToUnicode", doc.Add(raw.NewStream(raw.Dict(), toUnicode(gids, f.used))))
	return font
}

func toUnicode(gids []uint32, used map[uint32]rune) []byte {
	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	buf.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	// bfchar blocks hold at most 100 entries
	for len(gids) > 0 {
		n := min(len(gids), 100)
		fmt.Fprintf(&buf, "%d beginbfchar\n", n)
		for _, gid := range gids[:n] {
			fmt.Fprintf(&buf, "<%04X> <%s>\n", gid, utf16Hex(used[gid]))
		}
		buf.WriteString("endbfchar\n")
		gids = gids[n:]
	}
	buf.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend\n")
	return buf.Bytes()
}

func utf16Hex(r rune) string {
	if r < 0x10000 {
		return fmt.Sprintf("%04X", r)
	}
	r -= 0x10000
	return fmt.Sprintf("%04X%04X", 0xD800+(r>>10), 0xDC00+(r&0x3FF))
}
