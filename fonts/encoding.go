package fonts

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfredact/ir/raw"
)

// Encoding maps single-byte codes of a simple font to Unicode.
type Encoding [256]rune

// standardEncoding is the Adobe StandardEncoding, the implicit encoding of
// Type 1 fonts.
var standardEncoding = Encoding{
	0x20: ' ', '!', '"', '#', '$', '%', '&', '’', '(', ')', '*', '+', ',', '-', '.', '/',
	'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', ':', ';', '<', '=', '>', '?',
	'@', 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O',
	'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z', '[', '\\', ']', '^', '_',
	'‘', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o',
	'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z', '{', '|', '}', '~',
	0xA1: '¡', '¢', '£', '⁄', '¥', 'ƒ', '§', '¤', '\'', '“', '«', '‹', '›', 'ﬁ', 'ﬂ',
	0xB1: '–', '†', '‡', '·',
	0xB6: '¶', '•', '‚', '„', '”', '»', '…', '‰',
	0xBF: '¿',
	0xC1: '`', '´', 'ˆ', '˜', '¯', '˘', '˙', '¨',
	0xCA: '˚', '¸',
	0xCD: '˝', '˛', 'ˇ', '—',
	0xE1: 'Æ',
	0xE3: 'ª',
	0xE8: 'Ł', 'Ø', 'Œ', 'º',
	0xF1: 'æ',
	0xF5: 'ı',
	0xF8: 'ł', 'ø', 'œ', 'ß',
}

func fromCharmap(cm *charmap.Charmap) Encoding {
	var e Encoding
	for i := 0; i < 256; i++ {
		r := cm.DecodeByte(byte(i))
		if r == utf8.RuneError {
			r = 0
		}
		e[i] = r
	}
	return e
}

var (
	winAnsiEncoding  = fromCharmap(charmap.Windows1252)
	macRomanEncoding = fromCharmap(charmap.Macintosh)
	latin1Encoding   = fromCharmap(charmap.ISO8859_1)
)

// BaseEncoding returns the named predefined encoding.
func BaseEncoding(name string) (Encoding, bool) {
	switch name {
	case "WinAnsiEncoding":
		return winAnsiEncoding, true
	case "MacRomanEncoding":
		return macRomanEncoding, true
	case "StandardEncoding":
		return standardEncoding, true
	}
	return Encoding{}, false
}

// simpleEncoding resolves /Encoding of a simple font: a base encoding name
// or a dictionary with /BaseEncoding and /Differences. The second result
// lists the glyph name of each code overridden by /Differences.
func simpleEncoding(r raw.Resolver, font *raw.DictObj, fallback Encoding) (Encoding, map[byte]string) {
	enc := fallback
	obj, ok := font.Get("Encoding")
	if !ok {
		return enc, nil
	}
	if name, ok := raw.NameOf(r, obj); ok {
		if base, ok := BaseEncoding(name); ok {
			enc = base
		}
		return enc, nil
	}
	dict := raw.DictOf(r, obj)
	if dict == nil {
		return enc, nil
	}
	if base, ok := BaseEncoding(dict.Name(r, "BaseEncoding")); ok {
		enc = base
	}
	diffs := dict.Array(r, "Differences")
	if diffs == nil {
		return enc, nil
	}
	names := make(map[byte]string)
	code := 0
	for _, item := range diffs.Items {
		switch v := r.Resolve(item).(type) {
		case raw.NumberObj:
			code = int(v.Int())
		case raw.NameObj:
			if code >= 0 && code < 256 {
				names[byte(code)] = v.Val
				if ru, ok := GlyphRune(v.Val); ok {
					enc[code] = ru
				} else {
					enc[code] = 0
				}
			}
			code++
		}
	}
	return enc, names
}
