package fonts

import (
	"errors"
	"io"
	"sort"
	"unicode/utf16"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
)

// CMap holds the parts of a CMap program needed for text extraction: the
// code space (how many bytes make up a code), code-to-Unicode mappings from
// bfchar/bfrange and code-to-CID mappings from cidchar/cidrange.
type CMap struct {
	spaces  []codeSpace
	unicode map[string]string
	cids    []cidRange
}

type codeSpace struct {
	lo, hi []byte
}

type cidRange struct {
	lo, hi []byte
	cid    int
}

// ParseCMap reads a ToUnicode or encoding CMap. Unknown operators are
// ignored so that vendor extensions do not break extraction.
func ParseCMap(data []byte) (*CMap, error) {
	cm := &CMap{unicode: make(map[string]string)}
	sc := scanner.New(data, scanner.Config{})
	var operands []raw.Object
	for {
		tok, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cm, err
		}
		if tok.Type != scanner.TokenKeyword {
			obj, err := sc.ObjectFrom(tok)
			if err != nil {
				return cm, err
			}
			operands = append(operands, obj)
			continue
		}
		switch tok.Str {
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				lo, _ := raw.StringOf(nil, operands[i])
				hi, _ := raw.StringOf(nil, operands[i+1])
				if len(lo) > 0 && len(lo) == len(hi) {
					cm.spaces = append(cm.spaces, codeSpace{lo: lo, hi: hi})
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, _ := raw.StringOf(nil, operands[i])
				cm.unicode[string(src)] = unicodeOf(operands[i+1])
			}
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				cm.addBFRange(operands[i], operands[i+1], operands[i+2])
			}
		case "endcidchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, _ := raw.StringOf(nil, operands[i])
				cid, _ := raw.IntOf(nil, operands[i+1])
				cm.cids = append(cm.cids, cidRange{lo: src, hi: src, cid: int(cid)})
			}
		case "endcidrange":
			for i := 0; i+2 < len(operands); i += 3 {
				lo, _ := raw.StringOf(nil, operands[i])
				hi, _ := raw.StringOf(nil, operands[i+1])
				cid, _ := raw.IntOf(nil, operands[i+2])
				cm.cids = append(cm.cids, cidRange{lo: lo, hi: hi, cid: int(cid)})
			}
		}
		operands = operands[:0]
	}
	sort.Slice(cm.spaces, func(i, j int) bool { return len(cm.spaces[i].lo) < len(cm.spaces[j].lo) })
	return cm, nil
}

func (cm *CMap) addBFRange(loObj, hiObj, dst raw.Object) {
	lo, _ := raw.StringOf(nil, loObj)
	hi, _ := raw.StringOf(nil, hiObj)
	if len(lo) == 0 || len(lo) != len(hi) {
		return
	}
	start, end := codeValue(lo), codeValue(hi)
	if end < start || end-start > 0xFFFF {
		return
	}
	if arr, ok := dst.(*raw.ArrayObj); ok {
		for i, item := range arr.Items {
			if start+i > end {
				break
			}
			cm.unicode[string(codeBytes(start+i, len(lo)))] = unicodeOf(item)
		}
		return
	}
	base, _ := raw.StringOf(nil, dst)
	if len(base) == 0 {
		return
	}
	for i := 0; i <= end-start; i++ {
		// the last byte of the destination is incremented
		next := append([]byte(nil), base...)
		next[len(next)-1] += byte(i)
		if i > 0xFF-int(base[len(base)-1]) {
			v := codeValue(base) + i
			next = codeBytes(v, len(base))
		}
		cm.unicode[string(codeBytes(start+i, len(lo)))] = decodeUTF16(next)
	}
}

// NextCode splits the first code off s according to the code space ranges.
// Without code space ranges codes are one byte long.
func (cm *CMap) NextCode(s []byte) (code []byte, rest []byte) {
	if cm == nil || len(cm.spaces) == 0 {
		return s[:1], s[1:]
	}
	for _, sp := range cm.spaces {
		n := len(sp.lo)
		if len(s) < n {
			continue
		}
		if inRange(s[:n], sp.lo, sp.hi) {
			return s[:n], s[n:]
		}
	}
	// no range matched: consume the shortest code length
	n := len(cm.spaces[0].lo)
	if n > len(s) {
		n = len(s)
	}
	return s[:n], s[n:]
}

// HasCodeSpace reports whether the CMap declares code space ranges.
func (cm *CMap) HasCodeSpace() bool { return cm != nil && len(cm.spaces) > 0 }

// Unicode returns the text mapped for code.
func (cm *CMap) Unicode(code []byte) (string, bool) {
	if cm == nil {
		return "", false
	}
	s, ok := cm.unicode[string(code)]
	return s, ok
}

// CID maps a code through cidchar/cidrange entries.
func (cm *CMap) CID(code []byte) (int, bool) {
	if cm == nil {
		return 0, false
	}
	for _, r := range cm.cids {
		if len(r.lo) == len(code) && inRange(code, r.lo, r.hi) {
			return r.cid + codeValue(code) - codeValue(r.lo), true
		}
	}
	return 0, false
}

func inRange(code, lo, hi []byte) bool {
	for i := range code {
		if code[i] < lo[i] || code[i] > hi[i] {
			return false
		}
	}
	return true
}

func unicodeOf(obj raw.Object) string {
	switch v := obj.(type) {
	case raw.StringObj:
		return decodeUTF16(v.Bytes)
	case raw.NameObj:
		if r, ok := GlyphRune(v.Val); ok {
			return string(r)
		}
	}
	return ""
}

func decodeUTF16(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units))
}

func codeValue(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func codeBytes(v, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
