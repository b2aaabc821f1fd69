package writer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/wudi/pdfredact/ir/raw"
)

// SerializeObject renders an indirect object definition.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(AppendObject(nil, obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes()
}

// AppendObject appends the PDF syntax for a direct object to dst.
func AppendObject(dst []byte, o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return append(append(dst, '/'), pdfNameLiteral(v.Val)...)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(dst, v.I, 10)
		}
		return append(dst, FormatNumber(v.F)...)
	case raw.BoolObj:
		return strconv.AppendBool(dst, v.V)
	case raw.NullObj:
		return append(dst, "null"...)
	case raw.StringObj:
		if v.Hex {
			return appendHexString(dst, v.Bytes)
		}
		return appendLiteralString(dst, v.Bytes)
	case raw.KeywordObj:
		return append(dst, v.Val...)
	case *raw.ArrayObj:
		dst = append(dst, '[')
		for i, it := range v.Items {
			if i > 0 {
				dst = append(dst, ' ')
			}
			dst = AppendObject(dst, it)
		}
		return append(dst, ']')
	case *raw.DictObj:
		dst = append(dst, "<<"...)
		keys := make([]string, 0, len(v.KV))
		for k := range v.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = append(append(dst, '/'), pdfNameLiteral(k)...)
			dst = append(dst, ' ')
			dst = AppendObject(dst, v.KV[k])
		}
		return append(dst, ">>"...)
	case *raw.StreamObj:
		d := raw.DeepCopy(v.Dict).(*raw.DictObj)
		d.Set("Length", raw.Int(int64(len(v.Data))))
		dst = AppendObject(dst, d)
		dst = append(dst, "\nstream\n"...)
		dst = append(dst, v.Data...)
		return append(dst, "\nendstream"...)
	case raw.RefObj:
		dst = strconv.AppendInt(dst, int64(v.R.Num), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(v.R.Gen), 10)
		return append(dst, " R"...)
	default:
		return append(dst, "null"...)
	}
}

// FormatNumber writes a real without exponent and trailing zeros.
func FormatNumber(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 5, 64)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	s = trimSuffixDot(s)
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func trimSuffixDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

func pdfNameLiteral(value string) string {
	var b []byte
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch > 0x20 && ch < 0x7f && ch != '#' && !isDelimiter(ch) {
			b = append(b, ch)
			continue
		}
		b = append(b, fmt.Sprintf("#%02X", ch)...)
	}
	return string(b)
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func appendLiteralString(dst, rawBytes []byte) []byte {
	dst = append(dst, '(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			dst = append(dst, '\\', ch)
		case '\n':
			dst = append(dst, `\n`...)
		case '\r':
			dst = append(dst, `\r`...)
		case '\t':
			dst = append(dst, `\t`...)
		case '\b':
			dst = append(dst, `\b`...)
		case '\f':
			dst = append(dst, `\f`...)
		default:
			if ch < 0x20 || ch >= 0x7f {
				dst = append(dst, fmt.Sprintf("\\%03o", ch)...)
			} else {
				dst = append(dst, ch)
			}
		}
	}
	return append(dst, ')')
}

func appendHexString(dst, data []byte) []byte {
	const digits = "0123456789ABCDEF"
	dst = append(dst, '<')
	for _, b := range data {
		dst = append(dst, digits[b>>4], digits[b&15])
	}
	return append(dst, '>')
}
