package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// folded is a case-folded copy of a text with a map back to the original
// byte offsets.
type folded struct {
	text string
	// start[i] and end[i] bound the original rune that produced byte i.
	start []int
	end   []int
}

func foldText(c cases.Caser, s string) folded {
	var b strings.Builder
	f := folded{start: make([]int, 0, len(s)), end: make([]int, 0, len(s))}
	for i, r := range s {
		piece := c.String(string(r))
		b.WriteString(piece)
		next := i + utf8.RuneLen(r)
		for range len(piece) {
			f.start = append(f.start, i)
			f.end = append(f.end, next)
		}
	}
	f.text = b.String()
	return f
}

func literalFinder(pattern string, ignoreCase bool) finder {
	return func(ctx context.Context, text string, emit func(start, end int) bool) error {
		if !ignoreCase {
			return scanLiteral(ctx, text, pattern, func(s, e int) bool { return emit(s, e) })
		}
		c := cases.Fold()
		needle := c.String(pattern)
		f := foldText(c, text)
		return scanLiteral(ctx, f.text, needle, func(s, e int) bool {
			return emit(f.start[s], f.end[e-1])
		})
	}
}

// scanLiteral reports every occurrence of needle, overlapping ones included.
func scanLiteral(ctx context.Context, text, needle string, emit func(start, end int) bool) error {
	if needle == "" {
		return nil
	}
	for from, n := 0, 0; from < len(text); n++ {
		if n%256 == 255 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		i := strings.Index(text[from:], needle)
		if i < 0 {
			return nil
		}
		at := from + i
		if !emit(at, at+len(needle)) {
			return nil
		}
		_, size := utf8.DecodeRuneInString(text[at:])
		from = at + size
	}
	return nil
}
