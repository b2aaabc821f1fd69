package xref

import (
	"context"
	"errors"
	"io"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
)

// Repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions of an object win, as they would after an incremental update.
func Repair(ctx context.Context, data []byte) (*Table, error) {
	s := scanner.New(data, scanner.Config{})
	t := newTable()
	t.repaired = true
	var lastTrailer *raw.DictObj
	var xrefStreamDict *raw.DictObj

	// the last two numbers seen, for "<num> <gen> obj"
	var prev, prev2 scanner.Token
	for count := 0; ; count++ {
		if count%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// skip unreadable bytes
			_ = s.Seek(s.Position() + 1)
			continue
		}
		switch {
		case tok.Type == scanner.TokenKeyword && tok.Str == "obj":
			if prev2.Type == scanner.TokenNumber && prev2.IsInt && prev.Type == scanner.TokenNumber && prev.IsInt {
				t.entries[int(prev2.Int)] = Entry{Kind: EntryInFile, Offset: prev2.Pos, Gen: int(prev.Int)}
				if obj, err := s.ReadObject(); err == nil {
					if d, ok := obj.(*raw.DictObj); ok && d.Name(nil, "Type") == "XRef" {
						xrefStreamDict = d
					}
				}
			}
		case tok.Type == scanner.TokenKeyword && tok.Str == "stream":
			s.ReadStream(-1)
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			if obj, err := s.ReadObject(); err == nil {
				if d, ok := obj.(*raw.DictObj); ok {
					lastTrailer = d
				}
			}
		}
		prev2, prev = prev, tok
	}

	if len(t.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	switch {
	case lastTrailer != nil:
		t.trailer = lastTrailer
	case xrefStreamDict != nil:
		t.trailer = xrefStreamDict
	default:
		// construct minimal trailer; the parser looks for the catalog itself
		t.trailer = raw.Dict()
	}
	t.trailer.Delete("Prev")
	t.trailer.Delete("XRefStm")
	t.trailer.Set("Size", raw.Int(int64(maxKey(t.entries)+1)))
	t.sections = 0
	return t, nil
}

func maxKey(entries map[int]Entry) int {
	m := 0
	for k := range entries {
		if k > m {
			m = k
		}
	}
	return m
}
