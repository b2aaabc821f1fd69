package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/xref"
)

// objectLoader reads indirect objects out of the file through the xref
// table. Decoded object streams are cached.
type objectLoader struct {
	data     []byte
	table    *xref.Table
	filters  *filters.Pipeline
	scanCfg  scanner.Config
	maxDepth int

	mu      sync.Mutex
	objStms map[int]map[int]raw.Object // stream num -> object num -> object
}

func newObjectLoader(data []byte, table *xref.Table, f *filters.Pipeline, cfg scanner.Config, maxDepth int) *objectLoader {
	return &objectLoader{
		data:     data,
		table:    table,
		filters:  f,
		scanCfg:  cfg,
		maxDepth: maxDepth,
		objStms:  make(map[int]map[int]raw.Object),
	}
}

var ErrObjectMismatch = errors.New("object header does not match xref entry")

func (l *objectLoader) Load(ctx context.Context, num int) (raw.Object, int, error) {
	return l.load(ctx, num, 0)
}

func (l *objectLoader) load(ctx context.Context, num, depth int) (raw.Object, int, error) {
	if depth > l.maxDepth {
		return nil, 0, fmt.Errorf("indirect depth exceeds %d", l.maxDepth)
	}
	e, ok := l.table.Lookup(num)
	if !ok {
		return nil, 0, fmt.Errorf("object %d not in xref", num)
	}
	switch e.Kind {
	case xref.EntryInFile:
		obj, err := l.loadAt(ctx, num, e.Offset, depth)
		return obj, e.Gen, err
	case xref.EntryCompressed:
		objs, err := l.objectStream(ctx, e.Stream, depth)
		if err != nil {
			return nil, 0, err
		}
		obj, ok := objs[num]
		if !ok {
			return nil, 0, fmt.Errorf("object %d missing from object stream %d", num, e.Stream)
		}
		return obj, 0, nil
	}
	return nil, 0, fmt.Errorf("object %d is free", num)
}

func (l *objectLoader) loadAt(ctx context.Context, num int, offset int64, depth int) (raw.Object, error) {
	s := scanner.New(l.data, l.scanCfg)
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	numTok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if _, err := s.Next(); err != nil {
		return nil, err
	}
	objTok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if numTok.Type != scanner.TokenNumber || int(numTok.Int) != num || objTok.Str != "obj" {
		return nil, fmt.Errorf("%w: object %d at offset %d", ErrObjectMismatch, num, offset)
	}
	obj, err := s.ReadObject()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return obj, nil
	}
	pos := s.Position()
	next, err := s.Next()
	if err != nil || next.Type != scanner.TokenKeyword || next.Str != "stream" {
		_ = s.Seek(pos)
		return dict, nil
	}
	length := l.streamLength(ctx, dict, depth)
	return raw.NewStream(dict, s.ReadStream(length)), nil
}

// streamLength resolves /Length, which may itself be an indirect object.
func (l *objectLoader) streamLength(ctx context.Context, dict *raw.DictObj, depth int) int64 {
	v, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	if ref, ok := v.(raw.RefObj); ok {
		obj, _, err := l.load(ctx, ref.R.Num, depth+1)
		if err != nil {
			return -1
		}
		v = obj
	}
	n, ok := raw.IntOf(nil, v)
	if !ok || n < 0 {
		return -1
	}
	return n
}

func (l *objectLoader) objectStream(ctx context.Context, stmNum, depth int) (map[int]raw.Object, error) {
	l.mu.Lock()
	cached, ok := l.objStms[stmNum]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}
	obj, _, err := l.load(ctx, stmNum, depth+1)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", stmNum, err)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", stmNum)
	}
	objs, err := l.parseObjectStream(ctx, stm)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", stmNum, err)
	}
	l.mu.Lock()
	l.objStms[stmNum] = objs
	l.mu.Unlock()
	return objs, nil
}

func (l *objectLoader) parseObjectStream(ctx context.Context, stm *raw.StreamObj) (map[int]raw.Object, error) {
	decoded, err := l.filters.DecodeStream(ctx, nil, stm)
	if err != nil {
		return nil, err
	}
	n := int(stm.Dict.Int(nil, "N", 0))
	first := stm.Dict.Int(nil, "First", 0)
	if first < 0 || first > int64(len(decoded)) {
		return nil, errors.New("invalid /First")
	}
	s := scanner.New(decoded, l.scanCfg)
	type slot struct {
		num int
		off int64
	}
	slots := make([]slot, 0, n)
	for i := 0; i < n; i++ {
		numTok, err1 := s.Next()
		offTok, err2 := s.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			return nil, errors.New("truncated object stream header")
		}
		slots = append(slots, slot{num: int(numTok.Int), off: offTok.Int})
	}
	out := make(map[int]raw.Object, len(slots))
	for _, sl := range slots {
		if err := s.Seek(first + sl.off); err != nil {
			continue
		}
		obj, err := s.ReadObject()
		if err != nil {
			continue
		}
		out[sl.num] = obj
	}
	return out, nil
}
