package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/recovery"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery    recovery.Strategy
	XRef        xref.ResolverConfig
	Filters     *filters.Pipeline
	Scanner     scanner.Config
	MaxIndirect int
	Logger      observability.Logger
}

// ErrEncrypted is returned for files protected by a security handler.
var ErrEncrypted = errors.New("document is encrypted")

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = 32
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.Standard(filters.Limits{})
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Filters == nil {
		cfg.XRef.Filters = cfg.Filters
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	start := time.Now()
	version, err := detectHeaderVersion(data)
	if err != nil {
		return nil, err
	}
	table, err := xref.NewResolver(p.cfg.XRef).Resolve(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	if _, ok := table.Trailer().Get("Encrypt"); ok {
		return nil, ErrEncrypted
	}

	loader := newObjectLoader(data, table, p.cfg.Filters, p.cfg.Scanner, p.cfg.MaxIndirect)
	doc := raw.NewDocument()
	doc.Version = version
	doc.Trailer = raw.DeepCopy(table.Trailer()).(*raw.DictObj)

	for _, objNum := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if objNum == 0 {
			continue // free head entry
		}
		obj, gen, err := loader.Load(ctx, objNum)
		if err != nil {
			if ferr := p.onObjectError(ctx, objNum, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		doc.Objects[raw.ObjectRef{Num: objNum, Gen: gen}] = obj
	}

	if table.Repaired() {
		p.recoverCompressed(ctx, loader, doc)
	}
	for ref, obj := range doc.Objects {
		// object and xref streams are flattened on save
		if s, ok := obj.(*raw.StreamObj); ok {
			if t := s.Dict.Name(nil, "Type"); t == "ObjStm" || t == "XRef" {
				delete(doc.Objects, ref)
			}
		}
	}
	if err := ensureRoot(doc); err != nil {
		return nil, err
	}
	if cat := raw.DictOf(doc, mustGet(doc.Trailer, "Root")); cat != nil {
		if v := cat.Name(doc, "Version"); v > doc.Version {
			doc.Version = v
		}
	}

	p.cfg.Logger.Debug("parsed document",
		observability.Int(observability.MetricObjectCount, len(doc.Objects)),
		observability.Bool("repaired", table.Repaired()),
		observability.Duration(observability.MetricParseTime, time.Since(start)),
	)
	return doc, nil
}

func (p *DocumentParser) onObjectError(ctx context.Context, num int, err error) error {
	action := recovery.ActionFail
	if p.cfg.Recovery != nil {
		action = p.cfg.Recovery.OnError(ctx, err, recovery.Location{ObjectNum: num, Component: recovery.ComponentObject})
	}
	switch action {
	case recovery.ActionSkip, recovery.ActionWarn, recovery.ActionFix:
		return nil
	}
	return fmt.Errorf("load object %d: %w", num, err)
}

// recoverCompressed pulls objects out of object streams found during a
// repair scan, which cannot see inside compressed data.
func (p *DocumentParser) recoverCompressed(ctx context.Context, l *objectLoader, doc *raw.Document) {
	for ref, obj := range doc.Objects {
		s, ok := obj.(*raw.StreamObj)
		if !ok || s.Dict.Name(nil, "Type") != "ObjStm" {
			continue
		}
		objs, err := l.parseObjectStream(ctx, s)
		if err != nil {
			p.cfg.Logger.Warn("skipping unreadable object stream", observability.Int("object", ref.Num), observability.Err(err))
			continue
		}
		for num, o := range objs {
			r := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[r]; !exists {
				doc.Objects[r] = o
			}
		}
	}
}

// ensureRoot finds the catalog when the trailer lost its /Root.
func ensureRoot(doc *raw.Document) error {
	if cat := raw.DictOf(doc, mustGet(doc.Trailer, "Root")); cat != nil {
		return nil
	}
	for _, ref := range doc.Refs() {
		if d, ok := doc.Objects[ref].(*raw.DictObj); ok && d.Name(nil, "Type") == "Catalog" {
			doc.Trailer.Set("Root", raw.RefObj{R: ref})
			return nil
		}
	}
	return errors.New("document catalog not found")
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

func detectHeaderVersion(data []byte) (string, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	i := bytes.Index(head, []byte("%PDF-"))
	if i < 0 || i+8 > len(head) {
		if bytes.Contains(data, []byte("obj")) {
			// headerless files still open when objects are present
			return "1.4", nil
		}
		return "", errors.New("not a PDF file: missing %PDF header")
	}
	v := head[i+5 : i+8]
	if v[0] < '1' || v[0] > '9' || v[1] != '.' || v[2] < '0' || v[2] > '9' {
		return "", fmt.Errorf("malformed header version %q", v)
	}
	return string(v), nil
}
