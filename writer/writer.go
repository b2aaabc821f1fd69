package writer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wudi/pdfredact/filters"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/optimize"
	"github.com/wudi/pdfredact/xref"
)

type Config struct {
	// Version overrides the header version; empty keeps the document's.
	Version string
	// Compress Flate-encodes every stream that has no filter yet.
	Compress bool
	// Linearize writes a first-page section, hint stream and two xref
	// sections so the first page can be shown before the whole file loads.
	Linearize bool
	// Deduplicate merges identical objects before writing.
	Deduplicate bool
	Logger      observability.Logger
}

// Write serializes every object reachable from the trailer as a fresh file.
func Write(ctx context.Context, doc *raw.Document, out io.Writer, cfg Config) error {
	start := time.Now()
	if cfg.Deduplicate {
		doc = doc.Clone()
		removed, err := optimize.CombineDuplicates(ctx, doc)
		if err != nil {
			return err
		}
		observability.OrNop(cfg.Logger).Debug("merged duplicate objects", observability.Int("removed", removed))
	}
	set, err := collect(doc)
	if err != nil {
		return err
	}
	if cfg.Compress {
		if err := compressStreams(ctx, set.objects); err != nil {
			return err
		}
	}
	version := cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}
	var buf bytes.Buffer
	if cfg.Linearize {
		err = writeLinearized(ctx, set, version, &buf)
	} else {
		err = writeClassic(ctx, set, version, &buf)
	}
	if err != nil {
		return err
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return err
	}
	observability.OrNop(cfg.Logger).Debug("wrote document",
		observability.Int(observability.MetricObjectCount, len(set.objects)),
		observability.Bool("linearized", cfg.Linearize),
		observability.Int("bytes", buf.Len()),
		observability.Duration(observability.MetricWriteTime, time.Since(start)),
	)
	return nil
}

// objectSet is a renumbered, self-contained copy of the reachable objects.
type objectSet struct {
	objects map[raw.ObjectRef]raw.Object
	catalog raw.ObjectRef
	info    *raw.ObjectRef
	id0     []byte
}

func (s *objectSet) sortedRefs() []raw.ObjectRef {
	refs := make([]raw.ObjectRef, 0, len(s.objects))
	for ref := range s.objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	return refs
}

// collect walks from the catalog (and /Info) in a stable order, dropping
// unreachable objects and numbering the survivors from 1.
func collect(doc *raw.Document) (*objectSet, error) {
	rootObj, ok := doc.Trailer.Get("Root")
	if !ok {
		return nil, errors.New("trailer has no /Root")
	}
	rootRef, ok := rootObj.(raw.RefObj)
	if !ok {
		return nil, errors.New("/Root is not an indirect reference")
	}
	if _, ok := doc.Objects[rootRef.R]; !ok {
		return nil, fmt.Errorf("catalog %s missing", rootRef.R)
	}

	renumber := make(map[raw.ObjectRef]raw.ObjectRef)
	var order []raw.ObjectRef
	queue := []raw.ObjectRef{rootRef.R}
	if info, ok := doc.Trailer.Get("Info"); ok {
		if r, ok := info.(raw.RefObj); ok {
			if _, exists := doc.Objects[r.R]; exists {
				queue = append(queue, r.R)
			}
		}
	}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, seen := renumber[ref]; seen {
			continue
		}
		obj, ok := doc.Objects[ref]
		if !ok {
			continue
		}
		renumber[ref] = raw.ObjectRef{Num: len(order) + 1}
		order = append(order, ref)
		for _, child := range refsOf(obj) {
			if _, seen := renumber[child]; !seen {
				queue = append(queue, child)
			}
		}
	}

	set := &objectSet{objects: make(map[raw.ObjectRef]raw.Object, len(order))}
	for _, old := range order {
		set.objects[renumber[old]] = rewriteRefs(doc.Objects[old], renumber)
	}
	set.catalog = renumber[rootRef.R]
	if info, ok := doc.Trailer.Get("Info"); ok {
		if r, ok := info.(raw.RefObj); ok {
			if nr, ok := renumber[r.R]; ok {
				set.info = &nr
			}
		}
	}
	if ids := doc.Trailer.Array(nil, "ID"); ids != nil && ids.Len() > 0 {
		set.id0, _ = raw.StringOf(nil, ids.Items[0])
	}
	return set, nil
}

// refsOf lists references in obj in a deterministic order.
func refsOf(obj raw.Object) []raw.ObjectRef {
	var refs []raw.ObjectRef
	var walk func(o raw.Object)
	walk = func(o raw.Object) {
		switch v := o.(type) {
		case raw.RefObj:
			refs = append(refs, v.R)
		case *raw.ArrayObj:
			for _, item := range v.Items {
				walk(item)
			}
		case *raw.DictObj:
			keys := make([]string, 0, len(v.KV))
			for k := range v.KV {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if k == "Parent" {
					// parents are reached from the page tree root
					continue
				}
				walk(v.KV[k])
			}
		case *raw.StreamObj:
			walk(v.Dict)
		}
	}
	walk(obj)
	return refs
}

// rewriteRefs deep-copies obj with references renumbered; references to
// objects that were not collected become null.
func rewriteRefs(obj raw.Object, renumber map[raw.ObjectRef]raw.ObjectRef) raw.Object {
	switch v := obj.(type) {
	case raw.RefObj:
		if nr, ok := renumber[v.R]; ok {
			return raw.RefObj{R: nr}
		}
		return raw.NullObj{}
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = rewriteRefs(item, renumber)
		}
		return out
	case *raw.DictObj:
		out := &raw.DictObj{KV: make(map[string]raw.Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = rewriteRefs(item, renumber)
		}
		return out
	case *raw.StreamObj:
		return &raw.StreamObj{Dict: rewriteRefs(v.Dict, renumber).(*raw.DictObj), Data: v.Data}
	default:
		return raw.DeepCopy(obj)
	}
}

func compressStreams(ctx context.Context, objects map[raw.ObjectRef]raw.Object) error {
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		if _, has := s.Dict.Get("Filter"); has {
			continue
		}
		enc, err := filters.EncodeFlate(s.Data)
		if err != nil {
			return err
		}
		if len(enc) >= len(s.Data) {
			continue
		}
		s.Data = enc
		s.Dict.Set("Filter", raw.Name("FlateDecode"))
		s.Dict.Delete("DecodeParms")
	}
	return nil
}

func header(version string) []byte {
	return []byte("%PDF-" + version + "\n%\xE2\xE3\xCF\xD3\n")
}

func buildTrailer(set *objectSet, size int, id1 []byte) *raw.DictObj {
	t := raw.Dict()
	t.Set("Size", raw.Int(int64(size)))
	t.Set("Root", raw.RefObj{R: set.catalog})
	if set.info != nil {
		t.Set("Info", raw.RefObj{R: *set.info})
	}
	id0 := set.id0
	if len(id0) == 0 {
		id0 = id1
	}
	t.Set("ID", raw.NewArray(raw.StringObj{Bytes: id0, Hex: true}, raw.StringObj{Bytes: id1, Hex: true}))
	return t
}

// fileID derives the second /ID element from the serialized objects.
func fileID(serialized [][]byte) []byte {
	h := sha256.New()
	for _, b := range serialized {
		h.Write(b)
	}
	return h.Sum(nil)[:16]
}

func writeClassic(ctx context.Context, set *objectSet, version string, buf *bytes.Buffer) error {
	refs := set.sortedRefs()
	buf.Write(header(version))
	offsets := make(map[int]int64, len(refs))
	serialized := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := SerializeObject(ref, set.objects[ref])
		offsets[ref.Num] = int64(buf.Len())
		buf.Write(data)
		serialized = append(serialized, data)
	}
	size := len(refs) + 1
	xrefOffset := buf.Len()
	writeXRefSection(buf, 0, size, offsets)
	buf.WriteString("trailer\n")
	buf.Write(AppendObject(nil, buildTrailer(set, size, fileID(serialized))))
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

func writeXRefSection(buf *bytes.Buffer, first, count int, offsets map[int]int64) {
	fmt.Fprintf(buf, "xref\n%d %d\n", first, count)
	for num := first; num < first+count; num++ {
		switch off, ok := offsets[num]; {
		case num == 0:
			buf.WriteString(xref.FormatOffset(0, 65535, false))
		case ok:
			buf.WriteString(xref.FormatOffset(off, 0, true))
		default:
			buf.WriteString(xref.FormatOffset(0, 0, false))
		}
	}
}
