// Package optimize shrinks a document before it is written.
package optimize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"github.com/wudi/pdfredact/ir/raw"
)

// CombineDuplicates merges indirect objects with identical content and
// points every reference at the survivor, repeating until nothing
// changes. The lowest object number survives. Page tree nodes and the
// catalog are never merged. It returns the number of objects removed.
func CombineDuplicates(ctx context.Context, doc *raw.Document) (int, error) {
	removed := 0
	for changed := true; changed; {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		changed = false
		seen := make(map[string]raw.ObjectRef)
		replacements := make(map[raw.ObjectRef]raw.ObjectRef)
		for _, ref := range doc.Refs() {
			obj := doc.Objects[ref]
			if structural(obj) {
				continue
			}
			h := hashObject(obj)
			if original, ok := seen[h]; ok {
				replacements[ref] = original
				changed = true
			} else {
				seen[h] = ref
			}
		}
		if len(replacements) > 0 {
			applyReplacements(doc, replacements)
			for dup := range replacements {
				delete(doc.Objects, dup)
			}
			removed += len(replacements)
		}
	}
	return removed, nil
}

// structural reports objects whose identity matters to the page tree.
func structural(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	switch d.Name(nil, "Type") {
	case "Page", "Pages", "Catalog":
		return true
	}
	return false
}

func hashObject(obj raw.Object) string {
	h := sha256.New()
	writeHash(h, obj)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHash(h hash.Hash, obj raw.Object) {
	if obj == nil {
		fmt.Fprint(h, "nil")
		return
	}
	fmt.Fprint(h, obj.Type(), ":")
	switch t := obj.(type) {
	case raw.NameObj:
		fmt.Fprint(h, t.Val)
	case raw.NumberObj:
		if t.IsInt {
			fmt.Fprint(h, t.I)
		} else {
			fmt.Fprint(h, t.F)
		}
	case raw.BoolObj:
		fmt.Fprint(h, t.V)
	case raw.StringObj:
		fmt.Fprintf(h, "%d:", len(t.Bytes))
		h.Write(t.Bytes)
	case raw.KeywordObj:
		fmt.Fprint(h, t.Val)
	case raw.RefObj:
		fmt.Fprintf(h, "%d %d R", t.R.Num, t.R.Gen)
	case *raw.ArrayObj:
		fmt.Fprint(h, "[")
		for _, v := range t.Items {
			writeHash(h, v)
			fmt.Fprint(h, ",")
		}
		fmt.Fprint(h, "]")
	case *raw.DictObj:
		fmt.Fprint(h, "<<")
		keys := make([]string, 0, len(t.KV))
		for k := range t.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprint(h, "/", k, " ")
			writeHash(h, t.KV[k])
		}
		fmt.Fprint(h, ">>")
	case *raw.StreamObj:
		writeHash(h, t.Dict)
		fmt.Fprintf(h, "%d:", len(t.Data))
		h.Write(t.Data)
	case raw.NullObj:
		fmt.Fprint(h, "null")
	}
}

func applyReplacements(doc *raw.Document, replacements map[raw.ObjectRef]raw.ObjectRef) {
	for ref, obj := range doc.Objects {
		doc.Objects[ref] = replaceRefs(obj, replacements)
	}
	if doc.Trailer != nil {
		replaceRefs(doc.Trailer, replacements)
	}
}

// replaceRefs rewrites references in place and returns the object, which
// is only a new value when obj itself is a reference.
func replaceRefs(obj raw.Object, replacements map[raw.ObjectRef]raw.ObjectRef) raw.Object {
	switch t := obj.(type) {
	case raw.RefObj:
		if nr, ok := replacements[t.R]; ok {
			return raw.RefObj{R: nr}
		}
	case *raw.ArrayObj:
		for i, v := range t.Items {
			t.Items[i] = replaceRefs(v, replacements)
		}
	case *raw.DictObj:
		for k, v := range t.KV {
			t.KV[k] = replaceRefs(v, replacements)
		}
	case *raw.StreamObj:
		replaceRefs(t.Dict, replacements)
	}
	return obj
}
