package extractor

import (
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

// Annotation summarizes a page annotation.
type Annotation struct {
	// Index is the position in the page's /Annots array.
	Index    int
	Subtype  string
	Rect     coords.Rect
	Contents string
	URI      string
	Flags    int
}

// Annotations lists the annotations of a page dictionary.
func Annotations(r raw.Resolver, page *raw.DictObj) []Annotation {
	arr := page.Array(r, "Annots")
	if arr == nil {
		return nil
	}
	var out []Annotation
	for i, obj := range arr.Items {
		dict := raw.DictOf(r, obj)
		if dict == nil {
			continue
		}
		a := Annotation{
			Index:   i,
			Subtype: dict.Name(r, "Subtype"),
			Flags:   int(dict.Int(r, "F", 0)),
			URI:     annotationURI(r, dict),
		}
		if rect := dict.Array(r, "Rect").Floats(r); len(rect) == 4 {
			a.Rect = coords.NewRect(rect[0], rect[1], rect[2], rect[3])
		}
		if s, ok := raw.StringOf(r, mustGet(dict, "Contents")); ok {
			a.Contents = string(s)
		}
		out = append(out, a)
	}
	return out
}

func annotationURI(r raw.Resolver, dict *raw.DictObj) string {
	if uri, ok := raw.StringOf(r, mustGet(dict, "URI")); ok {
		return string(uri)
	}
	action := dict.Dict(r, "A")
	if action == nil || action.Name(r, "S") != "URI" {
		return ""
	}
	uri, _ := raw.StringOf(r, mustGet(action, "URI"))
	return string(uri)
}

func mustGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}
