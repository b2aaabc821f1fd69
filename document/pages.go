package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

// maxTreeDepth bounds page tree recursion on malformed files.
const maxTreeDepth = 64

var defaultMediaBox = coords.Rect{X1: 0, Y1: 0, X2: 612, Y2: 792}

// Page is a leaf of the page tree with its inherited attributes resolved.
type Page struct {
	Index int
	Ref   raw.ObjectRef
	Dict  *raw.DictObj
	// Resources is the effective resource dictionary, possibly inherited
	// from an ancestor. It may be nil.
	Resources *raw.DictObj
	MediaBox  coords.Rect
	CropBox   coords.Rect
	Rotate    int

	doc *Document
}

// Document returns the document the page belongs to.
func (p *Page) Document() *Document { return p.doc }

type inherited struct {
	resources raw.Object
	mediaBox  *coords.Rect
	cropBox   *coords.Rect
	rotate    *int
}

func walkPages(doc *raw.Document) ([]pageEntry, error) {
	root := raw.DictOf(doc, doc.Trailer.KV["Root"])
	if root == nil {
		return nil, errors.New("catalog missing")
	}
	pagesObj, ok := root.Get("Pages")
	if !ok {
		return nil, errors.New("catalog has no /Pages")
	}
	var out []pageEntry
	visited := make(map[raw.ObjectRef]bool)
	var walk func(obj raw.Object, inh inherited, depth int) error
	walk = func(obj raw.Object, inh inherited, depth int) error {
		if depth > maxTreeDepth {
			return errors.New("page tree too deep")
		}
		ref, isRef := obj.(raw.RefObj)
		if isRef {
			if visited[ref.R] {
				return fmt.Errorf("page tree cycle at %s", ref.R)
			}
			visited[ref.R] = true
		}
		dict := raw.DictOf(doc, obj)
		if dict == nil {
			return nil
		}
		if v, ok := dict.Get("Resources"); ok {
			inh.resources = v
		}
		if r, ok := rectOf(doc, dict, "MediaBox"); ok {
			inh.mediaBox = &r
		}
		if r, ok := rectOf(doc, dict, "CropBox"); ok {
			inh.cropBox = &r
		}
		if _, ok := dict.Get("Rotate"); ok {
			rot := int(dict.Int(doc, "Rotate", 0))
			inh.rotate = &rot
		}

		kids := dict.Array(doc, "Kids")
		if dict.Name(doc, "Type") == "Page" || (kids == nil && dict.Name(doc, "Type") != "Pages") {
			if !isRef {
				return errors.New("page is not an indirect object")
			}
			out = append(out, pageEntry{ref: ref.R, inh: inh})
			return nil
		}
		if kids == nil {
			return nil
		}
		for _, kid := range kids.Items {
			if err := walk(kid, inh, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(pagesObj, inherited{}, 0); err != nil {
		return nil, err
	}
	return out, nil
}

type pageEntry struct {
	ref raw.ObjectRef
	inh inherited
}

func (d *Document) buildPage(i int, e pageEntry) (*Page, error) {
	dict, ok := d.raw.Objects[e.ref].(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("page %d: object %s is not a dictionary", i, e.ref)
	}
	p := &Page{Index: i, Ref: e.ref, Dict: dict, MediaBox: defaultMediaBox, doc: d}
	p.Resources = raw.DictOf(d.raw, e.inh.resources)
	if e.inh.mediaBox != nil {
		p.MediaBox = *e.inh.mediaBox
	}
	p.CropBox = p.MediaBox
	if e.inh.cropBox != nil {
		if c := e.inh.cropBox.Intersect(p.MediaBox); !c.Empty() {
			p.CropBox = c
		}
	}
	if e.inh.rotate != nil {
		p.Rotate = ((*e.inh.rotate % 360) + 360) % 360
	}
	return p, nil
}

func rectOf(r raw.Resolver, dict *raw.DictObj, key string) (coords.Rect, bool) {
	arr := dict.Array(r, key)
	if arr == nil || arr.Len() != 4 {
		return coords.Rect{}, false
	}
	v := arr.Floats(r)
	if len(v) != 4 {
		return coords.Rect{}, false
	}
	return coords.Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}.Normalize(), true
}

// OwnResources returns a resource dictionary stored directly on the page,
// copying an inherited or shared one first so edits stay local to the page.
func (p *Page) OwnResources() *raw.DictObj {
	if v, ok := p.Dict.Get("Resources"); ok {
		if d, direct := v.(*raw.DictObj); direct {
			p.Resources = d
			return d
		}
	}
	var res *raw.DictObj
	if p.Resources != nil {
		res = raw.DeepCopy(p.Resources).(*raw.DictObj)
	} else {
		res = raw.Dict()
	}
	p.Dict.Set("Resources", res)
	p.Resources = res
	return res
}

// ContentStreams returns the page's content streams in drawing order.
func (p *Page) ContentStreams() []*raw.StreamObj {
	r := p.doc.raw
	obj, ok := p.Dict.Get("Contents")
	if !ok {
		return nil
	}
	if s := raw.StreamOf(r, obj); s != nil {
		return []*raw.StreamObj{s}
	}
	arr := raw.ArrayOf(r, obj)
	if arr == nil {
		return nil
	}
	out := make([]*raw.StreamObj, 0, arr.Len())
	for _, item := range arr.Items {
		if s := raw.StreamOf(r, item); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Contents decodes the content streams and joins them with a newline, so
// an operator split across two streams still tokenizes.
func (p *Page) Contents(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for i, s := range p.ContentStreams() {
		data, err := p.doc.DecodeStream(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("page %d content stream %d: %w", p.Index, i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// SetContents replaces the page content with one new unfiltered stream.
func (p *Page) SetContents(data []byte) raw.RefObj {
	ref := p.doc.raw.Add(raw.NewStream(raw.Dict(), data))
	p.Dict.Set("Contents", ref)
	return ref
}

// AddObject stores obj as a new indirect object of the page's document.
func (p *Page) AddObject(obj raw.Object) raw.RefObj { return p.doc.raw.Add(obj) }

// Resolve dereferences obj within the page's document.
func (p *Page) Resolve(obj raw.Object) raw.Object { return p.doc.raw.Resolve(obj) }
