// Package builder assembles small PDF documents from drawing calls. It
// produces the fixtures the rest of the module is tested against.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/writer"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	// RegisterTrueTypeFont embeds a TrueType program as a Type0 font
	// usable by name in TextOptions.
	RegisterTrueTypeFont(name string, data []byte) PDFBuilder
	SetTitle(title string) PDFBuilder
	Build() (*raw.Document, error)
	// Bytes builds and serializes the document.
	Bytes() ([]byte, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	// DrawFormText draws text inside a form XObject. Pages that use the
	// same key share one form.
	DrawFormText(key, text string, x, y float64, opts TextOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder
	DrawImage(x, y, width, height float64, opts ImageOptions) PageBuilder
	AddAnnotation(subtype string, rect coords.Rect, contents string) PageBuilder
	AddLink(rect coords.Rect, uri string) PageBuilder
	// Raw appends content stream operators verbatim.
	Raw(content string) PageBuilder
	SetCropBox(box coords.Rect) PageBuilder
	SetRotation(degrees int) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	// Font is a standard 14 font name or a registered TrueType font;
	// the default is Helvetica.
	Font         string
	FontSize     float64
	Color        Color
	RenderMode   contentstream.TextRenderMode
	CharSpacing  float64
	WordSpacing  float64
	HorizScaling float64
	Rise         float64
}

// RectOptions configures rectangle drawing (defaults to fill if neither fill nor stroke is set).
type RectOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	Fill        bool
	Stroke      bool
}

// LineOptions configures line drawing.
type LineOptions struct {
	StrokeColor Color
	LineWidth   float64
}

// ImageOptions configures image drawing.
type ImageOptions struct {
	// Gray is the value of the single-pixel DeviceGray image.
	Gray byte
	// Inline draws the image as an inline image instead of an XObject.
	Inline bool
}

// Color represents an RGB color.
type Color struct {
	R, G, B float64
}

const (
	defaultBaseFont = "Helvetica"
	defaultFontSize = 12
)

// NewBuilder constructs a PDFBuilder.
func NewBuilder() PDFBuilder {
	return &builderImpl{
		doc:   raw.NewDocument(),
		fonts: make(map[string]*fontResource),
		forms: make(map[string]raw.RefObj),
	}
}

type builderImpl struct {
	doc   *raw.Document
	pages []*pageBuilderImpl
	title string
	fonts map[string]*fontResource
	forms map[string]raw.RefObj
	built bool
	err   error
}

type pageBuilderImpl struct {
	parent   *builderImpl
	width    float64
	height   float64
	ops      []contentstream.Operation
	fonts    map[string]raw.RefObj
	xobjects map[string]raw.RefObj
	annots   []raw.Object
	cropBox  *coords.Rect
	rotate   int
}

// fontResource is one font used by the document.
type fontResource struct {
	resName  string
	baseFont string
	ref      raw.RefObj

	// TrueType fonts only
	data []byte
	prog *fonts.Program
	used map[uint32]rune
}

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &pageBuilderImpl{
		parent:   b,
		width:    w,
		height:   h,
		fonts:    make(map[string]raw.RefObj),
		xobjects: make(map[string]raw.RefObj),
	}
	b.pages = append(b.pages, p)
	return p
}

func (b *builderImpl) SetTitle(title string) PDFBuilder {
	b.title = title
	return b
}

func (b *builderImpl) RegisterTrueTypeFont(name string, data []byte) PDFBuilder {
	prog, err := fonts.ParseProgram(data)
	if err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("register %s: %w", name, err))
		return b
	}
	b.fonts[name] = &fontResource{
		resName:  fmt.Sprintf("F%d", len(b.fonts)+1),
		baseFont: name,
		ref:      b.doc.Add(raw.Dict()),
		data:     data,
		prog:     prog,
		used:     make(map[uint32]rune),
	}
	return b
}

// font returns the resource for name, creating standard fonts on first use.
func (b *builderImpl) font(name string) *fontResource {
	if name == "" {
		name = defaultBaseFont
	}
	if f, ok := b.fonts[name]; ok {
		return f
	}
	d := raw.Dict()
	d.Set("Type", raw.Name("Font"))
	d.Set("Subtype", raw.Name("Type1"))
	d.Set("BaseFont", raw.Name(name))
	d.Set("Encoding", raw.Name("WinAnsiEncoding"))
	widths := raw.NewArray()
	for c := 32; c <= 255; c++ {
		widths.Append(raw.Int(int64(fonts.StandardWidth(name, charmap.Windows1252.DecodeByte(byte(c))))))
	}
	d.Set("FirstChar", raw.Int(32))
	d.Set("LastChar", raw.Int(255))
	d.Set("Widths", widths)
	f := &fontResource{resName: fmt.Sprintf("F%d", len(b.fonts)+1), baseFont: name, ref: b.doc.Add(d)}
	b.fonts[name] = f
	return f
}

var winAnsi = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

// encode returns the string operand showing text in f.
func (f *fontResource) encode(text string) raw.StringObj {
	if f.prog == nil {
		s, err := winAnsi.String(text)
		if err != nil {
			s = text
		}
		return raw.StringObj{Bytes: []byte(s)}
	}
	var out []byte
	for _, r := range text {
		gid, ok := f.prog.GlyphIndex(r)
		if !ok {
			gid = 0
		}
		f.used[gid] = r
		out = append(out, byte(gid>>8), byte(gid))
	}
	return raw.StringObj{Bytes: out, Hex: true}
}

func (b *builderImpl) Bytes() ([]byte, error) {
	doc, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writer.Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *builderImpl) Build() (*raw.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.pages) == 0 {
		return nil, errors.New("builder: document has no pages")
	}
	doc := b.doc
	if b.built {
		return doc, nil
	}
	b.built = true
	for _, f := range b.fonts {
		if f.prog != nil {
			doc.Objects[f.ref.R] = b.type0Font(f)
		}
	}

	pages := raw.Dict()
	pages.Set("Type", raw.Name("Pages"))
	pagesRef := doc.Add(pages)
	kids := raw.NewArray()
	for _, p := range b.pages {
		kids.Append(doc.Add(p.build(pagesRef)))
	}
	pages.Set("Kids", kids)
	pages.Set("Count", raw.Int(int64(len(b.pages))))

	catalog := raw.Dict()
	catalog.Set("Type", raw.Name("Catalog"))
	catalog.Set("Pages", pagesRef)
	doc.Trailer.Set("Root", doc.Add(catalog))
	if b.title != "" {
		info := raw.Dict()
		info.Set("Title", raw.Str([]byte(b.title)))
		info.Set("Producer", raw.Str([]byte("pdfredact builder")))
		doc.Trailer.Set("Info", doc.Add(info))
	}
	return doc, nil
}

func (p *pageBuilderImpl) build(parent raw.RefObj) *raw.DictObj {
	doc := p.parent.doc
	page := raw.Dict()
	page.Set("Type", raw.Name("Page"))
	page.Set("Parent", parent)
	page.Set("MediaBox", raw.Numbers(0, 0, p.width, p.height))
	if p.cropBox != nil {
		c := *p.cropBox
		page.Set("CropBox", raw.Numbers(c.X1, c.Y1, c.X2, c.Y2))
	}
	if p.rotate != 0 {
		page.Set("Rotate", raw.Int(int64(p.rotate)))
	}
	res := raw.Dict()
	if len(p.fonts) > 0 {
		res.Set("Font", namedRefs(p.fonts))
	}
	if len(p.xobjects) > 0 {
		res.Set("XObject", namedRefs(p.xobjects))
	}
	page.Set("Resources", res)
	page.Set("Contents", doc.Add(raw.NewStream(raw.Dict(), contentstream.Serialize(p.ops))))
	if len(p.annots) > 0 {
		page.Set("Annots", raw.NewArray(p.annots...))
	}
	return page
}

func namedRefs(m map[string]raw.RefObj) *raw.DictObj {
	d := raw.Dict()
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		d.Set(n, m[n])
	}
	return d
}
