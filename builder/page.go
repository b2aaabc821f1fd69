package builder

import (
	"fmt"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/ir/raw"
)

func (p *pageBuilderImpl) op(operator string, operands ...raw.Object) {
	p.ops = append(p.ops, contentstream.Op(operator, operands...))
}

func nums(vals ...float64) []raw.Object {
	out := make([]raw.Object, len(vals))
	for i, v := range vals {
		out[i] = raw.Float(v)
	}
	return out
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	p.ops = append(p.ops, p.textOps(text, x, y, opts, p.fonts)...)
	return p
}

// textOps emits one BT/ET object and registers its font in fontRes.
func (p *pageBuilderImpl) textOps(text string, x, y float64, opts TextOptions, fontRes map[string]raw.RefObj) []contentstream.Operation {
	f := p.parent.font(opts.Font)
	fontRes[f.resName] = f.ref
	size := opts.FontSize
	if size == 0 {
		size = defaultFontSize
	}
	ops := []contentstream.Operation{contentstream.Op("BT")}
	if opts.Color != (Color{}) {
		ops = append(ops, contentstream.Op("rg", nums(opts.Color.R, opts.Color.G, opts.Color.B)...))
	}
	ops = append(ops, contentstream.Op("Tf", raw.Name(f.resName), raw.Float(size)))
	if opts.CharSpacing != 0 {
		ops = append(ops, contentstream.Op("Tc", raw.Float(opts.CharSpacing)))
	}
	if opts.WordSpacing != 0 {
		ops = append(ops, contentstream.Op("Tw", raw.Float(opts.WordSpacing)))
	}
	if opts.HorizScaling != 0 && opts.HorizScaling != 100 {
		ops = append(ops, contentstream.Op("Tz", raw.Float(opts.HorizScaling)))
	}
	if opts.Rise != 0 {
		ops = append(ops, contentstream.Op("Ts", raw.Float(opts.Rise)))
	}
	if opts.RenderMode != 0 {
		ops = append(ops, contentstream.Op("Tr", raw.Int(int64(opts.RenderMode))))
	}
	ops = append(ops,
		contentstream.Op("Td", raw.Float(x), raw.Float(y)),
		contentstream.Op("Tj", f.encode(text)),
		contentstream.Op("ET"),
	)
	return ops
}

func (p *pageBuilderImpl) DrawFormText(key, text string, x, y float64, opts TextOptions) PageBuilder {
	b := p.parent
	ref, ok := b.forms[key]
	if !ok {
		fontRes := make(map[string]raw.RefObj)
		ops := p.textOps(text, x, y, opts, fontRes)
		res := raw.Dict()
		res.Set("Font", namedRefs(fontRes))
		d := raw.Dict()
		d.Set("Type", raw.Name("XObject"))
		d.Set("Subtype", raw.Name("Form"))
		d.Set("BBox", raw.Numbers(0, 0, p.width, p.height))
		d.Set("Resources", res)
		ref = b.doc.Add(raw.NewStream(d, contentstream.Serialize(ops)))
		b.forms[key] = ref
	}
	name := p.xobjectName(ref, "Fm")
	p.op("Do", raw.Name(name))
	return p
}

// xobjectName registers ref in the page resources under a fresh name.
func (p *pageBuilderImpl) xobjectName(ref raw.RefObj, prefix string) string {
	for name, r := range p.xobjects {
		if r == ref {
			return name
		}
	}
	name := fmt.Sprintf("%s%d", prefix, len(p.xobjects)+1)
	p.xobjects[name] = ref
	return name
}

func (p *pageBuilderImpl) DrawRectangle(x, y, w, h float64, opts RectOptions) PageBuilder {
	p.op("q")
	if opts.LineWidth > 0 {
		p.op("w", raw.Float(opts.LineWidth))
	}
	if opts.Fill || !opts.Stroke {
		c := opts.FillColor
		p.op("rg", nums(c.R, c.G, c.B)...)
	}
	if opts.Stroke {
		c := opts.StrokeColor
		p.op("RG", nums(c.R, c.G, c.B)...)
	}
	p.op("re", nums(x, y, w, h)...)
	switch {
	case opts.Fill && opts.Stroke:
		p.op("B")
	case opts.Stroke:
		p.op("S")
	default:
		p.op("f")
	}
	p.op("Q")
	return p
}

func (p *pageBuilderImpl) DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder {
	lw := opts.LineWidth
	if lw == 0 {
		lw = 1
	}
	c := opts.StrokeColor
	p.op("q")
	p.op("w", raw.Float(lw))
	p.op("RG", nums(c.R, c.G, c.B)...)
	p.op("m", nums(x1, y1)...)
	p.op("l", nums(x2, y2)...)
	p.op("S")
	p.op("Q")
	return p
}

// DrawImage paints a single-pixel gray image scaled to the given box.
func (p *pageBuilderImpl) DrawImage(x, y, w, h float64, opts ImageOptions) PageBuilder {
	p.op("q")
	p.op("cm", nums(w, 0, 0, h, x, y)...)
	if opts.Inline {
		d := raw.Dict()
		d.Set("W", raw.Int(1))
		d.Set("H", raw.Int(1))
		d.Set("CS", raw.Name("G"))
		d.Set("BPC", raw.Int(8))
		p.ops = append(p.ops, contentstream.Operation{Operator: "BI", Operands: []raw.Object{d}, Data: []byte{opts.Gray}})
	} else {
		d := raw.Dict()
		d.Set("Type", raw.Name("XObject"))
		d.Set("Subtype", raw.Name("Image"))
		d.Set("Width", raw.Int(1))
		d.Set("Height", raw.Int(1))
		d.Set("ColorSpace", raw.Name("DeviceGray"))
		d.Set("BitsPerComponent", raw.Int(8))
		ref := p.parent.doc.Add(raw.NewStream(d, []byte{opts.Gray}))
		p.op("Do", raw.Name(p.xobjectName(ref, "Im")))
	}
	p.op("Q")
	return p
}

func (p *pageBuilderImpl) AddAnnotation(subtype string, rect coords.Rect, contents string) PageBuilder {
	a := annotation(subtype, rect)
	if contents != "" {
		a.Set("Contents", raw.Str([]byte(contents)))
	}
	p.annots = append(p.annots, p.parent.doc.Add(a))
	return p
}

func (p *pageBuilderImpl) AddLink(rect coords.Rect, uri string) PageBuilder {
	a := annotation("Link", rect)
	action := raw.Dict()
	action.Set("S", raw.Name("URI"))
	action.Set("URI", raw.Str([]byte(uri)))
	a.Set("A", action)
	a.Set("Border", raw.Numbers(0, 0, 0))
	p.annots = append(p.annots, p.parent.doc.Add(a))
	return p
}

func annotation(subtype string, rect coords.Rect) *raw.DictObj {
	a := raw.Dict()
	a.Set("Type", raw.Name("Annot"))
	a.Set("Subtype", raw.Name(subtype))
	a.Set("Rect", raw.Numbers(rect.X1, rect.Y1, rect.X2, rect.Y2))
	return a
}

// Raw appends content stream operators. Content that does not parse is
// written out unchanged.
func (p *pageBuilderImpl) Raw(content string) PageBuilder {
	ops, err := contentstream.Parse([]byte(content))
	if err != nil {
		p.ops = append(p.ops, contentstream.Operation{Operator: content})
		return p
	}
	p.ops = append(p.ops, ops...)
	return p
}

func (p *pageBuilderImpl) SetCropBox(box coords.Rect) PageBuilder {
	p.cropBox = &box
	return p
}

func (p *pageBuilderImpl) SetRotation(degrees int) PageBuilder {
	p.rotate = degrees
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder {
	return p.parent
}
