package redact

import (
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/fonts"
	"github.com/wudi/pdfredact/ir/raw"
)

var winAnsi = encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

func op(operator string, operands ...float64) contentstream.Operation {
	objs := make([]raw.Object, len(operands))
	for i, v := range operands {
		objs[i] = raw.Float(v)
	}
	return contentstream.Op(operator, objs...)
}

// labelFont returns a font dictionary for the overlay label.
func labelFont(name string) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.Name("Font"))
	d.Set("Subtype", raw.Name("Type1"))
	d.Set("BaseFont", raw.Name(name))
	d.Set("Encoding", raw.Name("WinAnsiEncoding"))
	return d
}

// appearance draws the box, border and label of one region. fontRes is
// the resource name of the label font. A region cut by protected areas is
// filled piece by piece, without border or label.
func appearance(r coords.Rect, pieces []coords.Rect, overlay string, s AppearanceStyle, fontRes string) []contentstream.Operation {
	ops := []contentstream.Operation{
		contentstream.Op("q"),
		op("rg", s.BoxFillColor.R, s.BoxFillColor.G, s.BoxFillColor.B),
	}
	for _, p := range pieces {
		ops = append(ops, op("re", p.X1, p.Y1, p.Width(), p.Height()))
	}
	ops = append(ops, contentstream.Op("f"))
	if len(pieces) != 1 || pieces[0] != r {
		return append(ops, contentstream.Op("Q"))
	}
	if s.BorderWidth > 0 {
		// the border is drawn inside the region
		in := s.BorderWidth / 2
		ops = append(ops,
			op("w", s.BorderWidth),
			op("RG", s.BorderColor.R, s.BorderColor.G, s.BorderColor.B),
			op("re", r.X1+in, r.Y1+in, math.Max(r.Width()-s.BorderWidth, 0), math.Max(r.Height()-s.BorderWidth, 0)),
			contentstream.Op("S"),
		)
	}
	if s.DrawOverlayBox && overlay != "" {
		ops = append(ops, label(r, overlay, s, fontRes)...)
	}
	return append(ops, contentstream.Op("Q"))
}

// labelSize fits text into the region between the style's size bounds.
func labelSize(r coords.Rect, text string, s AppearanceStyle) float64 {
	width := fonts.StandardTextWidth(s.Font, text) / 1000
	height := (fonts.StandardAscent(s.Font) - fonts.StandardDescent(s.Font)) / 1000
	size := s.MaxFontSize
	if avail := r.Width() - 2*s.Padding; width > 0 {
		size = math.Min(size, avail/width)
	}
	if avail := r.Height() - 2*s.Padding; height > 0 {
		size = math.Min(size, avail/height)
	}
	return math.Max(size, s.MinFontSize)
}

// label draws text clipped to the region.
func label(r coords.Rect, text string, s AppearanceStyle, fontRes string) []contentstream.Operation {
	size := labelSize(r, text, s)
	width := fonts.StandardTextWidth(s.Font, text) / 1000 * size
	ascent := fonts.StandardAscent(s.Font) / 1000 * size
	descent := fonts.StandardDescent(s.Font) / 1000 * size

	var x float64
	switch s.HorizontalAlign {
	case AlignLeft:
		x = r.X1 + s.Padding
	case AlignRight:
		x = r.X2 - s.Padding - width
	default:
		x = r.X1 + (r.Width()-width)/2
	}
	var y float64
	switch s.VerticalAlign {
	case AlignTop:
		y = r.Y2 - s.Padding - ascent
	case AlignBottom:
		y = r.Y1 + s.Padding - descent
	default:
		y = r.Y1 + (r.Height()-(ascent-descent))/2 - descent
	}
	encoded, err := winAnsi.String(text)
	if err != nil {
		encoded = text
	}
	return []contentstream.Operation{
		op("re", r.X1, r.Y1, r.Width(), r.Height()),
		contentstream.Op("W"),
		contentstream.Op("n"),
		contentstream.Op("BT"),
		op("rg", s.TextColor.R, s.TextColor.G, s.TextColor.B),
		contentstream.Op("Tf", raw.Name(fontRes), raw.Float(size)),
		op("Td", x, y),
		contentstream.Op("Tj", raw.Str([]byte(encoded))),
		contentstream.Op("ET"),
	}
}
