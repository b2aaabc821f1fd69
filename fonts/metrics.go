package fonts

import "strings"

// Advance widths of the printable ASCII range 0x20-0x7E for the standard
// 14 fonts, in 1/1000 em. Oblique and italic faces share the upright
// widths; the bold Times face uses the roman widths.
var helveticaWidths = [95]uint16{
	278, 278, 355, 556, 556, 889, 667, 222, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	222, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var helveticaBoldWidths = [95]uint16{
	278, 333, 474, 556, 556, 889, 722, 278, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
	975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
	278, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
	611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
}

var timesWidths = [95]uint16{
	250, 333, 408, 500, 500, 833, 778, 333, 333, 333, 500, 564, 250, 333, 250, 278,
	500, 500, 500, 500, 500, 500, 500, 500, 500, 500, 278, 278, 564, 564, 564, 444,
	921, 722, 667, 667, 722, 611, 556, 722, 722, 333, 389, 722, 611, 889, 722, 722,
	556, 722, 667, 556, 611, 722, 722, 944, 722, 722, 611, 333, 278, 333, 469, 500,
	333, 444, 500, 444, 500, 444, 333, 500, 500, 278, 278, 500, 278, 778, 500, 500,
	500, 500, 333, 389, 278, 500, 500, 722, 500, 500, 444, 480, 200, 480, 541,
}

// standardMetrics describes one of the standard 14 fonts.
type standardMetrics struct {
	widths    *[95]uint16
	fixed     uint16
	missing   uint16
	ascent    float64
	descent   float64
	capHeight float64
}

var (
	helveticaMetrics     = standardMetrics{widths: &helveticaWidths, missing: 556, ascent: 718, descent: -207, capHeight: 718}
	helveticaBoldMetrics = standardMetrics{widths: &helveticaBoldWidths, missing: 556, ascent: 718, descent: -207, capHeight: 718}
	timesMetrics         = standardMetrics{widths: &timesWidths, missing: 500, ascent: 683, descent: -217, capHeight: 662}
	courierMetrics       = standardMetrics{fixed: 600, missing: 600, ascent: 629, descent: -157, capHeight: 562}
	symbolMetrics        = standardMetrics{fixed: 500, missing: 500, ascent: 1010, descent: -293, capHeight: 673}
)

// lookupStandard finds metrics for a standard font name, tolerating subset
// prefixes ("ABCDEF+Helvetica") and the common Arial/TimesNewRoman aliases.
func lookupStandard(baseFont string) (standardMetrics, bool) {
	name := stripSubset(baseFont)
	name = strings.NewReplacer(",", "-", " ", "").Replace(name)
	family, style, _ := strings.Cut(name, "-")
	bold := strings.Contains(style, "Bold") || strings.HasSuffix(family, "Bold")
	switch strings.TrimSuffix(family, "Bold") {
	case "Helvetica", "Arial", "ArialMT":
		if bold {
			return helveticaBoldMetrics, true
		}
		return helveticaMetrics, true
	case "Times", "TimesNewRoman", "TimesNewRomanPS", "TimesNewRomanPSMT":
		return timesMetrics, true
	case "Courier", "CourierNew", "CourierNewPSMT":
		return courierMetrics, true
	case "Symbol", "ZapfDingbats":
		return symbolMetrics, true
	}
	return standardMetrics{}, false
}

func (m standardMetrics) width(r rune) float64 {
	if m.fixed != 0 {
		return float64(m.fixed)
	}
	switch r {
	case '’':
		r = '\''
	case '‘':
		r = '`'
	}
	if r >= 0x20 && r <= 0x7E {
		return float64(m.widths[r-0x20])
	}
	return float64(m.missing)
}

// StandardWidth returns the advance of r in the named standard font, in
// 1/1000 em.
func StandardWidth(baseFont string, r rune) float64 {
	return standardOrHelvetica(baseFont).width(r)
}

// StandardTextWidth is the advance of s in 1/1000 em.
func StandardTextWidth(baseFont, s string) float64 {
	total := 0.0
	for _, r := range s {
		total += StandardWidth(baseFont, r)
	}
	return total
}

func standardOrHelvetica(baseFont string) standardMetrics {
	if m, ok := lookupStandard(baseFont); ok {
		return m
	}
	return helveticaMetrics
}

// StandardAscent is the ascender of the named standard font in 1/1000 em.
func StandardAscent(baseFont string) float64 { return standardOrHelvetica(baseFont).ascent }

// StandardDescent is the (negative) descender in 1/1000 em.
func StandardDescent(baseFont string) float64 { return standardOrHelvetica(baseFont).descent }

func stripSubset(name string) string {
	if len(name) > 7 && name[6] == '+' {
		for _, c := range name[:6] {
			if c < 'A' || c > 'Z' {
				return name
			}
		}
		return name[7:]
	}
	return name
}
