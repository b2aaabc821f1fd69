// Package redact maps search matches to page regions, merges them and
// applies them to a document.
package redact

import (
	"slices"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/extractor"
	"github.com/wudi/pdfredact/search"
)

// Region is an area of one page to redact, or to protect when Negative.
type Region struct {
	PageIndex   int
	Rect        coords.Rect
	OverlayText string
	Negative    bool
	// Sources names the specs that produced the region.
	Sources []string
	// Text is the matched text the region covers.
	Text string
}

// MapToRegions returns one region per run the span touches. The rectangle
// bounds the boxes of the matched glyphs of that run; a span that only
// covers separators or synthetic spaces yields nothing.
func MapToRegions(pt *extractor.PageText, span search.MatchSpan, overlayText string) []Region {
	var out []Region
	for _, run := range pt.RunsIn(span.Start, span.End) {
		var box coords.Rect
		first, last := -1, -1
		for i, g := range run.Glyphs {
			if g.Start >= span.End || g.End <= span.Start {
				continue
			}
			if first < 0 {
				box = g.Box
				first = i
			} else {
				box = box.Union(g.Box)
			}
			last = i
		}
		if first < 0 {
			continue
		}
		out = append(out, Region{
			PageIndex:   pt.PageIndex,
			Rect:        box.Normalize(),
			OverlayText: overlayText,
			Negative:    span.Spec.Exclude,
			Sources:     []string{span.Spec.Label()},
			Text:        pt.Flattened[run.Glyphs[first].Start:run.Glyphs[last].End],
		})
	}
	return out
}

func mergeable(a, b Region) bool {
	return a.PageIndex == b.PageIndex &&
		a.OverlayText == b.OverlayText &&
		a.Negative == b.Negative &&
		a.Rect.Overlaps(b.Rect)
}

func merge(a, b Region) Region {
	a.Rect = a.Rect.Union(b.Rect)
	a.Sources = slices.Clone(a.Sources)
	for _, s := range b.Sources {
		if !slices.Contains(a.Sources, s) {
			a.Sources = append(a.Sources, s)
		}
	}
	if b.Text != "" && b.Text != a.Text {
		if a.Text == "" {
			a.Text = b.Text
		} else {
			a.Text += " " + b.Text
		}
	}
	return a
}

// Plan merges overlapping regions of the same page, overlay text and
// negative flag until no two such regions overlap. A merged region takes
// the position of its first member; the input is not modified.
func Plan(regions []Region) []Region {
	out := slices.Clone(regions)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); {
				if !mergeable(out[i], out[j]) {
					j++
					continue
				}
				out[i] = merge(out[i], out[j])
				out = slices.Delete(out, j, j+1)
				changed = true
			}
		}
	}
	return out
}
