package editor

import (
	"sort"

	"github.com/wudi/pdfredact/contentstream"
	"github.com/wudi/pdfredact/coords"
)

// OpSpatialIndex indexes traced operations by their page-space bounds.
type OpSpatialIndex struct {
	tree  *QuadTree
	items []*contentstream.Item
}

func NewOpSpatialIndex(items []*contentstream.Item) *OpSpatialIndex {
	var bounds coords.Rect
	first := true
	for _, it := range items {
		if it.Bounds.Empty() {
			continue
		}
		if first {
			bounds, first = it.Bounds, false
			continue
		}
		bounds = bounds.Union(it.Bounds)
	}
	idx := &OpSpatialIndex{tree: NewQuadTree(bounds, 10), items: items}
	for i, it := range items {
		if !it.Bounds.Empty() {
			idx.tree.Insert(it.Bounds, i)
		}
	}
	return idx
}

// Query returns the items whose bounds overlap r with positive area, in
// drawing order.
func (idx *OpSpatialIndex) Query(r coords.Rect) []*contentstream.Item {
	hits := idx.tree.Query(r)
	sort.Ints(hits)
	var out []*contentstream.Item
	for i, h := range hits {
		if i > 0 && hits[i-1] == h {
			continue
		}
		if it := idx.items[h]; it.Bounds.Overlaps(r) {
			out = append(out, it)
		}
	}
	return out
}
