package editor

import "github.com/wudi/pdfredact/coords"

// maxTreeDepth stops subdivision for degenerate, point-sized rectangles.
const maxTreeDepth = 12

// QuadTree implements a spatial index for rectangles.
type QuadTree struct {
	Bounds   coords.Rect
	Capacity int
	Points   []PointData
	Nodes    []*QuadTree
	depth    int
}

type PointData struct {
	Rect  coords.Rect
	Index int
}

func NewQuadTree(bounds coords.Rect, capacity int) *QuadTree {
	return &QuadTree{
		Bounds:   bounds,
		Capacity: capacity,
		Points:   make([]PointData, 0, capacity),
	}
}

func (qt *QuadTree) Insert(rect coords.Rect, index int) bool {
	if !qt.Bounds.Touches(rect) {
		return false
	}

	if qt.Nodes != nil {
		for _, node := range qt.Nodes {
			if node.Bounds.Contains(rect) {
				if node.Insert(rect, index) {
					return true
				}
			}
		}
	}

	if qt.Nodes == nil {
		if len(qt.Points) < qt.Capacity || qt.depth >= maxTreeDepth {
			qt.Points = append(qt.Points, PointData{Rect: rect, Index: index})
			return true
		}
		qt.subdivide()
		old := qt.Points
		qt.Points = make([]PointData, 0, qt.Capacity)
		for _, p := range old {
			qt.Insert(p.Rect, p.Index)
		}
		return qt.Insert(rect, index)
	}

	// straddles children
	qt.Points = append(qt.Points, PointData{Rect: rect, Index: index})
	return true
}

func (qt *QuadTree) subdivide() {
	b := qt.Bounds
	mid := b.Center()
	qt.Nodes = []*QuadTree{
		NewQuadTree(coords.Rect{X1: b.X1, Y1: mid.Y, X2: mid.X, Y2: b.Y2}, qt.Capacity),
		NewQuadTree(coords.Rect{X1: mid.X, Y1: mid.Y, X2: b.X2, Y2: b.Y2}, qt.Capacity),
		NewQuadTree(coords.Rect{X1: b.X1, Y1: b.Y1, X2: mid.X, Y2: mid.Y}, qt.Capacity),
		NewQuadTree(coords.Rect{X1: mid.X, Y1: b.Y1, X2: b.X2, Y2: mid.Y}, qt.Capacity),
	}
	for _, n := range qt.Nodes {
		n.depth = qt.depth + 1
	}
}

// Query returns the indexes of rectangles touching r.
func (qt *QuadTree) Query(r coords.Rect) []int {
	var found []int
	if !qt.Bounds.Touches(r) {
		return found
	}
	for _, p := range qt.Points {
		if p.Rect.Touches(r) {
			found = append(found, p.Index)
		}
	}
	for _, node := range qt.Nodes {
		found = append(found, node.Query(r)...)
	}
	return found
}
