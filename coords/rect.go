package coords

import "math"

// Rect is an axis-aligned rectangle in PDF user space (y grows upwards).
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NewRect returns the normalised rectangle spanned by two corners.
func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}.Normalize()
}

// Normalize orders the corners so that X1 <= X2 and Y1 <= Y2.
func (r Rect) Normalize() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

func (r Rect) Width() float64  { return r.X2 - r.X1 }
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }
func (r Rect) Area() float64   { return math.Max(0, r.Width()) * math.Max(0, r.Height()) }
func (r Rect) Empty() bool     { return r.X2 <= r.X1 || r.Y2 <= r.Y1 }

func (r Rect) Center() Point { return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2} }

// Intersect returns the overlap of r and o; the result is Empty when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X1: math.Max(r.X1, o.X1), Y1: math.Max(r.Y1, o.Y1),
		X2: math.Min(r.X2, o.X2), Y2: math.Min(r.Y2, o.Y2),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Overlaps reports whether r and o share an area greater than zero.
func (r Rect) Overlaps(o Rect) bool {
	return r.X1 < o.X2 && o.X1 < r.X2 && r.Y1 < o.Y2 && o.Y1 < r.Y2
}

// Touches reports whether r and o have any point in common, borders included.
func (r Rect) Touches(o Rect) bool {
	return !(o.X1 > r.X2 || o.X2 < r.X1 || o.Y1 > r.Y2 || o.Y2 < r.Y1)
}

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X1: math.Min(r.X1, o.X1), Y1: math.Min(r.Y1, o.Y1),
		X2: math.Max(r.X2, o.X2), Y2: math.Max(r.Y2, o.Y2),
	}
}

// Contains reports whether o lies completely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X1 >= r.X1 && o.X2 <= r.X2 && o.Y1 >= r.Y1 && o.Y2 <= r.Y2
}

func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.X1 && p.X <= r.X2 && p.Y >= r.Y1 && p.Y <= r.Y2
}

// Subtract returns up to four rectangles covering r minus o.
func (r Rect) Subtract(o Rect) []Rect {
	cut := r.Intersect(o)
	if cut.Empty() {
		return []Rect{r}
	}
	var out []Rect
	if cut.Y2 < r.Y2 {
		out = append(out, Rect{X1: r.X1, Y1: cut.Y2, X2: r.X2, Y2: r.Y2})
	}
	if cut.Y1 > r.Y1 {
		out = append(out, Rect{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: cut.Y1})
	}
	if cut.X1 > r.X1 {
		out = append(out, Rect{X1: r.X1, Y1: cut.Y1, X2: cut.X1, Y2: cut.Y2})
	}
	if cut.X2 < r.X2 {
		out = append(out, Rect{X1: cut.X2, Y1: cut.Y1, X2: r.X2, Y2: cut.Y2})
	}
	return out
}

// Quad returns the four corners of r, counter-clockwise from the lower left.
func (r Rect) Quad() Quad {
	return Quad{
		{X: r.X1, Y: r.Y1}, {X: r.X2, Y: r.Y1},
		{X: r.X2, Y: r.Y2}, {X: r.X1, Y: r.Y2},
	}
}

// Transform maps r through m and returns the bounding box of the image.
func (r Rect) Transform(m Matrix) Rect {
	return r.Quad().Transform(m).Bounds()
}

// Quad is a quadrilateral given by four corner points. PDF QuadPoints order
// is not assumed; consumers reduce it with Bounds.
type Quad [4]Point

// QuadFromCoords builds a quad from 8 numbers x1 y1 ... x4 y4.
func QuadFromCoords(c [8]float64) Quad {
	return Quad{{c[0], c[1]}, {c[2], c[3]}, {c[4], c[5]}, {c[6], c[7]}}
}

// Coords returns the 8-number form of q.
func (q Quad) Coords() [8]float64 {
	return [8]float64{q[0].X, q[0].Y, q[1].X, q[1].Y, q[2].X, q[2].Y, q[3].X, q[3].Y}
}

func (q Quad) Transform(m Matrix) Quad {
	var out Quad
	for i, p := range q {
		out[i] = m.Transform(p)
	}
	return out
}

// Bounds reduces q to its axis-aligned bounding rectangle (min/max of x and y).
func (q Quad) Bounds() Rect {
	return BoundsOf(q[:]...)
}

// BoundsOf returns the bounding rectangle of the given points.
func BoundsOf(points ...Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X1: minX, Y1: minY, X2: maxX, Y2: maxY}
}
