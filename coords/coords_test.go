package coords

import (
	"math"
	"testing"
)

func TestMatrixInverseRoundTrip(t *testing.T) {
	m := Matrix{2, 0, 0, 3, 10, 20}
	inv, err := m.Inverse()
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	p := m.Transform(Point{X: 5, Y: 7})
	back := inv.Transform(p)
	if math.Abs(back.X-5) > 1e-9 || math.Abs(back.Y-7) > 1e-9 {
		t.Fatalf("round trip got %+v", back)
	}
	if _, err := (Matrix{}).Inverse(); err == nil {
		t.Fatalf("expected singular matrix error")
	}
}

func TestMatrixAxisAligned(t *testing.T) {
	cases := []struct {
		m    Matrix
		want bool
	}{
		{Identity(), true},
		{Scale(2, -1), true},
		{Rotate(math.Pi / 2), true},
		{Rotate(math.Pi / 4), false},
		{Matrix{1, 0.5, 0, 1, 0, 0}, false},
	}
	for i, tc := range cases {
		if got := tc.m.AxisAligned(); got != tc.want {
			t.Errorf("case %d: AxisAligned=%v want %v", i, got, tc.want)
		}
	}
}

func TestQuadBoundsNormalised(t *testing.T) {
	q := QuadFromCoords([8]float64{10, 5, 2, 5, 2, 1, 10, 1})
	r := q.Bounds()
	if r.X1 > r.X2 || r.Y1 > r.Y2 {
		t.Fatalf("bounds not normalised: %+v", r)
	}
	if r != (Rect{X1: 2, Y1: 1, X2: 10, Y2: 5}) {
		t.Fatalf("unexpected bounds %+v", r)
	}
}

func TestRectOverlapsRequiresArea(t *testing.T) {
	a := Rect{0, 0, 10, 10}
	if !a.Overlaps(Rect{5, 5, 15, 15}) {
		t.Fatalf("expected overlap")
	}
	if a.Overlaps(Rect{10, 0, 20, 10}) {
		t.Fatalf("shared edge must not count as overlap")
	}
	if !a.Touches(Rect{10, 0, 20, 10}) {
		t.Fatalf("shared edge should touch")
	}
}

func TestRectSubtract(t *testing.T) {
	r := Rect{0, 0, 10, 10}
	parts := r.Subtract(Rect{2, 2, 4, 4})
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	area := 0.0
	for _, p := range parts {
		if p.Overlaps(Rect{2, 2, 4, 4}) {
			t.Fatalf("part %+v overlaps the hole", p)
		}
		area += p.Area()
	}
	if math.Abs(area-96) > 1e-9 {
		t.Fatalf("area = %v, want 96", area)
	}
	if got := r.Subtract(Rect{-1, -1, 11, 11}); len(got) != 0 {
		t.Fatalf("full cover should leave nothing, got %v", got)
	}
	if got := r.Subtract(Rect{20, 20, 30, 30}); len(got) != 1 || got[0] != r {
		t.Fatalf("disjoint subtract should return r, got %v", got)
	}
}
