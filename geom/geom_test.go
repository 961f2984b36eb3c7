package geom

import (
	"math"
	"testing"
)

func TestNormalizeRect_BoundsInvariant(t *testing.T) {
	b := DefaultBounds()

	tests := []struct {
		name       string
		x, y, w, h float64
	}{
		{"in range", 100, 200, 300, 30},
		{"x far off page", 999999, 200, 300, 30},
		{"negative origin", -500, -500, 100, 30},
		{"oversized span", 10, 10, 100000, 30},
		{"zero span", 50, 50, 0, 0},
		{"negative span", 50, 50, -40, -40},
		{"nan input", math.NaN(), math.NaN(), math.NaN(), math.NaN()},
		{"inf input", math.Inf(1), math.Inf(-1), math.Inf(1), 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NormalizeRect(tt.x, tt.y, tt.w, tt.h, b)

			if r.X < 0 || r.X > b.Width-MarginReserve {
				t.Errorf("x out of range: %v", r.X)
			}
			if r.Y < 0 || r.Y > b.Height-MarginReserve {
				t.Errorf("y out of range: %v", r.Y)
			}
			if r.Width <= 0 || r.Height <= 0 {
				t.Errorf("non-positive span: %vx%v", r.Width, r.Height)
			}
			if r.X+r.Width > b.Width {
				t.Errorf("right edge past page: %v", r.X+r.Width)
			}
			if r.Y+r.Height > b.Height {
				t.Errorf("bottom edge past page: %v", r.Y+r.Height)
			}
		})
	}
}

func TestNormalizeRect_SnapsToLineGrid(t *testing.T) {
	r := NormalizeRect(100, 205, 300, 30, DefaultBounds())
	if math.Mod(r.Y, LineHeight) != 0 {
		t.Errorf("y %v not on %v grid", r.Y, LineHeight)
	}
	if r.Y != 198 {
		t.Errorf("expected y snapped to 198, got %v", r.Y)
	}
}

func TestNormalizeRect_RaisesShortBoxes(t *testing.T) {
	r := NormalizeRect(100, 220, 300, 5, DefaultBounds())
	if r.Height != RaisedHeight {
		t.Errorf("expected height %v, got %v", RaisedHeight, r.Height)
	}
}

func TestSplitLines(t *testing.T) {
	b := DefaultBounds()

	t.Run("height 88 splits into four 22-unit lines", func(t *testing.T) {
		pieces := SplitLines(Rect{X: 100, Y: 110, Width: 300, Height: 88}, b)
		if len(pieces) != 4 {
			t.Fatalf("expected 4 pieces, got %d", len(pieces))
		}
		var sum float64
		for i, p := range pieces {
			sum += p.Height
			wantY := 110 + float64(i)*LineHeight
			if p.Y != wantY {
				t.Errorf("piece %d: y = %v, want %v", i, p.Y, wantY)
			}
			if p.X != 100 || p.Width != 300 {
				t.Errorf("piece %d: x/width changed: %+v", i, p)
			}
		}
		if sum != 88 {
			t.Errorf("piece heights sum to %v, want 88", sum)
		}
	})

	t.Run("remainder truncates last piece", func(t *testing.T) {
		pieces := SplitLines(Rect{X: 0, Y: 0, Width: 100, Height: 50}, b)
		if len(pieces) != 3 {
			t.Fatalf("expected 3 pieces, got %d", len(pieces))
		}
		if pieces[2].Height != 6 {
			t.Errorf("last piece height = %v, want 6", pieces[2].Height)
		}
	})

	t.Run("short box passes through untouched", func(t *testing.T) {
		r := Rect{X: 10, Y: 22, Width: 50, Height: 30}
		pieces := SplitLines(r, b)
		if len(pieces) != 1 || pieces[0] != r {
			t.Errorf("expected single untouched piece, got %+v", pieces)
		}
	})
}

func TestClampRadius(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{50, 50},
		{0, MinRadius},
		{-10, MinRadius},
		{5000, MaxRadius},
		{math.NaN(), MinRadius},
	}
	for _, tt := range tests {
		if got := ClampRadius(tt.in); got != tt.want {
			t.Errorf("ClampRadius(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampVector(t *testing.T) {
	b := DefaultBounds()
	dx, dy := ClampVector(600, 10, 500, -300, b)
	if 600+dx > b.Width {
		t.Errorf("arrow head past right edge: %v", 600+dx)
	}
	if 10+dy < 0 {
		t.Errorf("arrow head above page: %v", 10+dy)
	}
}

func TestPageBounds_InvalidFallsBackToDefault(t *testing.T) {
	r := NormalizeRect(100, 100, 50, 20, PageBounds{})
	if r.X != 100 {
		t.Errorf("expected default bounds to apply, got %+v", r)
	}
}
