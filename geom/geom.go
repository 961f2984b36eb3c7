// Package geom normalizes raw annotation geometry to a page coordinate space.
//
// Geometry arrives from a language model and cannot be trusted to respect
// page bounds. Every operation here is total: out-of-range input is corrected,
// never rejected, because dropping an annotation costs more than rendering a
// slightly misplaced one.
package geom

import "math"

// Standard single-page dimensions in page units.
const (
	DefaultPageWidth  = 612.0
	DefaultPageHeight = 792.0
)

// Normalization constants.
const (
	// MarginReserve keeps at least this much of a shape visible inside the page.
	MarginReserve = 20.0

	// MinSpan is the minimum width/height of any shape.
	MinSpan = 10.0

	// LineHeight is the text line grid used for vertical snapping and for
	// splitting tall highlights into per-line boxes.
	LineHeight = 22.0

	// MaxSingleHeight is the tallest box rendered as a single shape. Anything
	// taller is split into stacked LineHeight boxes.
	MaxSingleHeight = 40.0

	// MinLegibleHeight and RaisedHeight: boxes shorter than the former are
	// raised to the latter.
	MinLegibleHeight = 12.0
	RaisedHeight     = 16.0

	// Circle radius limits.
	MinRadius = 5.0
	MaxRadius = 100.0
)

// PageBounds describes the coordinate space of a single page.
type PageBounds struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultBounds returns the standard 612x792 page.
func DefaultBounds() PageBounds {
	return PageBounds{Width: DefaultPageWidth, Height: DefaultPageHeight}
}

func (b PageBounds) sane() PageBounds {
	if !(b.Width > 0) || !(b.Height > 0) {
		return DefaultBounds()
	}
	return b
}

// Rect is an axis-aligned box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// sanitize coerces NaN and infinities to zero so the clamping math below
// behaves over the full float64 domain.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPoint clamps a point so a shape anchored at it keeps MarginReserve
// units visible inside the page.
func ClampPoint(x, y float64, b PageBounds) (float64, float64) {
	b = b.sane()
	x = clamp(sanitize(x), 0, b.Width-MarginReserve)
	y = clamp(sanitize(y), 0, b.Height-MarginReserve)
	return x, y
}

// SnapToLine snaps y to the nearest multiple of the line grid, re-clamped so
// snapping can never push a shape off the page.
func SnapToLine(y float64, b PageBounds) float64 {
	b = b.sane()
	snapped := math.Round(sanitize(y)/LineHeight) * LineHeight
	return clamp(snapped, 0, b.Height-MarginReserve)
}

// NormalizeRect applies the full normalization sequence to a box:
// point clamping, span clamping against the page edge, minimum legibility,
// and vertical grid snapping. Tall-box splitting is a separate step
// (SplitLines) because only highlight-like shapes split.
func NormalizeRect(x, y, width, height float64, b PageBounds) Rect {
	b = b.sane()
	x, y = ClampPoint(x, y, b)
	y = SnapToLine(y, b)

	width = sanitize(width)
	height = sanitize(height)
	if width < MinSpan {
		width = MinSpan
	}
	if height < MinSpan {
		height = MinSpan
	}
	if height < MinLegibleHeight {
		height = RaisedHeight
	}
	if x+width > b.Width {
		width = b.Width - x
	}
	if y+height > b.Height {
		height = b.Height - y
	}

	return Rect{X: x, Y: y, Width: width, Height: height}
}

// SplitLines splits a box taller than MaxSingleHeight into stacked LineHeight
// boxes, the last truncated to the remainder. This models one-highlight-per-
// text-line rendering: a single oversized box would obscure unrelated content.
// Remainder boxes keep their exact height so the pieces always sum to the
// original.
func SplitLines(r Rect, b PageBounds) []Rect {
	if r.Height <= MaxSingleHeight {
		return []Rect{r}
	}
	b = b.sane()

	var out []Rect
	remaining := r.Height
	y := r.Y
	for remaining > 0 && y < b.Height {
		h := math.Min(LineHeight, remaining)
		out = append(out, Rect{X: r.X, Y: y, Width: r.Width, Height: h})
		remaining -= h
		y += LineHeight
	}
	return out
}

// ClampRadius bounds a circle radius to [MinRadius, MaxRadius].
func ClampRadius(r float64) float64 {
	return clamp(sanitize(r), MinRadius, MaxRadius)
}

// ClampVector bounds an arrow displacement so the arrow head stays on the
// page when anchored at (x, y).
func ClampVector(x, y, dx, dy float64, b PageBounds) (float64, float64) {
	b = b.sane()
	dx = clamp(sanitize(dx), -x, b.Width-x)
	dy = clamp(sanitize(dy), -y, b.Height-y)
	return dx, dy
}
