// Package directives defines the typed commands recovered from assistant
// prose and the parser that extracts them from a text window.
//
// A directive is either a geometric annotation (highlight, circle, arrow,
// underline, text label, rectangle) or a page navigation. Geometry is
// normalized at construction time; a Directive value is immutable once built.
package directives

import (
	"fmt"
	"math"

	"github.com/docent-ai/docent/geom"
)

// Kind identifies the directive variant.
type Kind string

// Directive kinds.
const (
	KindHighlight Kind = "highlight"
	KindCircle    Kind = "circle"
	KindArrow     Kind = "arrow"
	KindUnderline Kind = "underline"
	KindTextLabel Kind = "textlabel"
	KindRectangle Kind = "rectangle"
	KindNavigate  Kind = "navigate"
)

// NavKind identifies how a navigation directive was expressed.
type NavKind string

// Navigation kinds.
const (
	NavAbsolute NavKind = "absolute"
	NavNext     NavKind = "next"
	NavPrev     NavKind = "prev"
	NavFirst    NavKind = "first"
	NavLast     NavKind = "last"
)

// LastPageSentinel is the target page of a "last page" navigation. The parser
// does not know the document's page count, so callers must clamp this against
// the true count before acting on it.
const LastPageSentinel = -1

// Origin records whether a directive was authored by the model or
// synthesized as a fallback.
type Origin string

// Directive origins.
const (
	OriginModel    Origin = "model"
	OriginFallback Origin = "fallback"
)

// DefaultColor is applied when the model omits a color.
const DefaultColor = "yellow"

// DefaultOpacity is applied to highlights when the model omits an opacity.
const DefaultOpacity = 0.35

// Directive is a single command recovered from assistant text. Which fields
// are meaningful depends on Kind.
type Directive struct {
	Kind Kind `json:"kind"`

	// Page is the 1-based page the shape belongs to. Always >= 1 for
	// geometric kinds.
	Page int `json:"page,omitempty"`

	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	// DX, DY are the arrow displacement from (X, Y).
	DX float64 `json:"dx,omitempty"`
	DY float64 `json:"dy,omitempty"`

	Color   string  `json:"color,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`

	// Content is the text of a label directive.
	Content string `json:"content,omitempty"`

	// Nav and TargetPage describe a navigation directive. TargetPage is
	// resolved against the page that was current at parse time, except for
	// NavLast which carries LastPageSentinel.
	Nav        NavKind `json:"nav,omitempty"`
	TargetPage int     `json:"target_page,omitempty"`

	// Origin distinguishes model-authored directives from synthesized
	// fallbacks for analytics and debugging.
	Origin Origin `json:"origin,omitempty"`
}

// Geometric reports whether the directive carries renderable geometry.
func (d Directive) Geometric() bool {
	return d.Kind != KindNavigate && d.Kind != ""
}

// Key returns the coarse fingerprint used for duplicate suppression within
// one turn: kind, page, and rounded position. Color and size are deliberately
// ignored: the model sometimes repeats a directive with cosmetic variation.
func (d Directive) Key() string {
	if d.Kind == KindNavigate {
		return fmt.Sprintf("%s|%d", d.Kind, d.TargetPage)
	}
	return fmt.Sprintf("%s|%d|%.0f|%.0f", d.Kind, d.Page, d.X, d.Y)
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func orDefault(color string) string {
	if color == "" {
		return DefaultColor
	}
	return color
}

// NewHighlight builds one or more highlight directives. A box taller than the
// single-line limit splits into stacked line-height boxes, so one HIGHLIGHT
// token can yield several directives.
func NewHighlight(page int, x, y, width, height float64, color string, opacity float64, b geom.PageBounds) []Directive {
	page = clampPage(page)
	if opacity <= 0 || opacity > 1 || math.IsNaN(opacity) {
		opacity = DefaultOpacity
	}
	rect := geom.NormalizeRect(x, y, width, height, b)

	var out []Directive
	for _, r := range geom.SplitLines(rect, b) {
		out = append(out, Directive{
			Kind:    KindHighlight,
			Page:    page,
			X:       r.X,
			Y:       r.Y,
			Width:   r.Width,
			Height:  r.Height,
			Color:   orDefault(color),
			Opacity: opacity,
			Origin:  OriginModel,
		})
	}
	return out
}

// NewCircle builds a circle directive with a bounded radius.
func NewCircle(page int, x, y, radius float64, color string, b geom.PageBounds) Directive {
	x, y = geom.ClampPoint(x, y, b)
	return Directive{
		Kind:   KindCircle,
		Page:   clampPage(page),
		X:      x,
		Y:      y,
		Radius: geom.ClampRadius(radius),
		Color:  orDefault(color),
		Origin: OriginModel,
	}
}

// NewArrow builds an arrow directive whose head stays on the page.
func NewArrow(page int, x, y, dx, dy float64, color string, b geom.PageBounds) Directive {
	x, y = geom.ClampPoint(x, y, b)
	dx, dy = geom.ClampVector(x, y, dx, dy, b)
	return Directive{
		Kind:   KindArrow,
		Page:   clampPage(page),
		X:      x,
		Y:      y,
		DX:     dx,
		DY:     dy,
		Color:  orDefault(color),
		Origin: OriginModel,
	}
}

// NewUnderline builds an underline directive. Underlines are one-dimensional:
// only the horizontal span is clamped.
func NewUnderline(page int, x, y, width float64, color string, b geom.PageBounds) Directive {
	rect := geom.NormalizeRect(x, y, width, geom.RaisedHeight, b)
	return Directive{
		Kind:   KindUnderline,
		Page:   clampPage(page),
		X:      rect.X,
		Y:      rect.Y,
		Width:  rect.Width,
		Color:  orDefault(color),
		Origin: OriginModel,
	}
}

// NewTextLabel builds a text label directive anchored at a clamped point.
func NewTextLabel(page int, x, y float64, content, color string, b geom.PageBounds) Directive {
	x, y = geom.ClampPoint(x, y, b)
	return Directive{
		Kind:    KindTextLabel,
		Page:    clampPage(page),
		X:       x,
		Y:       y,
		Content: content,
		Color:   orDefault(color),
		Origin:  OriginModel,
	}
}

// NewRectangle builds a rectangle directive. Rectangles are outlines, so they
// are clamped but never line-split.
func NewRectangle(page int, x, y, width, height float64, color string, b geom.PageBounds) Directive {
	rect := geom.NormalizeRect(x, y, width, height, b)
	return Directive{
		Kind:   KindRectangle,
		Page:   clampPage(page),
		X:      rect.X,
		Y:      rect.Y,
		Width:  rect.Width,
		Height: rect.Height,
		Color:  orDefault(color),
		Origin: OriginModel,
	}
}

// NewNavigate builds a navigation directive. Relative kinds resolve against
// currentPage; NavLast carries LastPageSentinel for the caller to clamp.
func NewNavigate(kind NavKind, currentPage, absolute int) Directive {
	d := Directive{Kind: KindNavigate, Nav: kind, Origin: OriginModel}
	switch kind {
	case NavAbsolute:
		d.TargetPage = clampPage(absolute)
	case NavNext:
		d.TargetPage = clampPage(currentPage + 1)
	case NavPrev:
		d.TargetPage = clampPage(currentPage - 1)
	case NavFirst:
		d.TargetPage = 1
	case NavLast:
		d.TargetPage = LastPageSentinel
	}
	return d
}
