package directives

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/docent-ai/docent/geom"
)

// The parser is strictly textual: a directive is complete iff its opening and
// closing brackets are both inside the scanned window. Matching is an ordered
// list of (pattern, builder) pairs; the first pattern covering a span wins.
// Tokens that look like directives but have unusable fields are stripped from
// the residual text and dropped silently, since model output is noisy and a
// malformed token is a formatting slip, not an error.

const num = `(-?\d+(?:\.\d+)?)`

// colorTail optionally matches a trailing color, with or without a key= and
// quotes: `yellow`, `"yellow"`, `color=yellow`, `color="#ff0"`.
const colorTail = `(?:\s+(?:color\s*=\s*)?"?([#\w-]+)"?)?`

type builder func(m []string, currentPage int, b geom.PageBounds) []Directive

type pattern struct {
	re    *regexp.Regexp
	build builder
}

// patterns is evaluated in order; geometric grammars first (space-separated,
// then colon-separated), then the generic key=value form, then navigation.
var patterns = []pattern{
	// [HIGHLIGHT page x y width height color?]
	{
		re:    regexp.MustCompile(`(?i)\[HIGHLIGHT\s+(\d+)\s+` + num + `\s+` + num + `\s+` + num + `\s+` + num + colorTail + `\s*\]`),
		build: buildHighlight,
	},
	// [HIGHLIGHT: page, x, y, width, height, color?]
	{
		re:    regexp.MustCompile(`(?i)\[HIGHLIGHT:\s*(\d+)\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `(?:\s*,\s*"?([#\w-]+)"?)?\s*\]`),
		build: buildHighlight,
	},
	// [CIRCLE page x y radius color?]
	{
		re:    regexp.MustCompile(`(?i)\[CIRCLE\s+(\d+)\s+` + num + `\s+` + num + `\s+` + num + colorTail + `\s*\]`),
		build: buildCircle,
	},
	// [CIRCLE: page, x, y, radius, color?]
	{
		re:    regexp.MustCompile(`(?i)\[CIRCLE:\s*(\d+)\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `(?:\s*,\s*"?([#\w-]+)"?)?\s*\]`),
		build: buildCircle,
	},
	// [ARROW page x y dx dy color?]
	{
		re:    regexp.MustCompile(`(?i)\[ARROW\s+(\d+)\s+` + num + `\s+` + num + `\s+` + num + `\s+` + num + colorTail + `\s*\]`),
		build: buildArrow,
	},
	// [ARROW: page, x, y, dx, dy, color?]
	{
		re:    regexp.MustCompile(`(?i)\[ARROW:\s*(\d+)\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `(?:\s*,\s*"?([#\w-]+)"?)?\s*\]`),
		build: buildArrow,
	},
	// [UNDERLINE page x y width color?]
	{
		re:    regexp.MustCompile(`(?i)\[UNDERLINE\s+(\d+)\s+` + num + `\s+` + num + `\s+` + num + colorTail + `\s*\]`),
		build: buildUnderline,
	},
	// [UNDERLINE: page, x, y, width, color?]
	{
		re:    regexp.MustCompile(`(?i)\[UNDERLINE:\s*(\d+)\s*,\s*` + num + `\s*,\s*` + num + `\s*,\s*` + num + `(?:\s*,\s*"?([#\w-]+)"?)?\s*\]`),
		build: buildUnderline,
	},
	// [LABEL page x y "content" color?]. TEXT accepted as an alias.
	{
		re:    regexp.MustCompile(`(?i)\[(?:LABEL|TEXT)\s+(\d+)\s+` + num + `\s+` + num + `\s+"([^"]*)"` + colorTail + `\s*\]`),
		build: buildLabel,
	},
	// [RECT page x y width height color?]. RECTANGLE accepted as an alias.
	{
		re:    regexp.MustCompile(`(?i)\[RECT(?:ANGLE)?\s+(\d+)\s+` + num + `\s+` + num + `\s+` + num + `\s+` + num + colorTail + `\s*\]`),
		build: buildRectangle,
	},
	// Generic key=value form for any geometric verb, e.g.
	// [HIGHLIGHT page=1 x=100 y=200 width=300 height=50 color="yellow"].
	{
		re:    regexp.MustCompile(`(?i)\[(HIGHLIGHT|CIRCLE|ARROW|UNDERLINE|LABEL|TEXT|RECT|RECTANGLE)((?:\s+\w+\s*=\s*"?[-\w#.]+"?)+)\s*\]`),
		build: buildKeyValue,
	},
	// Navigation.
	{
		re:    regexp.MustCompile(`(?i)\[(?:GO\s*TO\s+PAGE|GOTO|PAGE)\s+(\d+)\s*\]`),
		build: buildGoto,
	},
	{
		re:    regexp.MustCompile(`(?i)\[NEXT(?:\s+PAGE)?\s*\]`),
		build: navBuilder(NavNext),
	},
	{
		re:    regexp.MustCompile(`(?i)\[PREV(?:IOUS)?(?:\s+PAGE)?\s*\]`),
		build: navBuilder(NavPrev),
	},
	{
		re:    regexp.MustCompile(`(?i)\[FIRST\s+PAGE\s*\]`),
		build: navBuilder(NavFirst),
	},
	{
		re:    regexp.MustCompile(`(?i)\[LAST\s+PAGE\s*\]`),
		build: navBuilder(NavLast),
	},
}

// scrub removes complete tokens that name a known verb but did not parse
// under any grammar, so malformed slips never reach the viewer.
var scrub = regexp.MustCompile(`(?i)\[(?:HIGHLIGHT|CIRCLE|ARROW|UNDERLINE|LABEL|TEXT|RECT|RECTANGLE|GO\s*TO|GOTO|NEXT|PREV|PREVIOUS|FIRST|LAST|PAGE)\b[^\[\]]*\]`)

var spaceRuns = regexp.MustCompile(`[ \t]{2,}`)

// Parse scans text for complete directive tokens. It returns the directives
// in text order, each normalized to the given page bounds, and the residual
// text with every matched or malformed token removed and whitespace
// collapsed. currentPage anchors relative navigation; Parse never learns the
// document's total page count.
func Parse(text string, currentPage int, b geom.PageBounds) ([]Directive, string) {
	type span struct {
		start, end int
		m          []string
		build      builder
	}

	var spans []span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			m := make([]string, 0, len(loc)/2)
			for i := 0; i < len(loc); i += 2 {
				if loc[i] < 0 {
					m = append(m, "")
				} else {
					m = append(m, text[loc[i]:loc[i+1]])
				}
			}
			spans = append(spans, span{start: loc[0], end: loc[1], m: m, build: p.build})
		}
	}

	// Text order, earlier pattern wins on overlap.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}

	var out []Directive
	var kept []span
	prevEnd := -1
	for _, s := range spans {
		if s.start < prevEnd {
			continue
		}
		ds := s.build(s.m, currentPage, b)
		if ds == nil {
			continue // unusable fields: drop token silently
		}
		out = append(out, ds...)
		kept = append(kept, s)
		prevEnd = s.end
		// A navigation directive moves the anchor for subsequent
		// relative navigation inside the same window.
		for _, d := range ds {
			if d.Kind == KindNavigate && d.TargetPage > 0 {
				currentPage = d.TargetPage
			}
		}
	}

	var sb strings.Builder
	last := 0
	for _, s := range kept {
		sb.WriteString(text[last:s.start])
		last = s.end
	}
	sb.WriteString(text[last:])

	residual := scrub.ReplaceAllString(sb.String(), " ")
	residual = spaceRuns.ReplaceAllString(residual, " ")
	return out, residual
}

func f(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func atoi(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func buildHighlight(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	w, ok4 := f(m[4])
	h, ok5 := f(m[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil
	}
	return NewHighlight(page, x, y, w, h, m[6], 0, b)
}

func buildCircle(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	r, ok4 := f(m[4])
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil
	}
	return []Directive{NewCircle(page, x, y, r, m[5], b)}
}

func buildArrow(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	dx, ok4 := f(m[4])
	dy, ok5 := f(m[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil
	}
	return []Directive{NewArrow(page, x, y, dx, dy, m[6], b)}
}

func buildUnderline(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	w, ok4 := f(m[4])
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil
	}
	return []Directive{NewUnderline(page, x, y, w, m[5], b)}
}

func buildLabel(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	if !(ok1 && ok2 && ok3) {
		return nil
	}
	return []Directive{NewTextLabel(page, x, y, m[4], m[5], b)}
}

func buildRectangle(m []string, _ int, b geom.PageBounds) []Directive {
	page, ok1 := atoi(m[1])
	x, ok2 := f(m[2])
	y, ok3 := f(m[3])
	w, ok4 := f(m[4])
	h, ok5 := f(m[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil
	}
	return []Directive{NewRectangle(page, x, y, w, h, m[6], b)}
}

var kvPair = regexp.MustCompile(`(\w+)\s*=\s*"?([-\w#.]+)"?`)

// buildKeyValue handles the order-independent key=value surface syntax for
// every geometric verb.
func buildKeyValue(m []string, _ int, b geom.PageBounds) []Directive {
	verb := strings.ToUpper(m[1])
	fields := map[string]string{}
	for _, kv := range kvPair.FindAllStringSubmatch(m[2], -1) {
		fields[strings.ToLower(kv[1])] = kv[2]
	}

	page, ok := atoi(fields["page"])
	if !ok {
		return nil
	}
	x, okX := f(fields["x"])
	y, okY := f(fields["y"])
	if !okX || !okY {
		return nil
	}
	color := fields["color"]

	switch verb {
	case "HIGHLIGHT":
		w, okW := f(fields["width"])
		h, okH := f(fields["height"])
		if !okW || !okH {
			return nil
		}
		opacity, _ := f(fields["opacity"])
		return NewHighlight(page, x, y, w, h, color, opacity, b)
	case "CIRCLE":
		r, okR := f(fields["radius"])
		if !okR {
			return nil
		}
		return []Directive{NewCircle(page, x, y, r, color, b)}
	case "ARROW":
		dx, okDX := f(fields["dx"])
		dy, okDY := f(fields["dy"])
		if !okDX || !okDY {
			return nil
		}
		return []Directive{NewArrow(page, x, y, dx, dy, color, b)}
	case "UNDERLINE":
		w, okW := f(fields["width"])
		if !okW {
			return nil
		}
		return []Directive{NewUnderline(page, x, y, w, color, b)}
	case "LABEL", "TEXT":
		content, okC := fields["content"]
		if !okC {
			content, okC = fields["text"]
		}
		if !okC {
			return nil
		}
		return []Directive{NewTextLabel(page, x, y, content, color, b)}
	case "RECT", "RECTANGLE":
		w, okW := f(fields["width"])
		h, okH := f(fields["height"])
		if !okW || !okH {
			return nil
		}
		return []Directive{NewRectangle(page, x, y, w, h, color, b)}
	}
	return nil
}

func buildGoto(m []string, _ int, _ geom.PageBounds) []Directive {
	page, ok := atoi(m[1])
	if !ok {
		return nil
	}
	return []Directive{NewNavigate(NavAbsolute, 0, page)}
}

func navBuilder(kind NavKind) builder {
	return func(_ []string, currentPage int, _ geom.PageBounds) []Directive {
		return []Directive{NewNavigate(kind, currentPage, 0)}
	}
}
