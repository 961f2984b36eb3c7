package stream

import (
	"encoding/json"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/docent-ai/docent/directives"
	"github.com/docent-ai/docent/geom"
)

// Fallback position heuristics, in page units.
const (
	fallbackX      = 60.0
	fallbackTitleY = 120.0
	fallbackBodyY  = 200.0
	fallbackHeight = geom.LineHeight

	fallbackMinWidth = 160.0
	fallbackMaxWidth = 520.0

	// widthPerHintChar scales the estimated span from the hint length.
	widthPerHintChar = 6.0
)

// hintPaths are tried in order against a structured position hint.
var hintPaths = []string{"text", "hint", "selection.text", "title"}

// Fallback synthesizes a single highlight for a turn that finished without
// any geometric directive. A tutoring turn that references "the text" but
// forgets to point at anything is degraded, not useless: the viewer gets
// something to look at, and the fallback origin marker keeps it
// distinguishable from model-authored output in analytics.
func Fallback(page int, hint string, bounds geom.PageBounds) directives.Directive {
	if page < 1 {
		page = 1
	}

	text, fromTitle := extractHint(hint)

	y := fallbackBodyY
	if fromTitle || strings.Contains(strings.ToLower(text), "title") {
		y = fallbackTitleY
	}

	width := float64(len(text)) * widthPerHintChar
	if width < fallbackMinWidth {
		width = fallbackMinWidth
	}
	if width > fallbackMaxWidth {
		width = fallbackMaxWidth
	}

	d := directives.NewHighlight(page, fallbackX, y, width, fallbackHeight, "", 0, bounds)[0]
	d.Origin = directives.OriginFallback
	return d
}

// extractHint pulls a usable text cue out of the hint, which may be plain
// text or a structured JSON payload from the client. The second return value
// reports that the cue came from a title field.
func extractHint(hint string) (string, bool) {
	trimmed := strings.TrimSpace(hint)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, false
	}

	var data interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return trimmed, false
	}

	for _, path := range hintPaths {
		v, err := jmespath.Search(path, data)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, path == "title"
		}
	}
	return "", false
}
