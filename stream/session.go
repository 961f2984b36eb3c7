// Package stream owns per-turn parsing state: the rolling chunk buffer that
// reassembles directives split across chunk boundaries, the dedup tracker
// that guarantees exactly-once emission, and the fallback generator invoked
// when a finished turn pointed at nothing.
package stream

import (
	"strings"
	"time"

	"github.com/docent-ai/docent/directives"
	"github.com/docent-ai/docent/geom"
)

// maxBufferLen caps the rolling buffer. Oldest content is evicted first,
// bounding memory under pathologically long turns.
const maxBufferLen = 3000

// Session holds the parsing state for one conversational turn. It must never
// outlive the turn: a new session id always starts with an empty buffer and
// an empty dedup set. Sessions are not safe for concurrent use: chunks for
// one turn are processed strictly in arrival order.
type Session struct {
	id          string
	bounds      geom.PageBounds
	currentPage int
	pageCount   int
	startedAt   time.Time

	buffer  string
	emitted map[string]struct{}
	all     []directives.Directive

	// pendingDisplay withholds a trailing partial token from the viewer
	// until its closing bracket arrives.
	pendingDisplay string

	// text accumulates the cleaned prose of the whole turn, for the final
	// persisted message and for fallback heuristics.
	text strings.Builder

	geometric  int
	navigation int
}

// NewSession creates parsing state for one turn. currentPage anchors relative
// navigation; pageCount, when known, is used to clamp "last page" targets
// (the parser itself stays page-count-agnostic).
func NewSession(id string, currentPage, pageCount int, bounds geom.PageBounds) *Session {
	if currentPage < 1 {
		currentPage = 1
	}
	return &Session{
		id:          id,
		bounds:      bounds,
		currentPage: currentPage,
		pageCount:   pageCount,
		startedAt:   time.Now(),
		emitted:     make(map[string]struct{}),
	}
}

// ID returns the caller-supplied session identifier.
func (s *Session) ID() string { return s.id }

// CurrentPage returns the navigation anchor after all chunks so far.
func (s *Session) CurrentPage() int { return s.currentPage }

// StartedAt returns when the turn's session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// HasGeometric reports whether any geometric directive has been emitted.
func (s *Session) HasGeometric() bool { return s.geometric > 0 }

// HasNavigation reports whether any navigation directive has been emitted.
func (s *Session) HasNavigation() bool { return s.navigation > 0 }

// Directives returns every directive emitted so far, in emission order.
func (s *Session) Directives() []directives.Directive {
	out := make([]directives.Directive, len(s.all))
	copy(out, s.all)
	return out
}

// Text returns the accumulated cleaned prose of the turn.
func (s *Session) Text() string { return s.text.String() }

// RecordFallback appends a synthesized directive to the turn's emitted set.
func (s *Session) RecordFallback(d directives.Directive) {
	s.all = append(s.all, d)
	s.geometric++
}

// Feed appends one chunk, scans the whole rolling buffer for complete
// directives, and returns the directives not seen before in this session
// together with the cleaned text of the incoming chunk only.
//
// Parsing the entire buffer rather than the new chunk is what recovers a
// directive split as "...[HIGH" then "LIGHT 1 100 200 300 50]...": the first
// feed yields nothing, the second, concatenated with the retained fragment,
// yields one highlight.
func (s *Session) Feed(chunk string) ([]directives.Directive, string) {
	s.buffer += chunk
	if len(s.buffer) > maxBufferLen {
		s.buffer = s.buffer[len(s.buffer)-maxBufferLen:]
	}

	parsed, _ := directives.Parse(s.buffer, s.currentPage, s.bounds)

	var fresh []directives.Directive
	for _, d := range parsed {
		if d.Kind == directives.KindNavigate && d.TargetPage == directives.LastPageSentinel && s.pageCount > 0 {
			d.TargetPage = s.pageCount
		}
		key := d.Key()
		if _, seen := s.emitted[key]; seen {
			continue
		}
		s.emitted[key] = struct{}{}
		s.all = append(s.all, d)
		fresh = append(fresh, d)

		switch {
		case d.Kind == directives.KindNavigate:
			s.navigation++
			if d.TargetPage >= 1 {
				s.currentPage = d.TargetPage
			}
		default:
			s.geometric++
		}
	}

	// Cursor advance: everything up to the last closing bracket has been
	// fully scanned; only a possible trailing partial token needs retaining.
	if idx := strings.LastIndexByte(s.buffer, ']'); idx >= 0 {
		s.buffer = s.buffer[idx+1:]
	}

	cleaned := s.cleanForDisplay(chunk)
	s.text.WriteString(cleaned)
	return fresh, cleaned
}

// cleanForDisplay strips directive tokens from the incoming chunk, prepending
// any token fragment withheld from earlier chunks and withholding a new
// trailing fragment. Prose already shown is never re-emitted or altered.
func (s *Session) cleanForDisplay(chunk string) string {
	work := s.pendingDisplay + chunk
	s.pendingDisplay = ""

	if p := directives.TrailingPartial(work); p >= 0 {
		s.pendingDisplay = work[p:]
		work = work[:p]
	}
	if work == "" {
		return ""
	}
	_, cleaned := directives.Parse(work, s.currentPage, s.bounds)
	return cleaned
}
