package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/docent-ai/docent/directives"
	"github.com/docent-ai/docent/geom"
)

var bounds = geom.DefaultBounds()

func TestSession_SplitDirectiveRecovery(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	first, cleaned := s.Feed("Look here [HIGH")
	if len(first) != 0 {
		t.Fatalf("incomplete token yielded directives: %+v", first)
	}
	if strings.Contains(cleaned, "[") {
		t.Errorf("partial token leaked to display: %q", cleaned)
	}

	second, _ := s.Feed("LIGHT 1 100 198 300 30] and read on.")
	if len(second) != 1 {
		t.Fatalf("expected 1 directive after completion, got %d", len(second))
	}
	d := second[0]
	if d.Kind != directives.KindHighlight || d.Page != 1 || d.X != 100 || d.Width != 300 || d.Height != 30 {
		t.Errorf("unexpected directive: %+v", d)
	}
}

func TestSession_SplitTallHighlightSumsAcrossPieces(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	s.Feed("[HIGHLIGHT 1 100 110 ")
	ds, _ := s.Feed("300 50]")
	if len(ds) != 3 {
		t.Fatalf("height 50 should split into 3 line boxes, got %d", len(ds))
	}
	var sum float64
	for _, d := range ds {
		sum += d.Height
	}
	if sum != 50 {
		t.Errorf("piece heights sum to %v, want 50", sum)
	}
}

func TestSession_IdempotentRescan(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	token := "[CIRCLE 2 150 260 40]"
	first, _ := s.Feed(token)
	if len(first) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(first))
	}

	// The model repeats itself verbatim.
	again, _ := s.Feed(" as I said " + token)
	if len(again) != 0 {
		t.Errorf("duplicate directive re-emitted: %+v", again)
	}
	if got := len(s.Directives()); got != 1 {
		t.Errorf("session emitted %d directives total, want 1", got)
	}
}

func TestSession_DedupIgnoresCosmeticVariation(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	s.Feed("[CIRCLE 2 150 260 40 red]")
	ds, _ := s.Feed("[CIRCLE 2 150 260 80 blue]")
	if len(ds) != 0 {
		t.Errorf("same type/page/position with different color must dedup: %+v", ds)
	}
}

func TestSession_CleanedChunkIsIncremental(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	_, c1 := s.Feed("The second paragraph ")
	_, c2 := s.Feed("[HIGHLIGHT 1 100 198 300 30] explains the argument.")

	if c1 != "The second paragraph " {
		t.Errorf("first cleaned chunk altered: %q", c1)
	}
	if strings.Contains(c2, "[") || !strings.Contains(c2, "explains the argument.") {
		t.Errorf("second cleaned chunk wrong: %q", c2)
	}
	if strings.Contains(c2, "second paragraph") {
		t.Errorf("earlier prose re-emitted: %q", c2)
	}
}

func TestSession_NavigationMovesAnchor(t *testing.T) {
	s := NewSession("turn-1", 3, 10, bounds)

	ds, _ := s.Feed("[NEXT PAGE]")
	if len(ds) != 1 || ds[0].TargetPage != 4 {
		t.Fatalf("expected NEXT to target 4, got %+v", ds)
	}
	if s.CurrentPage() != 4 {
		t.Errorf("anchor not moved: %d", s.CurrentPage())
	}

	ds, _ = s.Feed(" then [NEXT PAGE]")
	if len(ds) != 1 || ds[0].TargetPage != 5 {
		t.Errorf("second NEXT should be relative to moved anchor: %+v", ds)
	}
}

func TestSession_LastPageClampedToPageCount(t *testing.T) {
	s := NewSession("turn-1", 3, 12, bounds)
	ds, _ := s.Feed("[LAST PAGE]")
	if len(ds) != 1 || ds[0].TargetPage != 12 {
		t.Fatalf("LAST should clamp to page count, got %+v", ds)
	}

	// Without a known page count the sentinel passes through for the
	// caller to resolve.
	s2 := NewSession("turn-2", 3, 0, bounds)
	ds, _ = s2.Feed("[LAST PAGE]")
	if ds[0].TargetPage != directives.LastPageSentinel {
		t.Errorf("expected sentinel, got %d", ds[0].TargetPage)
	}
}

func TestSession_BufferBounded(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)

	for i := 0; i < 200; i++ {
		s.Feed(fmt.Sprintf("filler prose block %d with no tokens at all. ", i))
	}
	if len(s.buffer) > maxBufferLen {
		t.Errorf("buffer grew past cap: %d", len(s.buffer))
	}

	// Parsing still works after heavy eviction.
	ds, _ := s.Feed("[CIRCLE 1 10 10 20]")
	if len(ds) != 1 {
		t.Errorf("directive lost after eviction: %+v", ds)
	}
}

func TestSession_AccumulatesTurnText(t *testing.T) {
	s := NewSession("turn-1", 1, 10, bounds)
	s.Feed("First part. ")
	s.Feed("[CIRCLE 1 10 10 20]")
	s.Feed(" Second part.")

	text := s.Text()
	if !strings.Contains(text, "First part.") || !strings.Contains(text, "Second part.") {
		t.Errorf("turn text incomplete: %q", text)
	}
	if strings.Contains(text, "[CIRCLE") {
		t.Errorf("token leaked into turn text: %q", text)
	}
}

func TestSession_FreshSessionStartsEmpty(t *testing.T) {
	s1 := NewSession("turn-1", 1, 10, bounds)
	s1.Feed("[CIRCLE 1 10 10 20]")

	// Same directive text in a new session must emit again: dedup state is
	// strictly per turn.
	s2 := NewSession("turn-2", 1, 10, bounds)
	ds, _ := s2.Feed("[CIRCLE 1 10 10 20]")
	if len(ds) != 1 {
		t.Errorf("dedup state leaked across sessions: %+v", ds)
	}
}

func TestFallback(t *testing.T) {
	t.Run("generic hint sits mid page", func(t *testing.T) {
		d := Fallback(2, "the core argument of the chapter", bounds)
		if d.Kind != directives.KindHighlight || d.Page != 2 {
			t.Fatalf("unexpected fallback: %+v", d)
		}
		if d.Y != 198 {
			t.Errorf("expected mid-page y 198, got %v", d.Y)
		}
		if d.Origin != directives.OriginFallback {
			t.Errorf("fallback not marked: %+v", d)
		}
	})

	t.Run("title cue moves toward top", func(t *testing.T) {
		d := Fallback(1, "look at the title of this section", bounds)
		if d.Y != 110 {
			t.Errorf("expected near-top y 110, got %v", d.Y)
		}
	})

	t.Run("structured hint via jmespath", func(t *testing.T) {
		d := Fallback(1, `{"selection": {"text": "a rather long selected passage from the page"}}`, bounds)
		want := float64(len("a rather long selected passage from the page")) * widthPerHintChar
		if d.Width != want {
			t.Errorf("width = %v, want %v", d.Width, want)
		}

		d = Fallback(1, `{"title": "Chapter 3"}`, bounds)
		if d.Y != 110 {
			t.Errorf("title field should move y up, got %v", d.Y)
		}
	})

	t.Run("width clamped", func(t *testing.T) {
		d := Fallback(1, "", bounds)
		if d.Width != fallbackMinWidth {
			t.Errorf("empty hint width = %v, want %v", d.Width, fallbackMinWidth)
		}

		d = Fallback(1, strings.Repeat("x", 500), bounds)
		if d.Width != fallbackMaxWidth {
			t.Errorf("long hint width = %v, want %v", d.Width, fallbackMaxWidth)
		}
	})

	t.Run("bounds invariant", func(t *testing.T) {
		d := Fallback(1, strings.Repeat("y", 1000), bounds)
		if d.X+d.Width > bounds.Width || d.Y+d.Height > bounds.Height {
			t.Errorf("fallback exceeds page: %+v", d)
		}
	})
}
