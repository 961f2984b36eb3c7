package types

import (
	"strings"
	"testing"
)

func TestTurnRequest_NormalizeCaps(t *testing.T) {
	r := &TurnRequest{
		PageText:    strings.Repeat("a", MaxPageTextLen+500),
		Neighbors:   []PageContext{{Number: 2, Text: strings.Repeat("b", 1000)}},
		CurrentPage: 3,
		PageCount:   10,
	}
	r.Normalize()

	if len(r.PageText) != MaxPageTextLen {
		t.Errorf("page text not capped: %d", len(r.PageText))
	}
	if len(r.Neighbors[0].Text) != MaxNeighborTextLen {
		t.Errorf("neighbor text not capped: %d", len(r.Neighbors[0].Text))
	}
}

func TestTurnRequest_NormalizePage(t *testing.T) {
	r := &TurnRequest{CurrentPage: 0, PageCount: 5}
	r.Normalize()
	if r.CurrentPage != 1 {
		t.Errorf("page floor: got %d", r.CurrentPage)
	}

	r = &TurnRequest{CurrentPage: 99, PageCount: 5}
	r.Normalize()
	if r.CurrentPage != 5 {
		t.Errorf("page ceiling: got %d", r.CurrentPage)
	}
}

func TestTurnRequest_LatestUserMessage(t *testing.T) {
	r := &TurnRequest{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
	}}
	m := r.LatestUserMessage()
	if m == nil || m.Content != "second" {
		t.Errorf("got %+v", m)
	}

	empty := &TurnRequest{}
	if empty.LatestUserMessage() != nil {
		t.Error("expected nil for empty history")
	}
}
