package conversation

import (
	"fmt"
	"testing"

	"github.com/auralis-labs/duplex/pkg/llm"
)

func TestHistoryBoundAndPinnedPreamble(t *testing.T) {
	const n = 6
	h := NewHistory(n)
	h.SetPreamble("You are a helpful voice assistant.")

	for i := 0; i < n+5; i++ {
		h.Append(RoleUser, fmt.Sprintf("turn %d", i))
	}

	if got := h.Len(); got != n {
		t.Fatalf("expected %d retained turns, got %d", n, got)
	}
	recs := h.Records()
	if recs[0].Role != RoleSystem {
		t.Fatalf("expected preamble first, got role %s", recs[0].Role)
	}
	if recs[1].Text != "turn 5" {
		t.Fatalf("expected oldest retained turn to be %q, got %q", "turn 5", recs[1].Text)
	}
	if last := recs[len(recs)-1].Text; last != fmt.Sprintf("turn %d", n+4) {
		t.Fatalf("expected newest turn last, got %q", last)
	}
}

func TestHistoryWithoutPreamble(t *testing.T) {
	h := NewHistory(2)
	h.Append(RoleUser, "a")
	h.Append(RoleAgent, "b")
	h.Append(RoleUser, "c")

	recs := h.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Text != "b" || recs[1].Text != "c" {
		t.Fatalf("unexpected retained records: %+v", recs)
	}
}

func TestToMessagesMapsRoles(t *testing.T) {
	h := NewHistory(4)
	h.SetPreamble("preamble")
	h.Append(RoleUser, "hello")
	h.Append(RoleAgent, "hi there")

	msgs := h.ToMessages()
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "preamble"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi there"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("message %d: expected %+v, got %+v", i, want[i], msgs[i])
		}
	}
}
