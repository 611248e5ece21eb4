package agent

import (
	"testing"

	"github.com/voxline/callhandler/pkg/types"
)

func TestEvictHistory_UnderCapIsUnchanged(t *testing.T) {
	history := []types.Message{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
	}
	got := evictHistory(history, 40)
	if len(got) != 2 {
		t.Errorf("length = %d, want 2", len(got))
	}
}

func TestEvictHistory_EvictsOldestUserTurnSingly(t *testing.T) {
	history := []types.Message{
		{Role: "user", Content: "oldest"},
		{Role: "user", Content: "newer"},
		{Role: "user", Content: "newest"},
	}
	got := evictHistory(history, 2)
	if len(got) != 2 {
		t.Fatalf("length = %d, want 2", len(got))
	}
	if got[0].Content != "newer" {
		t.Errorf("oldest surviving turn = %q, want %q", got[0].Content, "newer")
	}
}

func TestEvictHistory_EvictsAssistantAndItsToolResultsTogether(t *testing.T) {
	history := []types.Message{
		{Role: "assistant", Content: "", ToolCalls: []types.ToolCall{{ID: "1", Name: "search_products"}}},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "1"},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "1"},
		{Role: "user", Content: "keep"},
	}
	got := evictHistory(history, 1)
	if len(got) != 1 {
		t.Fatalf("length = %d, want 1, got %+v", len(got), got)
	}
	if got[0].Content != "keep" {
		t.Errorf("surviving turn = %+v, want the user turn", got[0])
	}
}

func TestEvictHistory_SystemTurnsNeverEvicted(t *testing.T) {
	history := []types.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
	}
	got := evictHistory(history, 1)
	if len(got) != 2 {
		t.Fatalf("length = %d, want 2 (system + 1 surviving)", len(got))
	}
	if got[0].Role != "system" {
		t.Errorf("first turn role = %q, want system", got[0].Role)
	}
}

func TestEvictHistory_ZeroMaxIsNoOp(t *testing.T) {
	history := []types.Message{{Role: "user", Content: "a"}}
	got := evictHistory(history, 0)
	if len(got) != 1 {
		t.Errorf("length = %d, want 1 (max<=0 disables eviction)", len(got))
	}
}
