package agent

import "github.com/voxline/callhandler/pkg/types"

// evictHistory enforces max on the non-system message count, evicting the
// oldest non-system turns first. An assistant turn and the tool-result
// turns it produced are evicted together as one unit; a user turn is
// evicted on its own. System turns (none occur in practice here, since the
// system prompt travels out-of-band on every CompletionRequest, but the
// rule is honored defensively) are never evicted.
func evictHistory(history []types.Message, max int) []types.Message {
	if max <= 0 {
		return history
	}
	for countNonSystem(history) > max {
		idx := firstNonSystemIndex(history)
		if idx < 0 {
			break
		}
		end := idx + 1
		if history[idx].Role == "assistant" {
			for end < len(history) && history[end].Role == "tool" {
				end++
			}
		}
		history = append(history[:idx], history[end:]...)
	}
	return history
}

func countNonSystem(history []types.Message) int {
	n := 0
	for _, m := range history {
		if m.Role != "system" {
			n++
		}
	}
	return n
}

func firstNonSystemIndex(history []types.Message) int {
	for i, m := range history {
		if m.Role != "system" {
			return i
		}
	}
	return -1
}
