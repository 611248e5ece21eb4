// Package agent drives a single call's LLM turn loop: it holds the bounded
// conversation history, invokes the LLM provider with the declared tool
// catalog, dispatches any requested tool calls through a [ToolRouter], and
// loops until the model produces a text reply, a terminal transfer signal,
// or a cap is exceeded.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/voxline/callhandler/internal/tools"
	"github.com/voxline/callhandler/pkg/provider/llm"
	"github.com/voxline/callhandler/pkg/types"
)

// ToolRouter is the subset of *tools.Router's behavior the agent depends on.
// Declared locally so tests can substitute a stub without constructing a
// real Router.
type ToolRouter interface {
	Dispatch(ctx context.Context, name string, argsJSON string) (*tools.Result, *tools.TransferSignal, error)
	Catalog() []types.ToolDefinition
}

// Config carries the per-deployment tunables for the turn loop.
type Config struct {
	// SystemPrompt is injected ahead of history on every model call.
	SystemPrompt string

	// MaxToolCallsPerTurn caps the number of tool invocations a single turn
	// may perform before it is forced into a transfer. Sourced from
	// llm.max_tool_calls_per_turn.
	MaxToolCallsPerTurn int

	// MaxHistoryMessages caps the length of history kept across turns.
	// Sourced from llm.max_history_messages.
	MaxHistoryMessages int
}

// Agent owns one call's turn loop. The zero value is not usable; construct
// with New. An Agent is not safe for concurrent use by multiple goroutines
// on the same history — a call has exactly one dialogue goroutine driving it.
type Agent struct {
	provider llm.Provider
	router   ToolRouter
	cfg      Config
}

// New constructs an Agent against provider and router using cfg.
func New(provider llm.Provider, router ToolRouter, cfg Config) *Agent {
	return &Agent{provider: provider, router: router, cfg: cfg}
}

// Outcome is the result of one call to HandleTurn.
type Outcome struct {
	// Reply is the assistant's spoken text. Empty when Transfer is set.
	Reply string

	// Transfer is non-nil when the turn ended in an operator transfer,
	// either because the model invoked the transfer tool or because a cap
	// or retry budget was exhausted.
	Transfer *tools.TransferSignal

	// History is the updated conversation history, including the user
	// utterance, any tool round-trips, and (if present) the assistant's
	// reply. Pass this back into the next call to HandleTurn.
	History []types.Message
}

// HandleTurn drives one user turn to completion per the algorithm: append
// the utterance, invoke the model, dispatch any requested tools and loop,
// until the model replies with text or a cap forces a transfer.
func (a *Agent) HandleTurn(ctx context.Context, history []types.Message, utterance string) (Outcome, error) {
	history = append(cloneHistory(history), types.Message{Role: "user", Content: utterance})
	history = evictHistory(history, a.cfg.MaxHistoryMessages)

	toolCalls := 0
	catalog := a.router.Catalog()

	for {
		resp, err := a.completeWithRetry(ctx, history, catalog)
		if err != nil {
			slog.Error("agent: completion failed after retry, transferring", "error", err)
			return Outcome{
				Transfer: &tools.TransferSignal{Reason: "model unavailable"},
				History:  history,
			}, nil
		}

		if len(resp.ToolCalls) == 0 {
			history = append(history, types.Message{Role: "assistant", Content: resp.Content})
			return Outcome{Reply: resp.Content, History: history}, nil
		}

		history = append(history, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			toolCalls++
			if toolCalls > a.cfg.MaxToolCallsPerTurn {
				slog.Warn("agent: tool call cap exceeded, transferring", "cap", a.cfg.MaxToolCallsPerTurn)
				return Outcome{
					Transfer: &tools.TransferSignal{Reason: "too many tool calls in one turn"},
					History:  history,
				}, nil
			}

			result, transfer, err := a.router.Dispatch(ctx, call.Name, call.Arguments)
			if err != nil {
				slog.Error("agent: tool dispatch failed, transferring", "tool", call.Name, "error", err)
				return Outcome{
					Transfer: &tools.TransferSignal{Reason: fmt.Sprintf("tool %q is not available", call.Name)},
					History:  history,
				}, nil
			}
			if transfer != nil {
				return Outcome{Transfer: transfer, History: history}, nil
			}

			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"ok":false,"message":"internal error encoding tool result"}`)
			}
			history = append(history, types.Message{
				Role:       "tool",
				Content:    string(payload),
				ToolCallID: call.ID,
			})
		}

		history = evictHistory(history, a.cfg.MaxHistoryMessages)
	}
}

// completeWithRetry calls the model once, retrying exactly once on a
// transient error per spec §4.4's failure model.
func (a *Agent) completeWithRetry(ctx context.Context, history []types.Message, catalog []types.ToolDefinition) (*llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		Messages:     history,
		Tools:        catalog,
		SystemPrompt: a.cfg.SystemPrompt,
	}

	resp, err := a.provider.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	slog.Warn("agent: completion failed, retrying once", "error", err)
	return a.provider.Complete(ctx, req)
}

func cloneHistory(history []types.Message) []types.Message {
	out := make([]types.Message, len(history))
	copy(out, history)
	return out
}
