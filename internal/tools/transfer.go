package tools

import (
	"context"
	"encoding/json"

	"github.com/voxline/callhandler/pkg/types"
)

// RegisterTransfer wires the terminal operator-transfer tool. Its handler
// never actually runs any backing-store call: Dispatch recognizes
// transferToolName and turns the handler's result into a TransferSignal
// before it reaches the agent as a normal tool-result turn.
func RegisterTransfer(r *Router) error {
	return r.Register(transferDefinition(), transferHandler())
}

func transferDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        transferToolName,
		Description: "Transfer the caller to a human operator. Use when the caller asks for a person, the request is outside the tool catalog, or the conversation cannot otherwise proceed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Short reason for the transfer, shown to the operator.",
				},
			},
			"required": []any{"reason"},
		},
	}
}

func transferHandler() Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		return &Result{OK: true, Data: req.Reason}, nil
	}
}
