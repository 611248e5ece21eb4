package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/voxline/callhandler/internal/store"
	"github.com/voxline/callhandler/pkg/types"
)

// RegisterKnowledge wires the knowledge-base lookup handler.
func RegisterKnowledge(r *Router, s *store.Client) error {
	return r.Register(searchKnowledgeDefinition(), searchKnowledgeHandler(s))
}

func searchKnowledgeDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "search_knowledge",
		Description: "Search support articles for policy or how-to questions (warranty, returns, installation, etc).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
		Idempotent: true,
	}
}

func searchKnowledgeHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		articles, err := s.SearchKnowledge(ctx, req.Query)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "knowledge search is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: articles}, nil
	}
}
