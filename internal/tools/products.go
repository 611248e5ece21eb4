package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/voxline/callhandler/internal/store"
	"github.com/voxline/callhandler/pkg/types"
)

// RegisterProducts wires the product/inventory handler group: catalog
// search and per-item stock availability.
func RegisterProducts(r *Router, s *store.Client) error {
	if err := r.Register(searchProductsDefinition(), searchProductsHandler(s)); err != nil {
		return err
	}
	return r.Register(checkTireAvailabilityDefinition(), checkTireAvailabilityHandler(s))
}

func searchProductsDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "search_products",
		Description: "Search the tire catalog by free-text query and optional size.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text search, e.g. brand or model name.",
				},
				"size": map[string]any{
					"type":        "string",
					"description": "Tire size in the caller's stated format, e.g. '225/45R17'.",
				},
			},
			"required": []any{"query"},
		},
		Idempotent: true,
	}
}

func searchProductsHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			Query string `json:"query"`
			Size  string `json:"size"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		products, err := s.SearchProducts(ctx, req.Query, req.Size)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "the product catalog is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: products}, nil
	}
}

func checkTireAvailabilityDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "check_tire_availability",
		Description: "Check current stock and ETA for a specific product ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{
					"type":        "string",
					"description": "Product ID returned by search_products.",
				},
			},
			"required": []any{"product_id"},
		},
		Idempotent: true,
	}
}

func checkTireAvailabilityHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			ProductID string `json:"product_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		avail, err := s.TireAvailability(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &Result{OK: false, Message: "no such product"}, nil
			}
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "availability lookup is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: avail}, nil
	}
}
