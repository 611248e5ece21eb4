package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/voxline/callhandler/internal/store"
	"github.com/voxline/callhandler/pkg/types"
)

// RegisterOrders wires the order lifecycle handler group: draft, confirm,
// and delivery scheduling. Draft and confirm are the two of the three
// backing-store mutations that require an idempotency key (the third is
// appointment booking, see appointments.go); each handler mints its own key
// once per invocation via store.NewIdempotencyKey, and the store client
// sends that same key on every HTTP retry of the call. A second dispatch of
// the tool mints a new key.
func RegisterOrders(r *Router, s *store.Client) error {
	if err := r.Register(draftOrderDefinition(), draftOrderHandler(s)); err != nil {
		return err
	}
	if err := r.Register(confirmOrderDefinition(), confirmOrderHandler(s)); err != nil {
		return err
	}
	return r.Register(scheduleDeliveryDefinition(), scheduleDeliveryHandler(s))
}

func draftOrderDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "draft_order",
		Description: "Create a draft order for a product and quantity, pending confirmation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{"type": "string"},
				"quantity":   map[string]any{"type": "integer", "minimum": 1},
				"customer_id": map[string]any{
					"type":        "string",
					"description": "Caller's account identifier, if known.",
				},
			},
			"required": []any{"product_id", "quantity"},
		},
		Idempotent: true,
	}
}

func draftOrderHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			ProductID  string `json:"product_id"`
			Quantity   int    `json:"quantity"`
			CustomerID string `json:"customer_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		if req.Quantity < 1 {
			return &Result{OK: false, Message: "quantity must be at least 1"}, nil
		}

		order, err := s.CreateOrder(ctx, store.OrderDraft{
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			CustomerID: req.CustomerID,
		}, store.NewIdempotencyKey())
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "order system is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: order}, nil
	}
}

func confirmOrderDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "confirm_order",
		Description: "Confirm a previously drafted order.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
			},
			"required": []any{"order_id"},
		},
		Idempotent: true,
	}
}

func confirmOrderHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		order, err := s.ConfirmOrder(ctx, req.OrderID, store.NewIdempotencyKey())
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "order system is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: order}, nil
	}
}

func scheduleDeliveryDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "schedule_delivery",
		Description: "Schedule delivery for a confirmed order to an address on a given date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
				"address":  map[string]any{"type": "string"},
				"date":     map[string]any{"type": "string", "description": "ISO-8601 date, e.g. 2026-08-03."},
			},
			"required": []any{"order_id", "address", "date"},
		},
	}
}

func scheduleDeliveryHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			OrderID string `json:"order_id"`
			Address string `json:"address"`
			Date    string `json:"date"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		order, err := s.ScheduleDelivery(ctx, req.OrderID, store.DeliverySlot{
			Address: req.Address,
			Date:    req.Date,
		})
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "delivery scheduling is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: order}, nil
	}
}
