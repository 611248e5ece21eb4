package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/voxline/callhandler/internal/store"
	"github.com/voxline/callhandler/pkg/types"
)

// RegisterAppointments wires the fitting-appointment lifecycle handler
// group: list stations, list slots, book (the third idempotency-keyed
// mutation), cancel, reschedule, and price lookup.
func RegisterAppointments(r *Router, s *store.Client) error {
	regs := []struct {
		def types.ToolDefinition
		h   Handler
	}{
		{listFittingStationsDefinition(), listFittingStationsHandler(s)},
		{listFittingSlotsDefinition(), listFittingSlotsHandler(s)},
		{bookFittingDefinition(), bookFittingHandler(s)},
		{cancelFittingDefinition(), cancelFittingHandler(s)},
		{rescheduleFittingDefinition(), rescheduleFittingHandler(s)},
		{fittingPriceDefinition(), fittingPriceHandler(s)},
	}
	for _, reg := range regs {
		if err := r.Register(reg.def, reg.h); err != nil {
			return err
		}
	}
	return nil
}

func listFittingStationsDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "list_fitting_stations",
		Description: "List tire-fitting service bays near a postal code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"postal_code": map[string]any{"type": "string"},
			},
			"required": []any{"postal_code"},
		},
		Idempotent: true,
	}
}

func listFittingStationsHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			PostalCode string `json:"postal_code"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		stations, err := s.ListFittingStations(ctx, req.PostalCode)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "station lookup is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: stations}, nil
	}
}

func listFittingSlotsDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "list_fitting_slots",
		Description: "List open appointment slots at a fitting station, optionally for a specific date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"station_id": map[string]any{"type": "string"},
				"date":       map[string]any{"type": "string", "description": "ISO-8601 date, optional."},
			},
			"required": []any{"station_id"},
		},
		Idempotent: true,
	}
}

func listFittingSlotsHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			StationID string `json:"station_id"`
			Date      string `json:"date"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		slots, err := s.ListFittingSlots(ctx, req.StationID, req.Date)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "slot lookup is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: slots}, nil
	}
}

func bookFittingDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "book_fitting",
		Description: "Book a fitting appointment slot.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"station_id":  map[string]any{"type": "string"},
				"starts_at":   map[string]any{"type": "string", "description": "ISO-8601 timestamp of the chosen slot."},
				"product_id":  map[string]any{"type": "string"},
				"customer_id": map[string]any{"type": "string"},
			},
			"required": []any{"station_id", "starts_at"},
		},
		Idempotent: true,
	}
}

func bookFittingHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			StationID  string `json:"station_id"`
			StartsAt   string `json:"starts_at"`
			ProductID  string `json:"product_id"`
			CustomerID string `json:"customer_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}

		booking, err := s.BookFitting(ctx, store.BookingRequest{
			StationID:  req.StationID,
			StartsAt:   req.StartsAt,
			ProductID:  req.ProductID,
			CustomerID: req.CustomerID,
		}, store.NewIdempotencyKey())
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "booking system is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: booking}, nil
	}
}

func cancelFittingDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "cancel_fitting",
		Description: "Cancel an existing fitting appointment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"booking_id": map[string]any{"type": "string"},
			},
			"required": []any{"booking_id"},
		},
	}
}

func cancelFittingHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		if err := s.CancelFitting(ctx, req.BookingID); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "booking system is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true}, nil
	}
}

func rescheduleFittingDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "reschedule_fitting",
		Description: "Move an existing fitting appointment to a new start time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"booking_id": map[string]any{"type": "string"},
				"starts_at":  map[string]any{"type": "string"},
			},
			"required": []any{"booking_id", "starts_at"},
		},
	}
}

func rescheduleFittingHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			BookingID string `json:"booking_id"`
			StartsAt  string `json:"starts_at"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		booking, err := s.RescheduleFitting(ctx, req.BookingID, req.StartsAt)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "booking system is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: booking}, nil
	}
}

func fittingPriceDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "fitting_price",
		Description: "Quote the fitting price for a product.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_id": map[string]any{"type": "string"},
			},
			"required": []any{"product_id"},
		},
		Idempotent: true,
	}
}

func fittingPriceHandler(s *store.Client) Handler {
	return func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var req struct {
			ProductID string `json:"product_id"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, err
		}
		price, err := s.FittingPrice(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return &Result{OK: false, Message: "price lookup is temporarily unavailable"}, nil
			}
			return nil, err
		}
		return &Result{OK: true, Data: price}, nil
	}
}
