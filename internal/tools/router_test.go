package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/voxline/callhandler/internal/tools"
	"github.com/voxline/callhandler/pkg/types"
)

func echoHandler(t *testing.T) tools.Handler {
	t.Helper()
	return func(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
		return &tools.Result{OK: true, Data: string(args)}, nil
	}
}

func TestRouter_DispatchUnknownTool(t *testing.T) {
	r := tools.NewRouter()
	_, _, err := r.Dispatch(context.Background(), "nope", "{}")
	if err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestRouter_DispatchValidatesArguments(t *testing.T) {
	r := tools.NewRouter()
	def := types.ToolDefinition{
		Name: "greet",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []any{"name"},
		},
	}
	if err := r.Register(def, echoHandler(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, transfer, err := r.Dispatch(context.Background(), "greet", `{"wrong_field": 1}`)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if transfer != nil {
		t.Fatal("did not expect a transfer signal")
	}
	if result.OK {
		t.Error("expected OK=false for arguments missing the required field")
	}
}

func TestRouter_DispatchSuccess(t *testing.T) {
	r := tools.NewRouter()
	def := types.ToolDefinition{
		Name: "greet",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []any{"name"},
		},
	}
	if err := r.Register(def, echoHandler(t)); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, transfer, err := r.Dispatch(context.Background(), "greet", `{"name": "caller"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer != nil {
		t.Fatal("did not expect a transfer signal")
	}
	if !result.OK {
		t.Errorf("expected OK=true, got message %q", result.Message)
	}
}

func TestRouter_CatalogListsEveryTool(t *testing.T) {
	r := tools.NewRouter()
	for _, name := range []string{"a", "b", "c"} {
		if err := r.Register(types.ToolDefinition{Name: name}, echoHandler(t)); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	if got := len(r.Catalog()); got != 3 {
		t.Errorf("catalog length = %d, want 3", got)
	}
}

func TestRegisterTransfer_DispatchReturnsTransferSignal(t *testing.T) {
	r := tools.NewRouter()
	if err := tools.RegisterTransfer(r); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, transfer, err := r.Dispatch(context.Background(), "transfer_to_operator", `{"reason": "caller asked for a person"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected no tool-result turn for a transfer")
	}
	if transfer == nil {
		t.Fatal("expected a transfer signal")
	}
	if transfer.Reason != "caller asked for a person" {
		t.Errorf("transfer.Reason = %q", transfer.Reason)
	}
}

func TestRegisterTransfer_MissingReasonFailsValidation(t *testing.T) {
	r := tools.NewRouter()
	if err := tools.RegisterTransfer(r); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, transfer, err := r.Dispatch(context.Background(), "transfer_to_operator", `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer != nil {
		t.Fatal("did not expect a transfer signal for invalid arguments")
	}
	if result == nil || result.OK {
		t.Error("expected a {ok: false} result for missing required reason")
	}
}
