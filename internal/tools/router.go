// Package tools implements the fixed, startup-registered tool catalog that
// the LLM agent dispatches against: product/inventory queries, order
// lifecycle, appointment lifecycle, knowledge lookup, and operator-transfer.
//
// Registration happens once at process start; dispatch after that is a plain
// map lookup keyed by tool name, never a search.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/voxline/callhandler/pkg/types"
)

// Handler executes one tool invocation. args is the raw JSON arguments
// object sent by the model, already validated against the tool's declared
// schema. Handlers return their own errors only for conditions the model
// should be told about (routed into a {ok:false, message} Result by the
// router) — errors that should abort the call entirely should not occur here;
// a handler that cannot serve the request returns a Result with OK=false.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// Result is the structured outcome of a tool invocation, fed back to the
// model as the content of a "tool" role message.
type Result struct {
	OK      bool `json:"ok"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// TransferSignal is returned by Dispatch instead of a Result when the
// invoked tool is the terminal operator-transfer tool. The pipeline watches
// for this to drive the session into the Transferring state; it is never
// turned into a tool-result turn fed back to the model.
type TransferSignal struct {
	Reason string
}

// transferToolName is the one tool name whose invocation short-circuits
// Dispatch into returning a TransferSignal.
const transferToolName = "transfer_to_operator"

// ErrUnknownTool is returned by Dispatch when the model requests a tool name
// that was never registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

type entry struct {
	def      types.ToolDefinition
	resolved *jsonschema.Resolved
	handler  Handler
}

// Router holds the fixed tool map. The zero value is not usable; construct
// with NewRouter.
type Router struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRouter returns an empty, ready-to-register Router.
func NewRouter() *Router {
	return &Router{entries: make(map[string]entry)}
}

// Register adds one tool to the catalog. Parameters, if non-nil, is
// compiled into a JSON Schema once at registration time so that every
// Dispatch call only has to validate, not compile. Register takes the
// router's write lock, so it may run alongside Dispatch; it is called during
// startup before the router is handed to the agent.
func (r *Router) Register(def types.ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tools: register: empty tool name")
	}

	var resolved *jsonschema.Resolved
	if len(def.Parameters) > 0 {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return fmt.Errorf("tools: register %q: encode schema: %w", def.Name, err)
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return fmt.Errorf("tools: register %q: decode schema: %w", def.Name, err)
		}
		resolved, err = schema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("tools: register %q: resolve schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, resolved: resolved, handler: handler}
	return nil
}

// Catalog returns every registered tool's definition, for passing to the
// model as its available tool set. Order is unspecified.
func (r *Router) Catalog() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	return defs
}

// Dispatch validates argsJSON against the named tool's declared schema and
// invokes its handler. A malformed-arguments condition is surfaced as a
// non-nil Result with OK=false (per spec §4.4, the model gets a chance to
// self-correct within the turn's tool-call cap) rather than a Go error.
// A Go error is returned only for a name that was never registered, which
// the agent treats as a turn-ending failure since it indicates the model
// was offered a tool catalog it didn't actually receive.
//
// When name is the terminal operator-transfer tool, Dispatch returns a
// non-nil TransferSignal and a nil Result; callers must check for this
// before treating the Result as a normal tool-result turn.
func (r *Router) Dispatch(ctx context.Context, name string, argsJSON string) (*Result, *TransferSignal, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	raw := json.RawMessage(argsJSON)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	if e.resolved != nil {
		var instance any
		if err := json.Unmarshal(raw, &instance); err != nil {
			return &Result{OK: false, Message: fmt.Sprintf("arguments are not valid JSON: %v", err)}, nil, nil
		}
		if err := e.resolved.Validate(instance); err != nil {
			return &Result{OK: false, Message: fmt.Sprintf("arguments failed validation: %v", err)}, nil, nil
		}
	}

	result, err := e.handler(ctx, raw)
	if err != nil {
		return &Result{OK: false, Message: err.Error()}, nil, nil
	}

	if name == transferToolName {
		var reason string
		if result != nil {
			if r, ok := result.Data.(string); ok {
				reason = r
			} else if result.Message != "" {
				reason = result.Message
			}
		}
		return nil, &TransferSignal{Reason: reason}, nil
	}

	return result, nil, nil
}
