package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/conclave/internal/util"
	"github.com/hupe1980/conclave/logging"
	"github.com/hupe1980/conclave/model"
)

// Response is the normalized outcome of Registry.Execute.
type Response struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// Timeout bounds a single Execute call (0 = bounded by ctx only).
	Timeout time.Duration
}

// Registry is an explicit, concurrency-safe set of tools keyed by name. There
// is no process global registry: callers construct one and inject it where
// tool calling is needed.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	logger  logging.Logger
	timeout time.Duration
}

// NewRegistry creates an empty Registry, optionally pre-populated with tools.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		logger:  logging.OrNoOp(opts.Logger),
		timeout: opts.Timeout,
	}
	for _, t := range tools {
		r.Register(t)
	}

	return r
}

// Register adds t, replacing any tool registered under the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[t.Name()] = t
	r.logger.Debug("tool.registered", "tool_name", t.Name(), "category", t.Category())
}

// Unregister removes the named tool and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)

	return true
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]

	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	return r.filter(func(Tool) bool { return true })
}

// ByCategory returns the tools of one category sorted by name.
func (r *Registry) ByCategory(category string) []Tool {
	return r.filter(func(t Tool) bool { return t.Category() == category })
}

func (r *Registry) filter(keep func(Tool) bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })

	return out
}

// Definitions renders every tool as a model.ToolDefinition.
func (r *Registry) Definitions() []model.ToolDefinition {
	tools := r.List()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	return defs
}

// Execute runs the named tool. Failures never escape as errors: they are
// reported through Response.Success=false with the ToolError code.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Response {
	t, ok := r.Get(name)
	if !ok {
		err := NewToolError(name, "tool not registered", CodeNotFound)
		logging.ToolCall(r.logger, name, 0, err)
		return Response{Error: err.Error(), Code: CodeNotFound}
	}

	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		te := &ToolError{Tool: name, Message: fmt.Sprintf("parameter validation failed: %v", err), Code: CodeValidation, Details: err}
		logging.ToolCall(r.logger, name, 0, te)
		return Response{Error: te.Error(), Code: CodeValidation}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.safeCall(ctx, t, args)
	logging.ToolCall(r.logger, name, time.Since(start), err)

	if err != nil {
		code := CodeExecution
		var te *ToolError
		if errors.As(err, &te) && te.Code != "" {
			code = te.Code
		}
		return Response{Error: err.Error(), Code: code}
	}

	return Response{Success: true, Result: result}
}

// ExecuteJSON decodes raw JSON arguments (as delivered by model function
// calls) and executes the named tool.
func (r *Registry) ExecuteJSON(ctx context.Context, name, rawArgs string) Response {
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			te := NewToolError(name, fmt.Sprintf("failed to unmarshal args: %v", err), CodeValidation)
			return Response{Error: te.Error(), Code: CodeValidation}
		}
	}

	return r.Execute(ctx, name, args)
}

func (r *Registry) safeCall(ctx context.Context, t Tool, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = NewToolError(t.Name(), fmt.Sprintf("panic: %v", rec), CodeExecution)
		}
	}()

	return t.Call(ctx, args)
}
