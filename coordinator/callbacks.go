package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/core"
)

// CallbackType defines the lifecycle points where callbacks run.
type CallbackType string

const (
	// CallbackTransition fires after every state change.
	CallbackTransition CallbackType = "transition"
	// CallbackRoundComplete fires after a fan-out or chain round settled.
	CallbackRoundComplete CallbackType = "round_complete"
	// CallbackDecision fires once the run produced its decision.
	CallbackDecision CallbackType = "decision"
)

// CallbackContext carries the run information visible to a callback.
type CallbackContext struct {
	RunID    string
	Strategy Strategy
	Type     CallbackType
	// From and To are set for CallbackTransition.
	From, To State
	// Round is set for CallbackRoundComplete.
	Round core.DispatchResult
	// Decision is set for CallbackDecision (nil for sequential runs).
	Decision *core.Decision
	Handles  []*agent.Handle
}

// Callback hooks into a coordination run. Returning an error aborts the run.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a function based callback.
func NewFunctionCallback(t CallbackType, fn func(ctx context.Context, cbCtx *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: t, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds cb.
func (m *CallbackManager) Register(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[cb.Type()] = append(m.callbacks[cb.Type()], cb)
}

// Execute runs every callback of cbCtx.Type; the first error stops the chain.
func (m *CallbackManager) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	cbs := append([]Callback(nil), m.callbacks[cbCtx.Type]...)
	m.mu.RUnlock()

	for _, cb := range cbs {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return fmt.Errorf("%s callback: %w", cbCtx.Type, err)
		}
	}

	return nil
}
