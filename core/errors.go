package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout reports that a per-call or per-batch deadline was exceeded.
	ErrTimeout = errors.New("timeout")
	// ErrAgentFailure reports that a responder returned an error or panicked.
	ErrAgentFailure = errors.New("agent failure")
	// ErrRateLimited is wrapped by responders that were throttled upstream.
	ErrRateLimited = errors.New("rate limited")
	// ErrNoEligibleAgents reports that a strategy filter produced an empty set.
	ErrNoEligibleAgents = errors.New("no eligible agents")
	// ErrAllAgentsFailed reports that every dispatched call in a round failed.
	ErrAllAgentsFailed = errors.New("all agents failed")
	// ErrUnresolved reports that a debate ended without a winner.
	ErrUnresolved = errors.New("unresolved")
	// ErrBudgetExceeded reports that a round would exceed the call budget.
	ErrBudgetExceeded = errors.New("call budget exceeded")
	// ErrManagerFailed reports that the synthesis call of a hierarchical run failed.
	ErrManagerFailed = errors.New("manager failed")
	// ErrUnknownStrategy reports an unsupported coordination strategy.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// ErrorKind classifies the failure recorded in a DispatchResult entry.
type ErrorKind string

const (
	// KindTimeout marks calls that exceeded their deadline.
	KindTimeout ErrorKind = "timeout"
	// KindAgentFailure marks calls whose responder failed or panicked.
	KindAgentFailure ErrorKind = "agent_failure"
	// KindRateLimited marks calls rejected by upstream throttling.
	KindRateLimited ErrorKind = "rate_limited"
)

// AgentError is the error stored in a failed DispatchResult entry.
type AgentError struct {
	AgentID string    `json:"agent_id"`
	Kind    ErrorKind `json:"kind"`
	Err     error     `json:"-"`
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.AgentID, e.Kind)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.AgentID, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause so callers
// can match either with errors.Is.
func (e *AgentError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindRateLimited:
		return ErrRateLimited
	default:
		return ErrAgentFailure
	}
}

// NewAgentError classifies err into an AgentError for the given agent.
func NewAgentError(agentID string, err error) *AgentError {
	var ae *AgentError
	if errors.As(err, &ae) {
		return &AgentError{AgentID: agentID, Kind: ae.Kind, Err: ae.Err}
	}
	return &AgentError{AgentID: agentID, Kind: Classify(err), Err: err}
}

// Classify maps an arbitrary error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindAgentFailure
	}
}

// TemplateError reports a malformed prompt template or a missing variable.
// StepIndex is -1 for templates that do not belong to a chain step.
// It is a precondition failure: it is returned before any responder is called.
type TemplateError struct {
	StepIndex int    `json:"step_index"`
	Template  string `json:"template"`
	Message   string `json:"message"`
}

func (e *TemplateError) Error() string {
	if e.StepIndex < 0 {
		return "template error: " + e.Message
	}
	return fmt.Sprintf("template error at step %d: %s", e.StepIndex, e.Message)
}

// ChainError reports the first failing step of a sequential chain.
type ChainError struct {
	StepIndex int
	AgentID   string
	Cause     error
}

func (e *ChainError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("chain failed at step %d (%s): %v", e.StepIndex, e.AgentID, e.Cause)
	}
	return fmt.Sprintf("chain failed at step %d: %v", e.StepIndex, e.Cause)
}

func (e *ChainError) Unwrap() error { return e.Cause }
