package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, Classify(fmt.Errorf("upstream: %w", ErrTimeout)))
	assert.Equal(t, KindRateLimited, Classify(fmt.Errorf("429: %w", ErrRateLimited)))
	assert.Equal(t, KindAgentFailure, Classify(errors.New("boom")))
}

func TestAgentError_Is(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAgentError("claude", cause)

	assert.ErrorIs(t, err, ErrAgentFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "agent claude")

	timeout := NewAgentError("gpt", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	// Re-classifying an AgentError keeps its kind.
	again := NewAgentError("gpt", timeout)
	assert.Equal(t, KindTimeout, again.Kind)
}

func TestChainError_Unwrap(t *testing.T) {
	cause := NewAgentError("a", errors.New("down"))
	err := error(&ChainError{StepIndex: 2, AgentID: "a", Cause: cause})

	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.StepIndex)
	assert.ErrorIs(t, err, ErrAgentFailure)
	assert.Contains(t, err.Error(), "step 2")
}

func TestDispatchResult_Helpers(t *testing.T) {
	r := DispatchResult{
		NewOKEntry("a", "yes", time.Millisecond),
		NewErrEntry("b", errors.New("boom"), time.Millisecond),
		NewOKEntry("c", "no", time.Millisecond),
	}

	assert.Equal(t, []string{"yes", "no"}, r.OKContents())
	assert.Equal(t, 2, r.OKCount())
	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].AgentID)
	assert.Equal(t, KindAgentFailure, failed[0].Err.Kind)
}

func TestEntry_MarshalJSON(t *testing.T) {
	ok, err := json.Marshal(NewOKEntry("a", "hello", 1500*time.Millisecond))
	require.NoError(t, err)
	assert.JSONEq(t, `{"agent_id":"a","status":"ok","content":"hello","latency_ms":1500}`, string(ok))

	failed, err := json.Marshal(NewErrEntry("b", context.DeadlineExceeded, 50*time.Millisecond))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(failed, &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Equal(t, "timeout", decoded["error_kind"])
	assert.NotContains(t, decoded, "content")
}

func TestDecision_WinnerText(t *testing.T) {
	var nilDecision *Decision
	assert.False(t, nilDecision.Resolved())
	assert.Equal(t, "", nilDecision.WinnerText())

	w := "A"
	d := &Decision{Winner: &w, Path: PathMajority}
	assert.True(t, d.Resolved())
	assert.Equal(t, "A", d.WinnerText())
}

func TestCallBudget(t *testing.T) {
	b := NewCallBudget(3)
	require.NoError(t, b.Reserve(2))
	assert.Equal(t, 1, b.Remaining())

	err := b.Reserve(2)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 2, b.Count(), "failed reservation must not consume calls")

	require.NoError(t, b.Reserve(1))
	assert.Equal(t, 0, b.Remaining())
}

func TestCallBudget_Unlimited(t *testing.T) {
	b := NewCallBudget(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Reserve(1))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Count())
	assert.Equal(t, -1, b.Remaining())
}

func TestContent_TextAndCalls(t *testing.T) {
	c := Content{Role: "assistant", Parts: []Part{
		TextPart{Text: "a"},
		FunctionCallPart{FunctionCall: FunctionCall{ID: "1", Name: "search"}},
		TextPart{Text: "b"},
	}}
	assert.Equal(t, "ab", c.Text())
	calls := c.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}
