package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/testutil"
)

func TestDispatcher_PreservesSubmissionOrder(t *testing.T) {
	// Later handles finish first.
	handles := []*Handle{
		NewHandle("a", testutil.NewFakeResponder("A").Latency(60*time.Millisecond)),
		NewHandle("b", testutil.NewFakeResponder("B").Latency(30*time.Millisecond)),
		NewHandle("c", testutil.NewFakeResponder("C")),
	}

	res := NewDispatcher().Dispatch(context.Background(), "q", handles, 0)

	require.Len(t, res, 3)
	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, handles[i].ID(), res[i].AgentID)
		assert.True(t, res[i].OK())
		assert.Equal(t, want, res[i].Content)
	}
}

func TestDispatcher_RunsConcurrently(t *testing.T) {
	var handles []*Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, NewHandle(fmt.Sprintf("h%d", i), testutil.NewFakeResponder("x").Latency(100*time.Millisecond)))
	}

	start := time.Now()
	res := NewDispatcher().Dispatch(context.Background(), "q", handles, 0)

	assert.Equal(t, 5, res.OKCount())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	handles := []*Handle{
		NewHandle("ok1", testutil.NewFakeResponder("yes")),
		NewHandle("bad", testutil.NewFakeResponder("").Fail(nil)),
		NewHandle("boom", testutil.NewFakeResponder("").Panic("nil map")),
		NewHandle("ok2", testutil.NewFakeResponder("yes")),
	}

	res := NewDispatcher().Dispatch(context.Background(), "q", handles, 0)

	require.Len(t, res, 4)
	assert.True(t, res[0].OK())
	assert.True(t, res[3].OK())

	require.False(t, res[1].OK())
	assert.Equal(t, core.KindAgentFailure, res[1].Err.Kind)
	assert.ErrorIs(t, res[1].Err, testutil.ErrFake)

	require.False(t, res[2].OK())
	assert.Equal(t, core.KindAgentFailure, res[2].Err.Kind)
	assert.Contains(t, res[2].Err.Error(), "nil map")

	assert.Equal(t, []string{"yes", "yes"}, res.OKContents())
	assert.Len(t, res.Failed(), 2)
}

func TestDispatcher_PerCallTimeout(t *testing.T) {
	handles := []*Handle{
		NewHandle("fast", testutil.NewFakeResponder("fast")),
		NewHandle("slow", testutil.NewFakeResponder("slow").Latency(2*time.Second)),
	}

	start := time.Now()
	res := NewDispatcher().Dispatch(context.Background(), "q", handles, 50*time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res[0].OK())
	require.False(t, res[1].OK())
	assert.Equal(t, core.KindTimeout, res[1].Err.Kind)
	assert.ErrorIs(t, res[1].Err, core.ErrTimeout)
}

func TestDispatcher_AbandonsUncooperativeResponder(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := core.ResponderFunc(func(context.Context, string) (string, error) {
		<-release
		return "too late", nil
	})

	res := NewDispatcher().Dispatch(context.Background(), "q", []*Handle{NewHandle("stuck", stuck)}, 30*time.Millisecond)

	require.Len(t, res, 1)
	assert.Equal(t, core.KindTimeout, res[0].Err.Kind)
}

func TestDispatcher_ClassifiesRateLimits(t *testing.T) {
	limited := testutil.NewFakeResponder("").Fail(fmt.Errorf("provider: %w", core.ErrRateLimited))

	res := NewDispatcher().Dispatch(context.Background(), "q", []*Handle{NewHandle("rl", limited)}, 0)

	require.False(t, res[0].OK())
	assert.Equal(t, core.KindRateLimited, res[0].Err.Kind)
	assert.True(t, errors.Is(res[0].Err, core.ErrRateLimited))
}

func TestDispatcher_EmptyHandles(t *testing.T) {
	res := NewDispatcher().Dispatch(context.Background(), "q", nil, time.Second)
	assert.Empty(t, res)
}

func TestDispatcher_NilHandle(t *testing.T) {
	res := NewDispatcher().Dispatch(context.Background(), "q", []*Handle{nil, NewHandle("a", testutil.NewFakeResponder("A"))}, 0)

	require.Len(t, res, 2)
	assert.Equal(t, "#0", res[0].AgentID)
	assert.Equal(t, core.KindAgentFailure, res[0].Err.Kind)
	assert.True(t, res[1].OK())
}

func TestDispatcher_MaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	r := core.ResponderFunc(func(ctx context.Context, _ string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	})

	var handles []*Handle
	for i := 0; i < 6; i++ {
		handles = append(handles, NewHandle(fmt.Sprintf("h%d", i), r))
	}

	d := NewDispatcher(func(o *DispatcherOptions) { o.MaxConcurrency = 2 })
	res := d.Dispatch(context.Background(), "q", handles, 0)

	assert.Equal(t, 6, res.OKCount())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_PromptReachesEveryHandle(t *testing.T) {
	r1 := testutil.NewFakeResponder("1")
	r2 := testutil.NewFakeResponder("2")

	NewDispatcher().Dispatch(context.Background(), "what is 1+1?", []*Handle{NewHandle("r1", r1), NewHandle("r2", r2)}, 0)

	assert.Equal(t, "what is 1+1?", r1.LastPrompt())
	assert.Equal(t, "what is 1+1?", r2.LastPrompt())
}
