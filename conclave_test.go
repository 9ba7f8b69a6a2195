package conclave

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/agent"
	"github.com/hupe1980/conclave/coordinator"
	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/testutil"
)

func TestConclave_RegisterAndCoordinate(t *testing.T) {
	c := New()

	require.NoError(t, c.Register(
		agent.NewHandle("a", testutil.NewFakeResponder("the capital is Paris"), agent.WithTags(agent.TagExpert)),
		agent.NewHandle("b", testutil.NewFakeResponder("Paris is the capital"), agent.WithTags(agent.TagExpert)),
		agent.NewHandle("c", testutil.NewFakeResponder("Berlin"), agent.WithTags(agent.TagExpert)),
	))

	res, err := c.Coordinate(context.Background(), "capital of France?", coordinator.StrategyDebate)
	require.NoError(t, err)

	// Jaccard links the two word-identical answers.
	assert.Equal(t, core.PathSimilarity, res.Decision.Path)
	assert.Equal(t, "the capital is Paris", res.Winner())

	items, err := c.Memory().RetrieveRelevant(context.Background(), "France", 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestConclave_DuplicateAndUnregister(t *testing.T) {
	c := New()
	h := agent.NewHandle("a", testutil.NewFakeResponder("x"))

	require.NoError(t, c.Register(h))
	assert.ErrorIs(t, c.Register(h), ErrDuplicateAgent)

	snapshot := c.Handles()
	assert.True(t, c.Unregister("a"))
	assert.False(t, c.Unregister("a"))
	assert.Empty(t, c.Handles())
	assert.Len(t, snapshot, 1)
}

func TestConclave_RegisterRejectsBatch(t *testing.T) {
	c := New()
	a := agent.NewHandle("a", testutil.NewFakeResponder("x"))

	assert.ErrorIs(t, c.Register(nil), ErrInvalidHandle)
	assert.ErrorIs(t, c.Register(a, nil), ErrInvalidHandle)
	assert.ErrorIs(t, c.Register(agent.NewHandle("", testutil.NewFakeResponder("x"))), ErrInvalidHandle)
	assert.ErrorIs(t, c.Register(a, agent.NewHandle("a", testutil.NewFakeResponder("y"))), ErrDuplicateAgent)

	// Failed batches leave the roster untouched.
	assert.Empty(t, c.Handles())

	require.NoError(t, c.Register(a))
	assert.ErrorIs(t, c.Register(agent.NewHandle("b", testutil.NewFakeResponder("y")), a), ErrDuplicateAgent)
	assert.Len(t, c.Handles(), 1)
}

func TestConclave_DisableMemoryAndSimilarity(t *testing.T) {
	c := New(func(o *Options) {
		o.DisableMemory = true
		o.Similarity = nil
	})
	assert.Nil(t, c.Memory())

	require.NoError(t, c.Register(
		agent.NewHandle("a", testutil.NewFakeResponder("the capital is Paris"), agent.WithTags(agent.TagExpert)),
		agent.NewHandle("b", testutil.NewFakeResponder("Paris is the capital"), agent.WithTags(agent.TagExpert)),
	))

	res, err := c.Coordinate(context.Background(), "q", coordinator.StrategyDebate)
	require.NoError(t, err)
	assert.Equal(t, core.PathUnresolved, res.Decision.Path)
}

func TestConclave_CoordinateRequestOverridesRoster(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(agent.NewHandle("roster", testutil.NewFakeResponder("r"))))

	res, err := c.CoordinateRequest(context.Background(), coordinator.Request{
		Task:     "x",
		Strategy: coordinator.StrategySequential,
		Handles:  []*agent.Handle{agent.NewHandle("explicit", testutil.NewFakeResponder("e"))},
	})
	require.NoError(t, err)
	assert.Equal(t, "e", res.Winner())

	res, err = c.CoordinateRequest(context.Background(), coordinator.Request{Task: "x", Strategy: coordinator.StrategySequential})
	require.NoError(t, err)
	assert.Equal(t, "r", res.Winner())
}
