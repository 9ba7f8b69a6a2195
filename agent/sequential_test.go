package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/testutil"
)

func TestChain_FeedsOutputForward(t *testing.T) {
	r1 := testutil.NewFakeResponder("draft")
	r2 := testutil.NewFakeResponder("final")

	out, err := NewChain().Run(context.Background(), "topic", []Step{
		{Responder: NewHandle("writer", r1), Template: "Write about {input}"},
		{Responder: NewHandle("editor", r2), Template: "Edit in {style}: {input}", Vars: map[string]string{"style": "plain English"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "final", out)
	assert.Equal(t, "Write about topic", r1.LastPrompt())
	assert.Equal(t, "Edit in plain English: draft", r2.LastPrompt())
}

func TestChain_FailFast(t *testing.T) {
	r1 := testutil.NewFakeResponder("").Fail(nil)
	r2 := testutil.NewFakeResponder("never")

	_, err := NewChain().Run(context.Background(), "x", []Step{
		{Responder: NewHandle("first", r1), Template: "{input}"},
		{Responder: NewHandle("second", r2), Template: "{input}"},
	})

	var chainErr *core.ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, 0, chainErr.StepIndex)
	assert.Equal(t, "first", chainErr.AgentID)
	assert.ErrorIs(t, err, testutil.ErrFake)
	assert.Equal(t, 0, r2.Calls())
}

func TestChain_ValidatesTemplatesBeforeCalling(t *testing.T) {
	tests := []struct {
		name  string
		steps func(r core.Responder) []Step
		index int
	}{
		{
			name: "missing input placeholder",
			steps: func(r core.Responder) []Step {
				return []Step{{Responder: r, Template: "{input}"}, {Responder: r, Template: "no placeholder"}}
			},
			index: 1,
		},
		{
			name: "repeated input placeholder",
			steps: func(r core.Responder) []Step {
				return []Step{{Responder: r, Template: "{input} and again {input}"}}
			},
			index: 0,
		},
		{
			name: "unbound variable",
			steps: func(r core.Responder) []Step {
				return []Step{{Responder: r, Template: "{input} in {lang}"}}
			},
			index: 0,
		},
		{
			name: "malformed placeholder",
			steps: func(r core.Responder) []Step {
				return []Step{{Responder: r, Template: "{input"}}
			},
			index: 0,
		},
		{
			name: "nil responder",
			steps: func(core.Responder) []Step {
				return []Step{{Template: "{input}"}}
			},
			index: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testutil.NewFakeResponder("x")

			_, err := NewChain().Run(context.Background(), "in", tt.steps(r))

			var tmplErr *core.TemplateError
			require.True(t, errors.As(err, &tmplErr), "got %v", err)
			assert.Equal(t, tt.index, tmplErr.StepIndex)
			assert.Equal(t, 0, r.Calls())
		})
	}
}

func TestChain_EscapedBraces(t *testing.T) {
	r := testutil.NewFakeResponder("").Echo()

	out, err := NewChain().Run(context.Background(), "v", []Step{
		{Responder: r, Template: `{{"value": "{input}"}}`},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"value": "v"}`, out)
}

func TestChain_EmptySteps(t *testing.T) {
	out, err := NewChain().Run(context.Background(), "unchanged", nil)

	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestChain_StepTimeout(t *testing.T) {
	slow := testutil.NewFakeResponder("late").Latency(time.Second)

	c := NewChain(func(o *ChainOptions) { o.StepTimeout = 20 * time.Millisecond })
	_, err := c.Run(context.Background(), "x", []Step{{ID: "slow", Responder: slow, Template: "{input}"}})

	var chainErr *core.ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, "slow", chainErr.AgentID)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestChain_DefaultStepID(t *testing.T) {
	_, err := NewChain().Run(context.Background(), "x", []Step{
		{Responder: testutil.NewFakeResponder("ok"), Template: "{input}"},
		{Responder: testutil.NewFakeResponder("").Fail(nil), Template: "{input}"},
	})

	var chainErr *core.ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, "step-1", chainErr.AgentID)
}
