package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/core"
)

func TestMockModel_CannedAndEcho(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("ping", "pong")

	resp, err := Collect(context.Background(), m, Request{Contents: []core.Content{core.NewTextContent("user", "ping")}})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content.Text())

	resp, err = Collect(context.Background(), m, Request{Contents: []core.Content{core.NewTextContent("user", "other")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Content.Text())
	assert.Len(t, m.Calls(), 2)
}

func TestMockModel_Script(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.Enqueue(Response{Content: core.NewTextContent("assistant", "first")})

	req := Request{Contents: []core.Content{core.NewTextContent("user", "x")}}

	resp, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content.Text())

	resp, err = Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: x", resp.Content.Text())
}

func TestMockModel_Errors(t *testing.T) {
	m := NewMockModel("mock", "mock")

	_, err := Collect(context.Background(), m, Request{})
	require.Error(t, err)

	boom := errors.New("boom")
	m.FailWith(boom)
	_, err = Collect(context.Background(), m, Request{Contents: []core.Content{core.NewTextContent("user", "x")}})
	assert.ErrorIs(t, err, boom)
}

func TestWrapStatusError(t *testing.T) {
	cause := errors.New("429 Too Many Requests")

	err := WrapStatusError("openai", 429, cause)
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.ErrorIs(t, err, cause)

	err = WrapStatusError("openai", 500, cause)
	assert.NotErrorIs(t, err, core.ErrRateLimited)
	assert.ErrorIs(t, err, cause)
}

func TestFunctionResponseText(t *testing.T) {
	cases := []struct {
		in   core.FunctionResponse
		want string
	}{
		{core.FunctionResponse{Response: "plain"}, "plain"},
		{core.FunctionResponse{Response: map[string]any{"a": 1}}, `{"a":1}`},
		{core.FunctionResponse{Error: "nope"}, "error: nope"},
		{core.FunctionResponse{}, ""},
	}
	for i, c := range cases {
		assert.Equal(t, c.want, FunctionResponseText(c.in), fmt.Sprint(i))
	}
}
