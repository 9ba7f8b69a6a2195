package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *anthropic.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL+"/"),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	return &client
}

func TestModel_Generate(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "tu_1", "name": "weather", "input": {"city": "Oslo"}}
			],
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`)
	})

	m := NewModelFromClient(client)
	resp, err := model.Collect(context.Background(), m, model.Request{
		Instructions: "Be terse.",
		Contents:     []core.Content{core.NewTextContent("user", "Weather in Oslo?")},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name:       "weather",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}, "required": []string{"city"}},
		}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Checking.", resp.Content.Text())
	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, calls[0].Arguments)
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	system, ok := body["system"].([]any)
	require.True(t, ok)
	assert.Equal(t, "Be terse.", system[0].(map[string]any)["text"])
	assert.Len(t, body["tools"], 1)
}

func TestModel_Generate_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`)
	})

	m := NewModelFromClient(client)
	_, err := model.Collect(context.Background(), m, model.Request{
		Contents: []core.Content{core.NewTextContent("user", "hi")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRateLimited)
}

func TestBuildMessages_ToolResultsBecomeUserTurn(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "k" })
	msgs := m.buildMessages([]core.Content{
		core.NewTextContent("system", "ignored here"),
		core.NewTextContent("user", "weather?"),
		{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "tu_1", Name: "weather", Arguments: `{"city":"Oslo"}`}}}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "tu_1", Name: "weather", Response: "rain"}}}},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
}

func TestModel_Info(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "k" })
	assert.Equal(t, "anthropic", m.Info().Provider)
	assert.True(t, m.Info().SupportsTools)
}
