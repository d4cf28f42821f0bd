package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
	"agentcore/pkg/tools"
)

func newTestClient(t *testing.T, h http.HandlerFunc) provider.Endpoint {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ep, err := New(provider.Settings{Kind: provider.KindOllama, Model: "llama3", BaseURL: srv.URL})
	require.NoError(t, err)
	return ep
}

func TestStreamNDJSON(t *testing.T) {
	var got api.ChatRequest
	ep := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"model":"llama3","message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":"Hi"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"ls","arguments":{"path":"/"}}}]},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	})

	temp := 0.1
	ch, err := ep.Stream(context.Background(), provider.Request{
		System:      "sys",
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hello"}},
		Temperature: &temp,
		Reasoning:   provider.DeriveReasoning(provider.KindOllama, true, ""),
		Tools:       []tools.Definition{{Name: "ls", InputSchema: tools.InputSchema{Properties: map[string]tools.Property{"path": {Type: "string"}}}}},
	})
	require.NoError(t, err)
	res, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, "Hi", res.Text)
	assert.Equal(t, "hmm", res.Reasoning)
	assert.Equal(t, provider.StopReasonToolCalls, res.StopReason)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "call_0", res.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"path": "/"}, res.ToolCalls[0].Args)
	_, ok := res.Message.Native.(api.Message)
	assert.True(t, ok)

	require.NotNil(t, got.Think)
	assert.Equal(t, true, got.Think.Value)
	assert.InDelta(t, 0.1, got.Options["temperature"], 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Tools, 1)
	_, hasPath := got.Tools[0].Function.Parameters.Properties.Get("path")
	assert.True(t, hasPath)
}

func TestStreamModelNotFound(t *testing.T) {
	ep := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama3\" not found, try pulling it first"}`))
	})
	_, err := ep.Stream(context.Background(), provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(provider.Settings{Kind: provider.KindOllama, Model: "m", BaseURL: "::not a url"})
	assert.True(t, llmerrors.IsConfiguration(err))
}

func TestUserMessageAttachments(t *testing.T) {
	m := provider.Message{
		Role:    provider.RoleUser,
		Content: "describe",
		Attachments: []provider.Attachment{
			{MediaType: "image/png", Data: "aW1n"},
			{MediaType: "text/markdown", Data: "IyB0aXRsZQ==", Name: "notes.md"},
		},
	}
	msg, err := userMessage(&m)
	require.NoError(t, err)
	require.Len(t, msg.Images, 1)
	assert.Equal(t, api.ImageData("img"), msg.Images[0])
	assert.Equal(t, "describe\n\n[notes.md]\n# title", msg.Content)

	m.Attachments = []provider.Attachment{{MediaType: "application/pdf", Data: "cGRm"}}
	_, err = userMessage(&m)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeUnsupportedInput))
}

func TestConvertAssistantToolCalls(t *testing.T) {
	out, err := convertMessages("", []provider.Message{
		{Role: provider.RoleUser, Content: "go"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1", Name: "ls", Args: map[string]any{"path": "/", "recursive": true}}}},
		{Role: provider.RoleTool, ToolCallID: "c1", ToolName: "ls", Content: "a"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	args := out[1].ToolCalls[0].Function.Arguments
	assert.Equal(t, `{"path":"/","recursive":true}`, args.String())
	assert.Equal(t, "ls", out[2].ToolName)
}
