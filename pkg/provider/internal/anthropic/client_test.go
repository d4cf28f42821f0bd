package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
	"agentcore/pkg/tools"
)

func sse(events ...string) string {
	var sb strings.Builder
	for _, e := range events {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(e), &head)
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", head.Type, e)
	}
	return sb.String()
}

func newTestClient(t *testing.T, h http.HandlerFunc) provider.Endpoint {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ep, err := New(provider.Settings{Kind: provider.KindAnthropic, Model: "claude-test", Credential: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	return ep
}

func TestStreamTextAndToolUse(t *testing.T) {
	var body map[string]any
	ep := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse(
			`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me look"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_1","name":"ls","input":{}}}`,
			`{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`,
			`{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"/\"}"}}`,
			`{"type":"content_block_stop","index":2}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`,
			`{"type":"message_stop"}`,
		)))
	})

	req := provider.Request{
		System:    "be brief",
		Messages:  []provider.Message{{Role: provider.RoleUser, Content: "list files"}},
		Reasoning: provider.DeriveReasoning(provider.KindAnthropic, true, "low"),
		Tools: []tools.Definition{{
			Name:        "ls",
			Description: "List files",
			InputSchema: tools.InputSchema{Type: "object", Properties: map[string]tools.Property{"path": {Type: "string"}}},
		}},
	}
	ch, err := ep.Stream(context.Background(), req)
	require.NoError(t, err)
	res, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "let me look", res.Reasoning)
	assert.Equal(t, provider.StopReasonToolCalls, res.StopReason)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "toolu_1", res.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"path": "/"}, res.ToolCalls[0].Args)

	require.NotNil(t, res.Message)
	assert.Equal(t, "Hello", res.Message.Content)
	native, ok := res.Message.Native.(anthropic.MessageParam)
	require.True(t, ok)
	assert.Len(t, native.Content, 3, "thinking block is kept for replay")

	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, true, body["stream"])
	thinking, _ := body["thinking"].(map[string]any)
	assert.Equal(t, "enabled", thinking["type"])
	assert.EqualValues(t, provider.BudgetLow, thinking["budget_tokens"])
	assert.NotContains(t, body, "temperature")
}

func TestStreamForwardsOptions(t *testing.T) {
	var body map[string]any
	ep := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse(
			`{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		)))
	})

	ch, err := ep.Stream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		Options:  map[string]any{"top_k": 5, "metadata": map[string]any{"user_id": "u-1"}},
	})
	require.NoError(t, err)
	res, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, provider.StopReasonStop, res.StopReason)
	assert.EqualValues(t, 5, body["top_k"])
	assert.Equal(t, map[string]any{"user_id": "u-1"}, body["metadata"])
	assert.Equal(t, "claude-test", body["model"])
}

func TestStreamEstablishmentErrorIsClassified(t *testing.T) {
	ep := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})
	_, err := ep.Stream(context.Background(), provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
}

func TestConvertMessagesMergesUserSide(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "extra rules"},
		{Role: provider.RoleUser, Content: "first"},
		{Role: provider.RoleUser, Content: "second"},
		{Role: provider.RoleAssistant, Content: "calling", ToolCalls: []provider.ToolCall{{ID: "t1", Name: "ls"}}},
		{Role: provider.RoleTool, ToolCallID: "t1", ToolName: "ls", Content: "a.txt"},
		{Role: provider.RoleUser, Content: "thanks"},
	}
	system, out, err := convertMessages("base", msgs)
	require.NoError(t, err)
	assert.Equal(t, "base\n\nextra rules", system)
	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Len(t, out[0].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 2)
	require.NotNil(t, out[1].Content[1].OfToolUse)
	assert.Equal(t, map[string]any{}, out[1].Content[1].OfToolUse.Input)
	require.Len(t, out[2].Content, 2)
	require.NotNil(t, out[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", out[2].Content[0].OfToolResult.ToolUseID)
}

func TestConvertMessagesRejectsLeadingAssistant(t *testing.T) {
	_, _, err := convertMessages("", []provider.Message{{Role: provider.RoleAssistant, Content: "hi"}})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))

	_, _, err = convertMessages("sys", []provider.Message{{Role: provider.RoleSystem, Content: "only"}})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}

func TestUserAttachments(t *testing.T) {
	m := provider.Message{
		Role:    provider.RoleUser,
		Content: "  ",
		Attachments: []provider.Attachment{
			{MediaType: "image/png", Data: "aW1n"},
			{MediaType: "application/pdf", Data: "cGRm", Name: "a.pdf"},
			{MediaType: "text/plain", Data: "aGVsbG8=", Name: "a.txt"},
		},
	}
	blocks, err := userBlocks(&m)
	require.NoError(t, err)
	require.Len(t, blocks, 3, "blank text is dropped")
	require.NotNil(t, blocks[0].OfImage)
	assert.Equal(t, "aW1n", blocks[0].OfImage.Source.OfBase64.Data)
	require.NotNil(t, blocks[1].OfDocument)
	require.NotNil(t, blocks[2].OfDocument)
	assert.Equal(t, "hello", blocks[2].OfDocument.Source.OfText.Data)

	m.Attachments = []provider.Attachment{{MediaType: "application/zip", Data: "eA=="}}
	_, err = userBlocks(&m)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeUnsupportedInput))
}

func TestBuildParamsTemperatureAndWebSearch(t *testing.T) {
	temp := 0.3
	params, err := buildParams("claude-test", provider.Request{
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		Temperature: &temp,
		WebSearch:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)
	assert.Equal(t, 0.3, params.Temperature.Value)
	require.Len(t, params.Tools, 1)
	assert.NotNil(t, params.Tools[0].OfWebSearchTool20250305)
}
