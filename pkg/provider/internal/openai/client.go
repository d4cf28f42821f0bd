// Package openai streams chat completions from OpenAI and every OpenAI-compatible REST
// service (OpenRouter, Groq, DeepSeek, Mistral, xAI, Together, LM Studio and custom hosts).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
)

// Delta fields compatible services use for reasoning text.
//
//nolint:gochecknoglobals // lookup table
var reasoningFields = []string{"reasoning", "reasoning_content"}

// Client is a raw chat-completions endpoint. Middleware is applied by the registry.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client openai.Client
	model  string
	kind   provider.Kind
}

// Load returns the factory for the REST family.
func Load() (provider.Factory, error) {
	return New, nil
}

// New creates a chat-completions endpoint against s.BaseURL. No request is made.
func New(s provider.Settings) (provider.Endpoint, error) {
	if s.BaseURL == "" {
		return nil, llmerrors.Configuration("provider %s requires a base URL", s.Kind)
	}
	// Local servers accept any key; the SDK still wants one.
	key := s.Credential
	if key == "" {
		key = "not-needed"
	}
	return &Client{
		client: openai.NewClient(
			option.WithAPIKey(key),
			option.WithBaseURL(s.BaseURL),
			option.WithMaxRetries(0),
		),
		model: s.Model,
		kind:  s.Kind,
	}, nil
}

// Model implements provider.Endpoint.
func (c *Client) Model() string { return c.model }

// Kind implements provider.Endpoint.
func (c *Client) Kind() provider.Kind { return c.kind }

// Stream implements provider.Endpoint.
//
//nolint:gocritic // Request is passed by value to match the interface
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params, c.requestOptions(req)...)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			return nil, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "stream closed before any chunk")
		}
		return nil, classifyError(err)
	}

	out := make(chan provider.Event)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		s := &streamState{emitted: map[int]bool{}}
		for more := true; more; more = stream.Next() {
			if !s.handle(ctx, out, stream.Current()) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() == nil {
				provider.Send(ctx, out, provider.Event{Type: provider.EventError, Err: classifyError(err)})
			}
			return
		}
		s.finish(ctx, out)
	}()
	return out, nil
}

type streamState struct {
	acc     openai.ChatCompletionAccumulator
	emitted map[int]bool
}

func (s *streamState) handle(ctx context.Context, out chan<- provider.Event, chunk openai.ChatCompletionChunk) bool {
	s.acc.AddChunk(chunk)
	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta
		if reasoning := reasoningText(delta); reasoning != "" {
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventReasoning, Text: reasoning}) {
				return false
			}
		}
		if delta.Content != "" {
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventText, Text: delta.Content}) {
				return false
			}
		}
	}
	if tc, ok := s.acc.JustFinishedToolCall(); ok {
		return s.emitToolCall(ctx, out, tc.Index, tc.ID, tc.Name, tc.Arguments)
	}
	return true
}

// finish emits tool calls the accumulator never reported as finished (the last call when
// a service puts finish_reason on the final argument chunk) and then the finish event.
func (s *streamState) finish(ctx context.Context, out chan<- provider.Event) {
	if len(s.acc.Choices) == 0 {
		provider.Send(ctx, out, provider.Event{
			Type:       provider.EventFinish,
			StopReason: provider.StopReasonUnknown,
			Message:    &provider.Message{Role: provider.RoleAssistant},
		})
		return
	}
	choice := s.acc.Choices[0]
	for i, tc := range choice.Message.ToolCalls {
		if !s.emitToolCall(ctx, out, i, tc.ID, tc.Function.Name, tc.Function.Arguments) {
			return
		}
	}

	msg := provider.Message{
		Role:    provider.RoleAssistant,
		Content: choice.Message.Content,
		Native:  choice.Message.ToParam(),
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, toolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	provider.Send(ctx, out, provider.Event{
		Type:       provider.EventFinish,
		StopReason: provider.NormalizeStopReason(choice.FinishReason),
		Message:    &msg,
	})
}

func (s *streamState) emitToolCall(ctx context.Context, out chan<- provider.Event, index int, id, name, args string) bool {
	if s.emitted[index] || name == "" {
		return true
	}
	s.emitted[index] = true
	call := toolCall(id, name, args)
	return provider.Send(ctx, out, provider.Event{Type: provider.EventToolCall, ToolCall: &call})
}

func toolCall(id, name, args string) provider.ToolCall {
	call := provider.ToolCall{ID: id, Name: name, RawArgs: args}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &call.Args); err != nil {
			call.Args = nil
		}
	}
	return call
}

func reasoningText(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, field := range reasoningFields {
		raw, ok := delta.JSON.ExtraFields[field]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal([]byte(raw.Raw()), &text); err == nil && text != "" {
			return text
		}
	}
	return ""
}

// buildParams converts a normalized request into chat-completion parameters.
//
//nolint:gocritic // Request is passed by value to match the interface
func (c *Client) buildParams(req provider.Request) (openai.ChatCompletionNewParams, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Reasoning.Enabled && req.Reasoning.Effort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.Reasoning.Effort)
	}
	for i := range req.Tools {
		def := &req.Tools[i]
		fn := shared.FunctionDefinitionParam{
			Name:       def.Name,
			Parameters: shared.FunctionParameters(def.InputSchema.Map()),
		}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

// requestOptions carries vendor fields the typed params do not model.
//
//nolint:gocritic // Request is passed by value to match the interface
func (c *Client) requestOptions(req provider.Request) []option.RequestOption {
	var opts []option.RequestOption
	if req.WebSearch && c.kind == provider.KindOpenRouter {
		opts = append(opts, option.WithJSONSet("plugins", []map[string]any{{"id": "web"}}))
	}
	for k, v := range req.Options {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	return opts
}

func convertMessages(system string, msgs []provider.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case provider.RoleUser:
			if !provider.HasMultipart(*m) {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			out = append(out, openai.UserMessage(contentParts(*m)))
		case provider.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case provider.RoleAssistant:
			if native, ok := m.Native.(openai.ChatCompletionMessageParamUnion); ok {
				out = append(out, native)
				continue
			}
			out = append(out, assistantMessage(m))
		}
	}
	if len(out) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	return out, nil
}

func contentParts(m provider.Message) []openai.ChatCompletionContentPartUnionParam {
	parts := provider.Parts(m)
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case provider.PartText:
			out = append(out, openai.TextContentPart(p.Text))
		case provider.PartImage:
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: p.URL}))
		case provider.PartFile:
			file := openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String("data:" + p.MediaType + ";base64," + p.Data),
			}
			if p.Filename != "" {
				file.Filename = openai.String(p.Filename)
			}
			out = append(out, openai.FileContentPart(file))
		}
	}
	return out
}

func assistantMessage(m *provider.Message) openai.ChatCompletionMessageParamUnion {
	asst := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		asst.Content.OfString = param.NewOpt(m.Content)
	}
	for _, call := range m.ToolCalls {
		args := call.RawArgs
		if args == "" {
			raw, err := json.Marshal(call.Args)
			if err != nil || call.Args == nil {
				raw = []byte("{}")
			}
			args = string(raw)
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// classifyError maps SDK errors to structured error types, preferring the status code
// the SDK reports.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if classified := llmerrors.ClassifyStatus(apiErr.StatusCode, err); classified != nil {
			return classified
		}
	}
	return llmerrors.Classify(err)
}
