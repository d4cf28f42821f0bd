// Package anthropic streams Claude models through the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
)

// defaultMaxTokens is used when the request does not set MaxTokens.
const defaultMaxTokens = 8192

// Client is a raw Anthropic endpoint. Middleware is applied by the registry.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client anthropic.Client
	model  anthropic.Model
	kind   provider.Kind
}

// Load returns the factory for the Anthropic family.
func Load() (provider.Factory, error) {
	return New, nil
}

// New creates an Anthropic endpoint from resolved settings. No request is made.
func New(s provider.Settings) (provider.Endpoint, error) {
	// Retries belong to the middleware chain.
	opts := []option.RequestOption{option.WithAPIKey(s.Credential), option.WithMaxRetries(0)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(s.Model),
		kind:   s.Kind,
	}, nil
}

// Model implements provider.Endpoint.
func (c *Client) Model() string { return string(c.model) }

// Kind implements provider.Endpoint.
func (c *Client) Kind() provider.Kind { return c.kind }

// Stream implements provider.Endpoint. The first server event is read before returning so
// that connection and request errors surface as establishment failures.
//
//nolint:gocritic // Request is passed by value to match the interface
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	params, err := buildParams(c.model, req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params, requestOptions(req.Options)...)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			return nil, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "stream closed before any event")
		}
		return nil, classifyError(err)
	}

	out := make(chan provider.Event)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()

		var acc anthropic.Message
		for more := true; more; more = stream.Next() {
			if !handleEvent(ctx, out, &acc, stream.Current()) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() == nil {
				provider.Send(ctx, out, provider.Event{Type: provider.EventError, Err: classifyError(err)})
			}
			return
		}
		provider.Send(ctx, out, finishEvent(&acc))
	}()
	return out, nil
}

// handleEvent folds ev into acc and forwards what the caller should see. It returns false
// once the stream should stop.
func handleEvent(ctx context.Context, out chan<- provider.Event, acc *anthropic.Message, ev anthropic.MessageStreamEventUnion) bool {
	if err := acc.Accumulate(ev); err != nil {
		provider.Send(ctx, out, provider.Event{
			Type: provider.EventError,
			Err:  llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "malformed stream event"),
		})
		return false
	}

	switch e := ev.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				return provider.Send(ctx, out, provider.Event{Type: provider.EventText, Text: d.Text})
			}
		case anthropic.ThinkingDelta:
			if d.Thinking != "" {
				return provider.Send(ctx, out, provider.Event{Type: provider.EventReasoning, Text: d.Thinking})
			}
		}
	case anthropic.ContentBlockStopEvent:
		if int(e.Index) >= len(acc.Content) {
			return true
		}
		block := acc.Content[e.Index]
		if block.Type != "tool_use" {
			return true
		}
		call := provider.ToolCall{ID: block.ID, Name: block.Name, RawArgs: string(block.Input)}
		if len(block.Input) > 0 {
			if err := json.Unmarshal(block.Input, &call.Args); err != nil {
				call.Args = nil
			}
		}
		return provider.Send(ctx, out, provider.Event{Type: provider.EventToolCall, ToolCall: &call})
	}
	return true
}

func finishEvent(acc *anthropic.Message) provider.Event {
	msg := provider.Message{Role: provider.RoleAssistant, Native: acc.ToParam()}
	var text strings.Builder
	for i := range acc.Content {
		block := &acc.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			call := provider.ToolCall{ID: block.ID, Name: block.Name, RawArgs: string(block.Input)}
			_ = json.Unmarshal(block.Input, &call.Args)
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
	}
	msg.Content = text.String()
	return provider.Event{
		Type:       provider.EventFinish,
		StopReason: provider.NormalizeStopReason(string(acc.StopReason)),
		Message:    &msg,
	}
}

// buildParams converts a normalized request into Messages API parameters.
//
//nolint:gocritic // Request is passed by value to match the interface
func buildParams(model anthropic.Model, req provider.Request) (anthropic.MessageNewParams, error) {
	systemPrompt, messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	if req.Reasoning.Enabled && req.Reasoning.BudgetTokens > 0 {
		budget := int64(req.Reasoning.BudgetTokens)
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + defaultMaxTokens
		}
	} else if req.Temperature != nil {
		// Extended thinking only accepts the default temperature.
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	for i := range req.Tools {
		def := &req.Tools[i]
		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: def.InputSchema.PropertyMap(),
			Required:   def.InputSchema.Required,
		}, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	if req.WebSearch {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{},
		})
	}
	return params, nil
}

// requestOptions sets passthrough fields on the request body, overriding typed params.
func requestOptions(extra map[string]any) []option.RequestOption {
	opts := make([]option.RequestOption, 0, len(extra))
	for k, v := range extra {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	return opts
}

// convertMessages extracts system turns into the system prompt and merges consecutive
// user-side turns (user and tool results) so roles alternate.
func convertMessages(system string, msgs []provider.Message) (string, []anthropic.MessageParam, error) {
	systemParts := make([]string, 0, 2)
	if strings.TrimSpace(system) != "" {
		systemParts = append(systemParts, system)
	}

	var out []anthropic.MessageParam
	appendUser := func(blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}

	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case provider.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				systemParts = append(systemParts, m.Content)
			}
		case provider.RoleUser:
			blocks, err := userBlocks(m)
			if err != nil {
				return "", nil, err
			}
			if len(blocks) > 0 {
				appendUser(blocks...)
			}
		case provider.RoleTool:
			appendUser(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case provider.RoleAssistant:
			if native, ok := m.Native.(anthropic.MessageParam); ok {
				out = append(out, native)
				continue
			}
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}

	if len(out) == 0 {
		return "", nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "must have at least one non-system message")
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("first message must be user role, got: %s", out[0].Role))
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

func userBlocks(m *provider.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if !provider.HasMultipart(*m) {
		if m.Content == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}, nil
	}
	parts := provider.Parts(*m)
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case provider.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case provider.PartImage:
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, p.Data))
		case provider.PartFile:
			block, err := documentBlock(p)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// documentBlock maps a file part to a document block. PDFs go through as base64; text
// formats are decoded and sent as plain text.
func documentBlock(p provider.Part) (anthropic.ContentBlockParamUnion, error) {
	switch {
	case p.MediaType == "application/pdf":
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: p.Data}), nil
	case isTextual(p.MediaType):
		raw, err := p.Bytes()
		if err != nil {
			return anthropic.ContentBlockParamUnion{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
				fmt.Sprintf("attachment %q is not valid base64", p.Filename))
		}
		return anthropic.NewDocumentBlock(anthropic.PlainTextSourceParam{Data: string(raw)}), nil
	default:
		return anthropic.ContentBlockParamUnion{}, llmerrors.NewError(llmerrors.ErrorTypeUnsupportedInput,
			fmt.Sprintf("attachment type %s is not supported by Anthropic models", p.MediaType))
	}
}

func isTextual(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/json" ||
		mediaType == "application/xml" ||
		mediaType == "application/x-yaml"
}

// classifyError maps Anthropic SDK errors to structured error types, preferring the
// status code the SDK reports.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if classified := llmerrors.ClassifyStatus(apiErr.StatusCode, err); classified != nil {
			return classified
		}
	}
	return llmerrors.Classify(err)
}
