// Package ollama streams local models through the Ollama chat API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ollama/ollama/api"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
	"agentcore/pkg/tools"
)

// errStopped ends a Chat callback loop once the consumer is gone.
var errStopped = errors.New("stream consumer stopped")

// Client is a raw Ollama endpoint.
type Client struct {
	client *api.Client
	model  string
	kind   provider.Kind
}

// Load returns the factory for the Ollama family.
func Load() (provider.Factory, error) {
	return New, nil
}

// New creates an Ollama endpoint for s.BaseURL. No request is made.
func New(s provider.Settings) (provider.Endpoint, error) {
	parsed, err := url.Parse(s.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, llmerrors.Configuration("invalid Ollama base URL %q", s.BaseURL)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  s.Model,
		kind:   s.Kind,
	}, nil
}

// Model implements provider.Endpoint.
func (o *Client) Model() string { return o.model }

// Kind implements provider.Endpoint.
func (o *Client) Kind() provider.Kind { return o.kind }

// Stream implements provider.Endpoint. It returns once the first response has arrived or
// the request has failed.
//
//nolint:gocritic // Request is passed by value to match the interface
func (o *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	chatReq, err := o.buildRequest(req)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Event)
	established := make(chan error, 1)
	go func() {
		defer close(out)
		started := false
		s := &streamState{}
		err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if !started {
				started = true
				established <- nil
			}
			if !s.handle(ctx, out, &resp) {
				return errStopped
			}
			return nil
		})
		if !started {
			if err == nil {
				err = llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "stream closed before any response")
			}
			established <- err
			return
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, errStopped) {
				provider.Send(ctx, out, provider.Event{Type: provider.EventError, Err: classifyError(err)})
			}
			return
		}
		provider.Send(ctx, out, s.finish())
	}()

	if err := <-established; err != nil {
		return nil, classifyError(err)
	}
	return out, nil
}

type streamState struct {
	text     strings.Builder
	thinking strings.Builder
	calls    []api.ToolCall
	done     string
}

func (s *streamState) handle(ctx context.Context, out chan<- provider.Event, resp *api.ChatResponse) bool {
	msg := &resp.Message
	if msg.Thinking != "" {
		s.thinking.WriteString(msg.Thinking)
		if !provider.Send(ctx, out, provider.Event{Type: provider.EventReasoning, Text: msg.Thinking}) {
			return false
		}
	}
	if msg.Content != "" {
		s.text.WriteString(msg.Content)
		if !provider.Send(ctx, out, provider.Event{Type: provider.EventText, Text: msg.Content}) {
			return false
		}
	}
	for i := range msg.ToolCalls {
		tc := msg.ToolCalls[i]
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d", len(s.calls))
		}
		s.calls = append(s.calls, tc)
		call := toolCall(&tc)
		if !provider.Send(ctx, out, provider.Event{Type: provider.EventToolCall, ToolCall: &call}) {
			return false
		}
	}
	if resp.Done {
		s.done = resp.DoneReason
		if s.done == "" {
			s.done = provider.StopReasonStop
		}
	}
	return true
}

func (s *streamState) finish() provider.Event {
	native := api.Message{
		Role:      "assistant",
		Content:   s.text.String(),
		Thinking:  s.thinking.String(),
		ToolCalls: s.calls,
	}
	msg := provider.Message{Role: provider.RoleAssistant, Content: native.Content, Native: native}
	for i := range s.calls {
		msg.ToolCalls = append(msg.ToolCalls, toolCall(&s.calls[i]))
	}
	stop := s.done
	if len(s.calls) > 0 && (stop == "" || stop == provider.StopReasonStop) {
		stop = provider.StopReasonToolCalls
	}
	return provider.Event{Type: provider.EventFinish, StopReason: provider.NormalizeStopReason(stop), Message: &msg}
}

func toolCall(tc *api.ToolCall) provider.ToolCall {
	args := tc.Function.Arguments.ToMap()
	if args == nil {
		args = map[string]any{}
	}
	return provider.ToolCall{
		ID:      tc.ID,
		Name:    tc.Function.Name,
		Args:    args,
		RawArgs: tc.Function.Arguments.String(),
	}
}

//nolint:gocritic // Request is passed by value to match the interface
func (o *Client) buildRequest(req provider.Request) (*api.ChatRequest, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	stream := true
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}
	for k, v := range req.Options {
		chatReq.Options[k] = v
	}
	if req.Reasoning.Enabled {
		chatReq.Think = &api.ThinkValue{Value: true}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq, nil
}

func convertMessages(system string, msgs []provider.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, api.Message{Role: "system", Content: m.Content})
		case provider.RoleUser:
			msg, err := userMessage(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		case provider.RoleTool:
			out = append(out, api.Message{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID, ToolName: m.ToolName})
		case provider.RoleAssistant:
			if native, ok := m.Native.(api.Message); ok {
				out = append(out, native)
				continue
			}
			msg := api.Message{Role: "assistant", Content: m.Content}
			for j, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: call.ID,
					Function: api.ToolCallFunction{
						Index:     j,
						Name:      call.Name,
						Arguments: arguments(call.Args),
					},
				})
			}
			out = append(out, msg)
		}
	}
	if len(out) == 0 {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	return out, nil
}

// userMessage puts images in the images field and inlines text attachments. Ollama has
// no other document input.
func userMessage(m *provider.Message) (api.Message, error) {
	msg := api.Message{Role: "user", Content: m.Content}
	if !provider.HasMultipart(*m) {
		return msg, nil
	}
	var text []string
	for _, p := range provider.Parts(*m) {
		switch p.Type {
		case provider.PartText:
			text = append(text, p.Text)
		case provider.PartImage, provider.PartFile:
			data, err := p.Bytes()
			if err != nil {
				return api.Message{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
					fmt.Sprintf("attachment %q is not valid base64", p.Filename))
			}
			if p.Type == provider.PartImage {
				msg.Images = append(msg.Images, api.ImageData(data))
				continue
			}
			if !strings.HasPrefix(p.MediaType, "text/") && p.MediaType != "application/json" {
				return api.Message{}, llmerrors.NewError(llmerrors.ErrorTypeUnsupportedInput,
					fmt.Sprintf("attachment type %s is not supported by Ollama models", p.MediaType))
			}
			text = append(text, fmt.Sprintf("[%s]\n%s", p.Filename, data))
		}
	}
	msg.Content = strings.Join(text, "\n\n")
	return msg, nil
}

func arguments(args map[string]any) api.ToolCallFunctionArguments {
	out := api.NewToolCallFunctionArguments()
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(k, args[k])
	}
	return out
}

func convertTools(defs []tools.Definition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		typ := def.InputSchema.Type
		if typ == "" {
			typ = "object"
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       typ,
					Properties: convertProperties(def.InputSchema.Properties),
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperties(props map[string]tools.Property) *api.ToolPropertiesMap {
	out := api.NewToolPropertiesMap()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := props[name]
		out.Set(name, convertProperty(&prop))
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	p := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	for _, v := range prop.Enum {
		p.Enum = append(p.Enum, v)
	}
	if prop.Items != nil {
		p.Items = convertProperty(prop.Items)
	}
	if len(prop.Properties) > 0 {
		p.Properties = convertProperties(prop.Properties)
	}
	return p
}

// classifyError converts Ollama errors to structured error types.
func classifyError(err error) error {
	var authErr api.AuthorizationError
	if errors.As(err, &authErr) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("Ollama rejected the request: %v", err))
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if classified := llmerrors.ClassifyStatus(statusErr.StatusCode, err); classified != nil {
			return classified
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable: %v", err))
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("Ollama model not found: %v", err))
	}
	return llmerrors.Classify(err)
}
