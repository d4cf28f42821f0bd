// Package google streams Gemini models through the Google GenAI SDK.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
	"agentcore/pkg/tools"
)

// GeminiClient is a raw Gemini endpoint. The SDK client needs a context to build, so it
// is created on the first request.
//
//nolint:govet // Simple client struct, logical grouping preferred
type GeminiClient struct {
	mu      sync.Mutex
	client  *genai.Client
	apiKey  string
	baseURL string
	model   string
	kind    provider.Kind
}

// Load returns the factory for the Google family.
func Load() (provider.Factory, error) {
	return New, nil
}

// New creates a Gemini endpoint from resolved settings. No request is made.
func New(s provider.Settings) (provider.Endpoint, error) {
	return &GeminiClient{apiKey: s.Credential, baseURL: s.BaseURL, model: s.Model, kind: s.Kind}, nil
}

// Model implements provider.Endpoint.
func (g *GeminiClient) Model() string { return g.model }

// Kind implements provider.Endpoint.
func (g *GeminiClient) Kind() provider.Kind { return g.kind }

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI}
	if g.baseURL != "" {
		cfg.HTTPOptions.BaseURL = g.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeConfiguration, err,
			fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return client, nil
}

// Stream implements provider.Endpoint. The first response is pulled before returning so
// that request errors surface as establishment failures.
//
//nolint:gocritic // Request is passed by value to match the interface
func (g *GeminiClient) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	contents, cfg, err := buildRequest(req)
	if err != nil {
		return nil, err
	}
	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}

	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, g.model, contents, cfg))
	first, err, ok := next()
	if !ok {
		stop()
		return nil, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "stream closed before any response")
	}
	if err != nil {
		stop()
		return nil, classifyError(err)
	}

	out := make(chan provider.Event)
	go func() {
		defer close(out)
		defer stop()

		s := &streamState{}
		for resp := first; ; {
			if !s.handle(ctx, out, resp) {
				return
			}
			resp, err, ok = next()
			if !ok {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					provider.Send(ctx, out, provider.Event{Type: provider.EventError, Err: classifyError(err)})
				}
				return
			}
		}
		provider.Send(ctx, out, s.finish())
	}()
	return out, nil
}

type streamState struct {
	parts  []*genai.Part
	stop   string
	calls  []provider.ToolCall
	blocks int
}

func (s *streamState) handle(ctx context.Context, out chan<- provider.Event, resp *genai.GenerateContentResponse) bool {
	if resp == nil || len(resp.Candidates) == 0 {
		return true
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		s.stop = string(cand.FinishReason)
	}
	if cand.Content == nil {
		return true
	}
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		s.keep(part)
		switch {
		case part.FunctionCall != nil:
			call := provider.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
			if call.ID == "" {
				// Gemini matches responses by name; the index keeps repeated calls apart.
				call.ID = fmt.Sprintf("%s_%d", call.Name, len(s.calls))
			}
			s.calls = append(s.calls, call)
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventToolCall, ToolCall: &call}) {
				return false
			}
		case part.Thought && part.Text != "":
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventReasoning, Text: part.Text}) {
				return false
			}
		case part.Text != "":
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventText, Text: part.Text}) {
				return false
			}
		}
	}
	return true
}

// keep records part for replay, joining plain text fragments of the same kind.
func (s *streamState) keep(part *genai.Part) {
	plain := part.FunctionCall == nil && part.InlineData == nil && len(part.ThoughtSignature) == 0
	if n := len(s.parts); plain && n > 0 {
		last := s.parts[n-1]
		if last.FunctionCall == nil && last.InlineData == nil && last.Thought == part.Thought && len(last.ThoughtSignature) == 0 {
			last.Text += part.Text
			return
		}
	}
	cp := *part
	s.parts = append(s.parts, &cp)
}

func (s *streamState) finish() provider.Event {
	var text strings.Builder
	for _, p := range s.parts {
		if !p.Thought && p.FunctionCall == nil {
			text.WriteString(p.Text)
		}
	}
	stop := s.stop
	if len(s.calls) > 0 && (stop == "" || stop == string(genai.FinishReasonStop)) {
		stop = provider.StopReasonToolCalls
	}
	return provider.Event{
		Type:       provider.EventFinish,
		StopReason: provider.NormalizeStopReason(stop),
		Message: &provider.Message{
			Role:      provider.RoleAssistant,
			Content:   text.String(),
			ToolCalls: s.calls,
			Native:    genai.NewContentFromParts(s.parts, genai.RoleModel),
		},
	}
}

// buildRequest converts a normalized request into Gemini contents and config.
//
//nolint:gocritic // Request is passed by value to match the interface
func buildRequest(req provider.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, system, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return nil, nil, err
	}
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		//nolint:gosec // MaxTokens validated at higher layer, overflow acceptable
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Reasoning.Enabled {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.Reasoning.BudgetTokens > 0 {
			//nolint:gosec // budgets are small constants
			tc.ThinkingBudget = genai.Ptr(int32(req.Reasoning.BudgetTokens))
		}
		cfg.ThinkingConfig = tc
	}
	if len(req.Tools) > 0 {
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: convertTools(req.Tools)})
	}
	if req.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if err := applyOptions(cfg, req.Options); err != nil {
		return nil, nil, err
	}
	return contents, cfg, nil
}

// applyOptions maps passthrough options onto cfg. Generation settings (snake_case or
// camelCase) set the typed field; any other key is added to the request body as is.
func applyOptions(cfg *genai.GenerateContentConfig, opts map[string]any) error {
	for k, v := range opts {
		var ok bool
		switch strings.ReplaceAll(strings.ToLower(k), "_", "") {
		case "topk":
			var f float64
			if f, ok = number(v); ok {
				cfg.TopK = genai.Ptr(float32(f))
			}
		case "topp":
			var f float64
			if f, ok = number(v); ok {
				cfg.TopP = genai.Ptr(float32(f))
			}
		case "presencepenalty":
			var f float64
			if f, ok = number(v); ok {
				cfg.PresencePenalty = genai.Ptr(float32(f))
			}
		case "frequencypenalty":
			var f float64
			if f, ok = number(v); ok {
				cfg.FrequencyPenalty = genai.Ptr(float32(f))
			}
		case "seed":
			var f float64
			if f, ok = number(v); ok {
				cfg.Seed = genai.Ptr(int32(f)) //nolint:gosec // caller-supplied seed
			}
		case "candidatecount":
			var f float64
			if f, ok = number(v); ok {
				cfg.CandidateCount = int32(f) //nolint:gosec // small count
			}
		case "responsemimetype":
			cfg.ResponseMIMEType, ok = v.(string)
		case "stopsequences":
			cfg.StopSequences, ok = stringList(v)
		default:
			if cfg.HTTPOptions == nil {
				cfg.HTTPOptions = &genai.HTTPOptions{}
			}
			if cfg.HTTPOptions.ExtraBody == nil {
				cfg.HTTPOptions.ExtraBody = map[string]any{}
			}
			cfg.HTTPOptions.ExtraBody[k] = v
			ok = true
		}
		if !ok {
			return llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("option %q has unsupported value %v", k, v))
		}
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringList(v any) ([]string, bool) {
	switch s := v.(type) {
	case string:
		return []string{s}, true
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func convertMessages(system string, msgs []provider.Message) ([]*genai.Content, string, error) {
	systemParts := make([]string, 0, 2)
	if strings.TrimSpace(system) != "" {
		systemParts = append(systemParts, system)
	}

	var contents []*genai.Content
	for i := range msgs {
		m := &msgs[i]
		switch m.Role {
		case provider.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				systemParts = append(systemParts, m.Content)
			}
		case provider.RoleUser:
			parts, err := userParts(m)
			if err != nil {
				return nil, "", err
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		case provider.RoleTool:
			name := m.ToolName
			if name == "" {
				name = m.ToolCallID
			}
			part := genai.NewPartFromFunctionResponse(name, map[string]any{"content": m.Content})
			part.FunctionResponse.ID = m.ToolCallID
			// Responses to one model turn travel together.
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		case provider.RoleAssistant:
			if native, ok := m.Native.(*genai.Content); ok && native != nil {
				contents = append(contents, native)
				continue
			}
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		}
	}
	if len(contents) == 0 {
		return nil, "", llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	return contents, strings.Join(systemParts, "\n\n"), nil
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func userParts(m *provider.Message) ([]*genai.Part, error) {
	if !provider.HasMultipart(*m) {
		if m.Content == "" {
			return nil, nil
		}
		return []*genai.Part{genai.NewPartFromText(m.Content)}, nil
	}
	var parts []*genai.Part
	for _, p := range provider.Parts(*m) {
		if p.Type == provider.PartText {
			parts = append(parts, genai.NewPartFromText(p.Text))
			continue
		}
		data, err := p.Bytes()
		if err != nil {
			return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err,
				fmt.Sprintf("attachment %q is not valid base64", p.Filename))
		}
		parts = append(parts, genai.NewPartFromBytes(data, p.MediaType))
	}
	return parts, nil
}

func convertTools(defs []tools.Definition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		//nolint:gocritic // rangeValCopy: Property size acceptable for this use case
		for name, prop := range def.InputSchema.Properties {
			props[name] = convertSchema(&prop)
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return decls
}

// convertSchema recursively converts a Property to a Gemini schema.
func convertSchema(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description, Enum: prop.Enum}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertSchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if len(prop.Properties) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(prop.Properties))
			//nolint:gocritic // rangeValCopy: Property size acceptable for this use case
			for name, child := range prop.Properties {
				schema.Properties[name] = convertSchema(&child)
			}
			schema.Required = prop.Required
		}
	default:
		schema.Type = genai.TypeString
	}
	return schema
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if classified := llmerrors.ClassifyStatus(apiErr.Code, err); classified != nil {
			return classified
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		if classified := llmerrors.ClassifyStatus(apiErrPtr.Code, err); classified != nil {
			return classified
		}
	}
	return llmerrors.Classify(err)
}
