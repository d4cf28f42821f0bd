// Package provider maps a provider configuration to a streaming generation endpoint and
// normalizes requests and events across vendors.
package provider

import (
	"context"

	"agentcore/pkg/tools"
)

// Role is a message author.
type Role string

// Message roles. RoleTool entries are produced by the tool loop, never by callers.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Attachment is an inline file carried by a user message.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64 payload
	Name      string `json:"name,omitempty"`
}

// IsImage reports whether the attachment has an image/* media type.
func (a Attachment) IsImage() bool {
	return len(a.MediaType) >= 6 && a.MediaType[:6] == "image/"
}

// Config selects and parameterizes one endpoint. It is immutable per request.
type Config struct {
	Kind             Kind     `json:"kind" yaml:"kind"`
	ModelID          string   `json:"model_id" yaml:"model"`
	CredentialRef    string   `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
	BaseURL          string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SystemPrompt     string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ReasoningEnabled bool     `json:"reasoning_enabled,omitempty" yaml:"reasoning_enabled,omitempty"`
	ReasoningEffort  string   `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	WebSearchEnabled bool     `json:"web_search_enabled,omitempty" yaml:"web_search_enabled,omitempty"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Args    map[string]any `json:"args,omitempty"`
	RawArgs string         `json:"raw_args,omitempty"`
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Output  any    `json:"output,omitempty"`
	Content string `json:"content"` // Output serialized for the model
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one normalized conversation turn.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`  // assistant turns
	ToolCallID  string       `json:"tool_call_id,omitempty"` // tool turns
	ToolName    string       `json:"tool_name,omitempty"`    // tool turns

	// Native is the vendor's own encoding of an assistant turn, replayed verbatim by the
	// adapter that produced it (thinking signatures and similar).
	Native any `json:"-"`
}

// EventType discriminates Event.
type EventType string

// Event types.
const (
	EventText       EventType = "text"
	EventReasoning  EventType = "reasoning"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventFinish     EventType = "finish"
	EventError      EventType = "error"
)

// Event is one item of a normalized stream. A stream ends with exactly one finish or
// error event unless its context is cancelled first.
type Event struct {
	Type       EventType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	StopReason string   // finish only
	Message    *Message // finish only: the assembled assistant turn
	Err        error    // error only
}

// Request is a normalized generation request.
type Request struct {
	System      string
	Messages    []Message
	Temperature *float64
	Tools       []tools.Definition
	Reasoning   Reasoning
	MaxTokens   int
	WebSearch   bool
	Options     map[string]any // vendor passthrough
}

// Endpoint is a resolved generation target bound to one model and credential.
type Endpoint interface {
	// Stream starts a generation. Establishment failures are returned directly;
	// failures after that arrive as an error event.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	Model() string
	Kind() Kind
}
