package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/memory"
	"agentcore/pkg/provider"
)

// Role is a chat message author.
type Role string

// Roles visible in a conversation.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) known() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Attachment is an inline file on a user message.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
	Name      string `json:"name,omitempty"`
}

// Message is one conversation turn as the UI holds it.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
	IsStreaming bool         `json:"is_streaming,omitempty"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, content string, attachments ...Attachment) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, Attachments: attachments}
}

// ValidateHistory checks the conversation rules: only user messages carry
// attachments and at most one message is streaming. Messages with other roles are
// ignored here and filtered out by ToProvider.
func ValidateHistory(msgs []Message) error {
	streaming := 0
	for i := range msgs {
		m := &msgs[i]
		if !m.Role.known() {
			continue
		}
		if len(m.Attachments) > 0 && m.Role != RoleUser {
			return llmerrors.Configuration("message %d: only user messages may carry attachments", i)
		}
		if m.IsStreaming {
			streaming++
		}
	}
	if streaming > 1 {
		return llmerrors.Configuration("%d messages are streaming; at most one may be", streaming)
	}
	return nil
}

// ToProvider converts the history to provider messages. An empty streaming placeholder
// (the reply being produced) is skipped.
func ToProvider(msgs []Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if !m.Role.known() || (m.IsStreaming && strings.TrimSpace(m.Content) == "") {
			continue
		}
		pm := provider.Message{Role: provider.Role(m.Role), Content: m.Content}
		for _, a := range m.Attachments {
			pm.Attachments = append(pm.Attachments, provider.Attachment{MediaType: a.MediaType, Data: a.Data, Name: a.Name})
		}
		out = append(out, pm)
	}
	return provider.NormalizeMessages(out)
}

// JoinUserContent concatenates the text of every user turn.
func JoinUserContent(msgs []Message) string {
	var parts []string
	for i := range msgs {
		if msgs[i].Role == RoleUser {
			if s := strings.TrimSpace(msgs[i].Content); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// String renders a short description for logs.
func (m *Message) String() string {
	preview := m.Content
	if r := []rune(preview); len(r) > 60 {
		preview = string(r[:60]) + "..."
	}
	return fmt.Sprintf("%s[%s] %q (%d attachments)", m.Role, m.ID, preview, len(m.Attachments))
}

func toStored(m *Message) memory.Message {
	stored := memory.Message{ID: m.ID, Role: string(m.Role), Content: m.Content, Reasoning: m.Reasoning}
	for _, a := range m.Attachments {
		stored.Attachments = append(stored.Attachments, memory.Attachment{MediaType: a.MediaType, Data: a.Data, Name: a.Name})
	}
	return stored
}

// History loads a session's saved conversation. A session with nothing saved yields an
// empty history.
func History(ctx context.Context, store *memory.Store, sessionID string) ([]Message, error) {
	stored, err := store.LoadConversation(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", sessionID, err)
	}
	msgs := make([]Message, 0, len(stored))
	for _, s := range stored {
		m := Message{ID: s.ID, Role: Role(s.Role), Content: s.Content, Reasoning: s.Reasoning}
		for _, a := range s.Attachments {
			m.Attachments = append(m.Attachments, Attachment{MediaType: a.MediaType, Data: a.Data, Name: a.Name})
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
