package provider

import (
	"encoding/base64"
	"strings"
)

// PartType discriminates Part.
type PartType string

// Content part types.
const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one element of a multi-part user message.
type Part struct {
	Type      PartType
	Text      string // text parts
	URL       string // image parts: data:<media>;base64,<payload>
	MediaType string // image and file parts
	Data      string // base64 payload for image and file parts
	Filename  string // file parts
}

// Bytes decodes the part's base64 payload.
func (p Part) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// NormalizeMessages keeps only user, assistant and system turns, in order.
func NormalizeMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
			if m.Role != RoleUser {
				m.Attachments = nil
			}
			out = append(out, m)
		case RoleTool:
		}
	}
	return out
}

// Parts expands a message into content parts. A user message with attachments becomes an
// optional leading text part (only when the trimmed text is non-empty) followed by one
// part per attachment. Anything else is a single text part.
func Parts(m Message) []Part {
	if m.Role != RoleUser || len(m.Attachments) == 0 {
		return []Part{{Type: PartText, Text: m.Content}}
	}
	parts := make([]Part, 0, len(m.Attachments)+1)
	if strings.TrimSpace(m.Content) != "" {
		parts = append(parts, Part{Type: PartText, Text: m.Content})
	}
	for _, a := range m.Attachments {
		if a.IsImage() {
			parts = append(parts, Part{
				Type:      PartImage,
				URL:       "data:" + a.MediaType + ";base64," + a.Data,
				MediaType: a.MediaType,
				Data:      a.Data,
			})
			continue
		}
		parts = append(parts, Part{Type: PartFile, MediaType: a.MediaType, Data: a.Data, Filename: a.Name})
	}
	return parts
}

// HasMultipart reports whether Parts(m) would yield more than plain text.
func HasMultipart(m Message) bool {
	return m.Role == RoleUser && len(m.Attachments) > 0
}
