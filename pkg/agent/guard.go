package agent

import (
	"agentcore/pkg/provider"
)

// attachmentTokens is the flat cost charged per attachment.
const attachmentTokens = 1000

// guard drops the oldest exchanges until the request fits ContextTokens. An exchange runs
// from one user message to the next; the latest exchange and all system messages are
// always kept, so an oversized final exchange is sent as it is.
//
//nolint:gocritic // Request is copied on purpose
func (r *Runtime) guard(req provider.Request) provider.Request {
	limit := r.opts.ContextTokens
	if limit <= 0 {
		return req
	}
	total := r.opts.Tokens.Count(req.System)
	for i := range req.Messages {
		total += r.countMessage(&req.Messages[i])
	}
	if total <= limit {
		return req
	}

	var system, rest []provider.Message
	for i := range req.Messages {
		if req.Messages[i].Role == provider.RoleSystem {
			system = append(system, req.Messages[i])
		} else {
			rest = append(rest, req.Messages[i])
		}
	}

	before := len(rest)
	for total > limit {
		cut := nextExchange(rest)
		if cut <= 0 {
			break
		}
		for i := 0; i < cut; i++ {
			total -= r.countMessage(&rest[i])
		}
		rest = rest[cut:]
	}
	if dropped := before - len(rest); dropped > 0 {
		r.logger.Info("Context guard dropped %d messages (≈%d tokens remain, limit %d)", dropped, total, limit)
	}

	req.Messages = append(system, rest...)
	return req
}

// nextExchange returns the index of the first user message after msgs[0], or -1.
func nextExchange(msgs []provider.Message) int {
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == provider.RoleUser {
			return i
		}
	}
	return -1
}

func (r *Runtime) countMessage(m *provider.Message) int {
	n := r.opts.Tokens.Count(m.Content)
	for i := range m.ToolCalls {
		n += r.opts.Tokens.Count(m.ToolCalls[i].Name)
		if m.ToolCalls[i].RawArgs != "" {
			n += r.opts.Tokens.Count(m.ToolCalls[i].RawArgs)
		} else {
			n += r.opts.Tokens.Count(Serialize(m.ToolCalls[i].Args))
		}
	}
	return n + attachmentTokens*len(m.Attachments)
}
