package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/approval"
	"agentcore/pkg/memory"
	"agentcore/pkg/provider"
	"agentcore/pkg/vfs"
)

// turn is one consumed model response.
type turn struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     []provider.ToolCall
	stop      string
	msg       *provider.Message
}

func (t *turn) assistant() provider.Message {
	if t.msg != nil {
		m := *t.msg
		if m.Content == "" {
			m.Content = t.text.String()
		}
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = t.calls
		}
		return m
	}
	return provider.Message{Role: provider.RoleAssistant, Content: t.text.String(), ToolCalls: t.calls}
}

// loop runs model turns until one ends without tool calls, the step budget is spent, a
// turn fails, or ctx is done. Cancellation ends the stream without a terminal event.
//
//nolint:gocritic // req is a per-run copy
func (r *Runtime) loop(ctx context.Context, req provider.Request, ch <-chan provider.Event, out chan<- provider.Event) {
	msgs := req.Messages
	for step := 1; ; step++ {
		t, ok := r.consume(ctx, ch, out)
		if !ok {
			return
		}
		assistant := t.assistant()
		msgs = append(msgs, assistant)

		if len(t.calls) == 0 {
			r.saveConversation(ctx, msgs, t.reasoning.String())
			provider.Send(ctx, out, provider.Event{Type: provider.EventFinish, StopReason: t.stop, Message: &assistant})
			return
		}

		r.logger.Info("Processing %d tool calls (step %d, depth %d)", len(t.calls), step, r.depth)
		for i := range t.calls {
			call := t.calls[i]
			res := r.execute(ctx, &call)
			if ctx.Err() != nil {
				return
			}
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventToolResult, ToolResult: &res}) {
				return
			}
			msgs = append(msgs, provider.Message{
				Role:       provider.RoleTool,
				Content:    res.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
		r.checkpoint(ctx, step, t.calls, len(msgs))

		if step >= r.opts.MaxSteps {
			r.logger.Warn("⚠️  Maximum tool steps (%d) reached", r.opts.MaxSteps)
			r.saveConversation(ctx, msgs, t.reasoning.String())
			provider.Send(ctx, out, provider.Event{Type: provider.EventFinish, StopReason: StopReasonMaxSteps, Message: &assistant})
			return
		}

		next := req
		next.Messages = msgs
		var err error
		ch, err = r.endpoint.Stream(ctx, r.guard(next))
		if err != nil {
			if ctx.Err() == nil {
				provider.Send(ctx, out, provider.Event{Type: provider.EventError, Err: err})
			}
			return
		}
	}
}

// consume forwards one turn's deltas and tool calls to out and keeps its finish event.
// It reports false when the turn failed (the error has been forwarded) or ctx is done.
func (r *Runtime) consume(ctx context.Context, ch <-chan provider.Event, out chan<- provider.Event) (*turn, bool) {
	t := &turn{}
	defer func() {
		for range ch { //nolint:revive // drain so the producer can exit
		}
	}()
	for ev := range ch {
		forward := true
		switch ev.Type {
		case provider.EventText:
			t.text.WriteString(ev.Text)
		case provider.EventReasoning:
			t.reasoning.WriteString(ev.Text)
		case provider.EventToolCall:
			if ev.ToolCall != nil {
				t.calls = append(t.calls, *ev.ToolCall)
			}
		case provider.EventToolResult:
		case provider.EventFinish:
			t.stop = ev.StopReason
			t.msg = ev.Message
			forward = false
		case provider.EventError:
			if ctx.Err() == nil {
				provider.Send(ctx, out, ev)
			}
			return nil, false
		}
		if forward && !provider.Send(ctx, out, ev) {
			return nil, false
		}
	}
	if ctx.Err() != nil {
		return nil, false
	}
	if len(t.calls) == 0 && t.msg != nil && len(t.msg.ToolCalls) > 0 {
		for i := range t.msg.ToolCalls {
			call := t.msg.ToolCalls[i]
			if !provider.Send(ctx, out, provider.Event{Type: provider.EventToolCall, ToolCall: &call}) {
				return nil, false
			}
			t.calls = append(t.calls, call)
		}
	}
	if t.stop == "" {
		t.stop = provider.StopReasonUnknown
	}
	return t, true
}

// execute runs one tool call through the approval gate. Failures become error results
// the model can read rather than run failures.
func (r *Runtime) execute(ctx context.Context, call *provider.ToolCall) provider.ToolResult {
	res := provider.ToolResult{CallID: call.ID, Name: call.Name}
	tool, ok := r.registry.Get(call.Name)
	if !ok {
		res.Content, res.IsError = FormatResult(nil, fmt.Errorf("unknown tool %q", call.Name))
		return res
	}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if r.opts.Gate != nil {
		if err := r.opts.Gate.Check(ctx, approval.Request{CallID: call.ID, ToolName: call.Name, Args: args}); err != nil {
			res.Content, res.IsError = FormatResult(nil, err)
			return res
		}
	}

	start := time.Now()
	output, err := tool.Exec(ctx, args)
	if err != nil {
		r.logger.Error("Tool %s failed after %.3fs: %v", call.Name, time.Since(start).Seconds(), err)
	} else {
		r.logger.Debug("Tool %s completed in %.3fs", call.Name, time.Since(start).Seconds())
	}
	res.Output = output
	res.Content, res.IsError = FormatResult(output, err)
	return res
}

func (r *Runtime) persistent() bool {
	return r.depth == 0 && r.opts.Memory != nil && r.opts.SessionID != ""
}

func (r *Runtime) checkpoint(ctx context.Context, step int, calls []provider.ToolCall, messages int) {
	if !r.persistent() {
		return
	}
	names := make([]string, len(calls))
	for i := range calls {
		names[i] = calls[i].Name
	}
	cp := memory.Checkpoint{
		Step:         step,
		Label:        strings.Join(names, ","),
		MessageCount: messages,
		Todos:        r.todos.Todos(),
		Files:        r.opts.FS.Snapshot(vfs.Transient),
	}
	if _, err := r.opts.Memory.SaveCheckpoint(ctx, r.opts.SessionID, cp); err != nil {
		r.logger.Warn("failed to save checkpoint %d: %v", step, err)
		return
	}
	if _, err := r.opts.Memory.PruneCheckpoints(ctx, r.opts.SessionID, r.opts.CheckpointRetention); err != nil {
		r.logger.Warn("failed to prune checkpoints: %v", err)
	}
}

// saveConversation snapshots the visible turns of the conversation.
func (r *Runtime) saveConversation(ctx context.Context, msgs []provider.Message, reasoning string) {
	if !r.persistent() {
		return
	}
	out := make([]memory.Message, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if m.Role == provider.RoleTool || (m.Content == "" && len(m.Attachments) == 0) {
			continue
		}
		stored := memory.Message{ID: uuid.NewString(), Role: string(m.Role), Content: m.Content}
		for _, a := range m.Attachments {
			stored.Attachments = append(stored.Attachments, memory.Attachment{MediaType: a.MediaType, Data: a.Data, Name: a.Name})
		}
		out = append(out, stored)
	}
	if n := len(out); n > 0 && out[n-1].Role == string(provider.RoleAssistant) {
		out[n-1].Reasoning = reasoning
	}
	if err := r.opts.Memory.SaveConversation(ctx, r.opts.SessionID, out); err != nil {
		r.logger.Warn("failed to save conversation: %v", err)
	}
}
