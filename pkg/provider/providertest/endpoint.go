// Package providertest provides a scripted provider.Endpoint for tests.
package providertest

import (
	"context"
	"sync"

	"agentcore/pkg/provider"
)

// Turn scripts one call to Stream.
type Turn struct {
	Events   []provider.Event
	Err      error         // returned from Stream instead of a channel
	Block    bool          // after Events, wait for ctx cancellation instead of closing
	Before   func()        // runs inside Stream before anything is emitted
	Delay    chan struct{} // when set, each event waits for a receive on Delay
	Response func(req provider.Request) []provider.Event
}

// Endpoint replays Turns in order; the last turn repeats once the script runs out.
type Endpoint struct {
	ModelID  string
	KindID   provider.Kind
	Turns    []Turn
	mu       sync.Mutex
	calls    int
	requests []provider.Request
}

// New creates an endpoint with the given turns.
func New(model string, turns ...Turn) *Endpoint {
	return &Endpoint{ModelID: model, KindID: provider.KindOpenAI, Turns: turns}
}

// Text is a turn that streams chunks and finishes with stop.
func Text(chunks ...string) Turn {
	evs := make([]provider.Event, 0, len(chunks)+1)
	for _, c := range chunks {
		evs = append(evs, provider.Event{Type: provider.EventText, Text: c})
	}
	evs = append(evs, provider.Event{Type: provider.EventFinish, StopReason: provider.StopReasonStop})
	return Turn{Events: evs}
}

// ToolCalls is a turn that requests the given tool calls.
func ToolCalls(calls ...provider.ToolCall) Turn {
	evs := make([]provider.Event, 0, len(calls)+1)
	msg := &provider.Message{Role: provider.RoleAssistant}
	for i := range calls {
		evs = append(evs, provider.Event{Type: provider.EventToolCall, ToolCall: &calls[i]})
		msg.ToolCalls = append(msg.ToolCalls, calls[i])
	}
	evs = append(evs, provider.Event{Type: provider.EventFinish, StopReason: provider.StopReasonToolCalls, Message: msg})
	return Turn{Events: evs}
}

// Failure is a turn whose stream emits err after the given chunks.
func Failure(err error, chunks ...string) Turn {
	t := Text(chunks...)
	t.Events[len(t.Events)-1] = provider.Event{Type: provider.EventError, Err: err}
	return t
}

// Model implements provider.Endpoint.
func (e *Endpoint) Model() string { return e.ModelID }

// Kind implements provider.Endpoint.
func (e *Endpoint) Kind() provider.Kind { return e.KindID }

// Calls returns how many times Stream was called.
func (e *Endpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Requests returns the requests received so far.
func (e *Endpoint) Requests() []provider.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]provider.Request(nil), e.requests...)
}

// Stream implements provider.Endpoint.
func (e *Endpoint) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	e.mu.Lock()
	var turn Turn
	if len(e.Turns) > 0 {
		idx := e.calls
		if idx >= len(e.Turns) {
			idx = len(e.Turns) - 1
		}
		turn = e.Turns[idx]
	}
	e.calls++
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if turn.Before != nil {
		turn.Before()
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	evs := turn.Events
	if turn.Response != nil {
		evs = turn.Response(req)
	}

	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		for _, ev := range evs {
			if turn.Delay != nil {
				select {
				case <-turn.Delay:
				case <-ctx.Done():
					return
				}
			}
			if !provider.Send(ctx, ch, ev) {
				return
			}
		}
		if turn.Block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}
