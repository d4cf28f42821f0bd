package provider

import (
	"context"
	"errors"
	"strings"
)

// Send delivers ev on ch unless ctx is done first.
func Send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Tap forwards every event from in, calling observe for each one. done runs once after
// in is exhausted. If ctx ends first the rest of in is drained (and still observed) so
// the producer can exit.
func Tap(ctx context.Context, in <-chan Event, observe func(Event), done func()) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		if done != nil {
			defer done()
		}
		for ev := range in {
			if observe != nil {
				observe(ev)
			}
			if !Send(ctx, out, ev) {
				for rest := range in {
					if observe != nil {
						observe(rest)
					}
				}
				return
			}
		}
	}()
	return out
}

// Result is a fully consumed stream.
type Result struct {
	Text       string
	Reasoning  string
	ToolCalls  []ToolCall
	StopReason string
	Message    *Message
}

// Collect consumes a stream until it closes. The first error event is returned as the
// error; a stream closed by cancellation returns ctx.Err().
func Collect(ctx context.Context, in <-chan Event) (Result, error) {
	var (
		res       Result
		text      strings.Builder
		thinking  strings.Builder
		finished  bool
		streamErr error
	)
	for ev := range in {
		switch ev.Type {
		case EventText:
			text.WriteString(ev.Text)
		case EventReasoning:
			thinking.WriteString(ev.Text)
		case EventToolCall:
			if ev.ToolCall != nil {
				res.ToolCalls = append(res.ToolCalls, *ev.ToolCall)
			}
		case EventToolResult:
		case EventFinish:
			finished = true
			res.StopReason = ev.StopReason
			res.Message = ev.Message
		case EventError:
			if streamErr == nil {
				streamErr = ev.Err
				if streamErr == nil {
					streamErr = errors.New("stream failed")
				}
			}
		}
	}
	res.Text = text.String()
	res.Reasoning = thinking.String()
	if streamErr != nil {
		return res, streamErr
	}
	if !finished {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.StopReason = StopReasonUnknown
	}
	if res.StopReason == "" {
		res.StopReason = StopReasonUnknown
	}
	return res, nil
}

// Events returns a closed channel holding evs, for endpoints that compute their output
// up front.
func Events(evs ...Event) <-chan Event {
	ch := make(chan Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}
