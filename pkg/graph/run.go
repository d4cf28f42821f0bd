package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"agentcore/pkg/agent"
	"agentcore/pkg/provider"
)

// ErrTimeout is wrapped by the graph_error of a run that exceeded Config.Timeout.
var ErrTimeout = errors.New("graph timed out")

// stepOutput is what a finished step hands to its successors.
type stepOutput struct {
	text    string
	results []NodeResult // fork steps only
}

type execution struct {
	g       *Graph
	prompt  string
	out     chan<- Event
	outputs map[string]stepOutput
}

// Stream runs the graph over prompt. The stream ends with graph_complete, graph_error, or
// the node_error of a failed node that is not a fork member. If ctx is cancelled the
// stream closes without a terminal event.
func (g *Graph) Stream(ctx context.Context, prompt string) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		g.run(ctx, prompt, out)
	}()
	return out
}

func (g *Graph) run(parent context.Context, prompt string, out chan<- Event) {
	ctx, cancel := context.WithTimeout(parent, g.cfg.Timeout)
	defer cancel()

	started := time.Now()
	x := &execution{g: g, prompt: prompt, out: out, outputs: make(map[string]stepOutput, len(g.order))}

	var last stepOutput
	for _, s := range g.order {
		var (
			res stepOutput
			ok  bool
		)
		switch s.kind {
		case stepFork:
			res, ok = x.fork(ctx, s)
		case stepConsensus:
			res, ok = x.consensus(ctx, s)
		case stepNode:
			res, ok = x.node(ctx, s)
		}
		if parent.Err() != nil {
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.cfg.Logger.Warn("Graph timed out after %s during step %s", g.cfg.Timeout, s.id)
			send(parent, out, Event{
				Type:   EventGraphError,
				StepID: s.id,
				Index:  NoIndex,
				Err:    fmt.Errorf("%w after %s", ErrTimeout, g.cfg.Timeout),
			})
			return
		}
		if !ok {
			return
		}
		x.outputs[s.id] = res
		last = res
	}
	g.cfg.Logger.Info("Graph completed %d steps in %s", len(g.order), time.Since(started).Round(time.Millisecond))
	send(ctx, out, Event{Type: EventGraphComplete, Index: NoIndex, Output: last.text})
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// input renders what a step receives: the prompt alone, or the prompt followed by the
// outputs of its predecessors.
func (x *execution) input(stepID string) string {
	preds := x.g.preds[stepID]
	if len(preds) == 0 {
		return x.prompt
	}
	var sb strings.Builder
	sb.WriteString("Original request:\n")
	sb.WriteString(x.prompt)
	for _, p := range preds {
		sb.WriteString("\n\n")
		sb.WriteString(x.outputs[p].text)
	}
	return sb.String()
}

func (x *execution) fork(ctx context.Context, s *step) (stepOutput, bool) {
	if !send(ctx, x.out, Event{Type: EventForkStart, StepID: s.id, Index: NoIndex}) {
		return stepOutput{}, false
	}
	input := x.input(s.id)
	results := make([]NodeResult, len(s.nodes))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(x.g.cfg.MaxConcurrency)
	for i := range s.nodes {
		node := s.nodes[i]
		grp.Go(func() error {
			res := NodeResult{NodeID: node.ID, AgentID: node.AgentID, Index: i}
			if gctx.Err() != nil {
				res.Err = gctx.Err()
				results[i] = res
				return nil
			}
			send(gctx, x.out, Event{Type: EventNodeStart, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: i})
			res.Output, res.Err = x.g.runNode(gctx, &node, input)
			results[i] = res
			if gctx.Err() != nil {
				return nil
			}
			if res.Err != nil {
				x.g.cfg.Logger.Warn("Fork %s member %s failed: %v", s.id, node.ID, res.Err)
				send(gctx, x.out, Event{Type: EventNodeError, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: i, Err: res.Err})
				return nil
			}
			send(gctx, x.out, Event{Type: EventForkPartial, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: i, Output: res.Output})
			return nil
		})
	}
	_ = grp.Wait() // members report their own failures
	if ctx.Err() != nil {
		return stepOutput{}, false
	}

	if !send(ctx, x.out, Event{Type: EventForkComplete, StepID: s.id, Index: NoIndex, Results: append([]NodeResult(nil), results...)}) {
		return stepOutput{}, false
	}
	return stepOutput{text: renderCandidates(results), results: results}, true
}

func (x *execution) consensus(ctx context.Context, s *step) (stepOutput, bool) {
	fork := x.outputs[x.g.judged[s.id]]
	judge := s.judge
	if !send(ctx, x.out, Event{Type: EventConsensusStart, StepID: s.id, Index: NoIndex, Reviewer: string(judge.Endpoint.Kind()) + "/" + judge.Endpoint.Model()}) {
		return stepOutput{}, false
	}

	var candidates []NodeResult
	for i := range fork.results {
		if fork.results[i].OK() {
			candidates = append(candidates, fork.results[i])
		}
	}

	verdict, err := x.g.judge(ctx, judge, x.prompt, candidates)
	if ctx.Err() != nil {
		return stepOutput{}, false
	}
	if err != nil {
		x.g.cfg.Logger.Warn("Judge %s failed: %v", s.id, err)
		if !send(ctx, x.out, Event{Type: EventNodeError, StepID: s.id, NodeID: s.id, AgentID: s.id, Index: NoIndex, Err: err}) {
			return stepOutput{}, false
		}
		return stepOutput{text: renderCandidates(candidates), results: candidates}, true
	}

	if !send(ctx, x.out, Event{Type: EventConsensusResult, StepID: s.id, Index: NoIndex, Verdict: verdict}) {
		return stepOutput{}, false
	}
	return stepOutput{text: renderCandidates(candidates) + "\n\n" + renderVerdict(verdict), results: candidates}, true
}

func (x *execution) node(ctx context.Context, s *step) (stepOutput, bool) {
	node := s.nodes[0]
	if !send(ctx, x.out, Event{Type: EventNodeStart, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: NoIndex}) {
		return stepOutput{}, false
	}
	output, err := x.g.runNode(ctx, &node, x.input(s.id))
	if ctx.Err() != nil {
		return stepOutput{}, false
	}
	if err != nil {
		x.g.cfg.Logger.Error("Node %s failed: %v", node.ID, err)
		send(ctx, x.out, Event{Type: EventNodeError, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: NoIndex, Err: err})
		return stepOutput{}, false
	}
	if !send(ctx, x.out, Event{Type: EventNodeComplete, StepID: s.id, NodeID: node.ID, AgentID: node.AgentID, Index: NoIndex, Output: output}) {
		return stepOutput{}, false
	}
	return stepOutput{text: output}, true
}

// runNode performs one node: a single turn, or a bounded tool loop over the shared
// filesystem when MaxSteps is set.
func (g *Graph) runNode(ctx context.Context, n *NodeConfig, input string) (string, error) {
	var ep provider.Endpoint = n.Endpoint
	if n.MaxSteps > 0 {
		ep = agent.New(n.Endpoint, agent.Options{
			FS:       g.cfg.FS,
			Tokens:   g.cfg.Tokens,
			MaxSteps: n.MaxSteps,
			Logger:   g.cfg.Logger.With(n.ID),
		})
	}
	req := provider.Request{
		System:      n.Instructions,
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: input}},
		Temperature: n.Temperature,
		Reasoning:   n.Reasoning,
	}
	ch, err := ep.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.ID, err)
	}
	res, err := provider.Collect(ctx, ch)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.ID, err)
	}
	output := res.Text
	if res.Message != nil && strings.TrimSpace(res.Message.Content) != "" {
		output = res.Message.Content
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return "", fmt.Errorf("node %s produced no output", n.ID)
	}
	return output, nil
}
