// Package consensus answers one prompt with a panel of analyst agents, a reviewer that
// judges their answers and a synthesizer that writes the final reply, streaming live
// progress as Details snapshots.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/chat"
	"agentcore/pkg/config"
	"agentcore/pkg/credentials"
	"agentcore/pkg/graph"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/tokens"
	"agentcore/pkg/vfs"
)

// Graph step ids.
const (
	stepAnalysts  = "analysts"
	stepConsensus = "consensus"
	stepSynthesis = "synthesis"
)

const synthesisPrompt = `You write the final answer to the user's request.
You are given several candidate answers and a reviewer's verdict on them.
Produce one unified, self-contained answer that keeps what is correct and useful from the candidates.
Do not mention the candidates, the reviewer, scores or any internal deliberation.`

// ErrNoAnswer is reported when a run ends without a synthesized answer or a verdict.
var ErrNoAnswer = errors.New("consensus run produced no answer")

// Options configures an Orchestrator.
type Options struct {
	Config   config.ConsensusConfig // zero value means the loaded configuration
	Recorder metrics.Recorder
	Tokens   tokens.Counter
	Logger   *logx.Logger
}

// Request is the input of one consensus run.
type Request struct {
	Messages []chat.Message
	Provider provider.Config // the default model; used by the synthesizer and any agent without its own
	Config   Config
}

// Orchestrator starts consensus runs.
type Orchestrator struct {
	registry *provider.Registry
	creds    credentials.Lookup
	opts     Options
	logger   *logx.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *provider.Registry, creds credentials.Lookup, opts Options) *Orchestrator {
	if opts.Config.TimeoutSec == 0 {
		opts.Config = config.GetConfigOrDefault().Consensus
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("consensus")
	}
	return &Orchestrator{registry: registry, creds: creds, opts: opts, logger: opts.Logger}
}

// Run is a handle on one consensus run.
type Run struct {
	ID     string
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the current state.
func (r *Run) State() chat.State { return chat.State(r.state.Load()) }

// Cancel aborts the run; repeated or late calls are no-ops.
func (r *Run) Cancel() { r.cancel() }

// Wait blocks until the terminal callback has returned.
func (r *Run) Wait() { <-r.done }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start begins a run and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, req Request, obs Observer) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	runCtx = logx.WithRunID(runCtx, run.ID)
	go o.execute(runCtx, run, &req, obs)
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req *Request, obs Observer) {
	defer close(run.done)
	defer run.cancel()

	started := time.Now()
	run.state.Store(int32(chat.StateStreaming))
	o.logger.Info("Consensus run %s started with %d agents", run.ID, len(req.Config.Agents))

	err := o.run(ctx, req, obs)

	var outcome string
	switch {
	case ctx.Err() != nil:
		run.state.Store(int32(chat.StateAborted))
		outcome = provider.StopReasonAbort
		o.logger.Info("Consensus run %s aborted", run.ID)
		obs.OnComplete(provider.StopReasonAbort)
	case err != nil:
		run.state.Store(int32(chat.StateErrored))
		outcome = "error"
		translated := chat.TranslateError(err, req.Provider.ModelID)
		o.logger.Error("Consensus run %s failed: %v", run.ID, translated)
		obs.OnError(translated)
	default:
		run.state.Store(int32(chat.StateCompleted))
		outcome = provider.StopReasonStop
		o.logger.Info("Consensus run %s completed in %s", run.ID, time.Since(started).Round(time.Millisecond))
		obs.OnComplete(provider.StopReasonStop)
	}
	o.opts.Recorder.ObserveRun("consensus", outcome, time.Since(started))
}

// handle binds one configured agent to its endpoint and its row in Details.
type handle struct {
	index    int
	role     AgentRole
	endpoint provider.Endpoint
	cfg      provider.Config
	modelRef string
}

// resolver resolves endpoints once per key for the duration of a run.
type resolver struct {
	o     *Orchestrator
	cache map[string]provider.Endpoint
}

func (r *resolver) resolve(key string, cfg *provider.Config) (provider.Endpoint, error) {
	if ep, ok := r.cache[key]; ok {
		return ep, nil
	}
	ep, err := r.o.registry.ResolveWith(cfg, r.o.creds)
	if err != nil {
		return nil, err //nolint:wrapcheck // configuration errors surface as is
	}
	r.cache[key] = ep
	return ep, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request, obs Observer) error {
	prompt := chat.JoinUserContent(req.Messages)
	if prompt == "" {
		return llmerrors.Configuration("consensus needs a non-empty user prompt")
	}
	if len(req.Config.Agents) == 0 {
		return llmerrors.Configuration("consensus needs at least one agent")
	}

	res := &resolver{o: o, cache: make(map[string]provider.Endpoint)}
	base := req.Provider
	shared, err := res.resolve("", &base)
	if err != nil {
		return err
	}
	sharedRef := string(base.Kind) + "/" + shared.Model()

	agents := uniqueIDs(req.Config.Agents)
	handles := make([]*handle, len(agents))
	for i, role := range agents {
		h := &handle{index: i, role: role, endpoint: shared, cfg: base, modelRef: sharedRef}
		if !req.Config.UseSharedModel && role.Model != nil {
			h.cfg = role.Model.config(&base)
			if h.endpoint, err = res.resolve("agent:"+role.ID, &h.cfg); err != nil {
				return fmt.Errorf("agent %s: %w", role.Label(), err)
			}
			h.modelRef = string(h.cfg.Kind) + "/" + h.cfg.ModelID
		}
		handles[i] = h
	}

	reviewer, reviewerRef := shared, sharedRef
	if !req.Config.UseSharedModel && req.Config.ReviewerModel != nil {
		cfg := req.Config.ReviewerModel.config(&base)
		if reviewer, err = res.resolve("reviewer", &cfg); err != nil {
			return fmt.Errorf("reviewer: %w", err)
		}
		reviewerRef = string(cfg.Kind) + "/" + cfg.ModelID
	}

	fs := vfs.New()
	defer fs.ClearTransient()
	g, err := o.build(handles, reviewer, shared, &base, fs)
	if err != nil {
		return err
	}

	t := newTracker(handles, reviewerRef, obs, o.opts.Recorder)
	t.push()

	gctx, stop := context.WithCancel(ctx)
	events := g.Stream(gctx, prompt)
	defer func() {
		stop()
		for range events { //nolint:revive // drain so the executor can exit
		}
	}()
	for ev := range events {
		if ctx.Err() != nil {
			break
		}
		if err := t.apply(&ev); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.finish()
}

func (o *Orchestrator) build(handles []*handle, reviewer, synthesizer provider.Endpoint, base *provider.Config, fs *vfs.FS) (*graph.Graph, error) {
	cfg := o.opts.Config
	nodes := make([]graph.NodeConfig, len(handles))
	for i, h := range handles {
		nodes[i] = graph.NodeConfig{
			ID:           fmt.Sprintf("%s_%d", stepAnalysts, i),
			AgentID:      h.role.ID,
			Endpoint:     h.endpoint,
			Instructions: analystPrompt(&h.role),
			MaxSteps:     cfg.MaxAnalystSteps,
			Temperature:  h.cfg.Temperature,
			Reasoning:    provider.DeriveReasoning(h.cfg.Kind, h.cfg.ReasoningEnabled, h.cfg.ReasoningEffort),
		}
	}
	g, err := graph.New(graph.Config{
		Timeout:        cfg.Timeout(),
		MaxConcurrency: cfg.MaxConcurrency,
		FS:             fs,
		Tokens:         o.opts.Tokens,
		Logger:         o.logger.With("graph"),
	}).
		Fork(stepAnalysts, nodes).
		Consensus(stepConsensus, graph.JudgeConfig{Endpoint: reviewer}).
		Node(stepSynthesis, graph.NodeConfig{
			Endpoint:     synthesizer,
			Instructions: synthesisPrompt,
			Temperature:  base.Temperature,
			Reasoning:    provider.DeriveReasoning(base.Kind, base.ReasoningEnabled, base.ReasoningEffort),
		}).
		Edge(stepAnalysts, stepConsensus).
		Edge(stepConsensus, stepSynthesis).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build consensus graph: %w", err)
	}
	return g, nil
}

// uniqueIDs copies agents, giving every one a distinct non-empty id.
func uniqueIDs(agents []AgentRole) []AgentRole {
	out := make([]AgentRole, len(agents))
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if a.ID == "" {
			a.ID = fmt.Sprintf("agent-%d", i+1)
		}
		if seen[a.ID] {
			a.ID = fmt.Sprintf("%s-%d", a.ID, i+1)
		}
		seen[a.ID] = true
		out[i] = a
	}
	return out
}

func analystPrompt(role *AgentRole) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s on a panel of analysts answering the same request independently.\n", role.Label())
	if role.Instructions != "" {
		sb.WriteString(role.Instructions)
		sb.WriteString("\n")
	}
	sb.WriteString("Give your own complete answer. Files you write are scratch space shared with the other analysts.")
	return sb.String()
}

// tracker interprets graph events into Details.
type tracker struct {
	handles     []*handle
	byID        map[string]*handle
	details     Details
	obs         Observer
	recorder    metrics.Recorder
	reviewer    string
	synthesized bool
}

func newTracker(handles []*handle, reviewerRef string, obs Observer, recorder metrics.Recorder) *tracker {
	t := &tracker{handles: handles, byID: make(map[string]*handle, len(handles)), obs: obs, recorder: recorder, reviewer: reviewerRef}
	t.details = Details{Status: StatusAgentsRunning, AgentResults: make([]AgentResult, len(handles))}
	for i, h := range handles {
		t.byID[h.role.ID] = h
		t.details.AgentResults[i] = AgentResult{
			AgentID:  h.role.ID,
			Role:     h.role.Label(),
			Status:   AgentPending,
			ModelRef: h.modelRef,
		}
	}
	return t
}

func (t *tracker) push() { t.obs.OnDetails(t.details.Clone()) }

// agent finds the row an event belongs to: by the agent id the executor carries, or by
// fork position when the id is unknown.
func (t *tracker) agent(ev *graph.Event) *AgentResult {
	if h, ok := t.byID[ev.AgentID]; ok {
		return &t.details.AgentResults[h.index]
	}
	if ev.Index >= 0 && ev.Index < len(t.details.AgentResults) {
		return &t.details.AgentResults[ev.Index]
	}
	return nil
}

// apply folds one event into Details. A non-nil error ends the run.
func (t *tracker) apply(ev *graph.Event) error {
	switch ev.Type {
	case graph.EventForkStart:
		for i := range t.details.AgentResults {
			if t.details.AgentResults[i].Status != AgentComplete {
				t.details.AgentResults[i].Status = AgentRunning
			}
		}
		t.push()

	case graph.EventForkPartial:
		if a := t.agent(ev); a != nil {
			a.Output = ev.Output
			a.Status = AgentComplete
			t.push()
		}

	case graph.EventForkComplete:
		for i := range ev.Results {
			r := &ev.Results[i]
			if !r.OK() {
				continue
			}
			if a := t.agent(&graph.Event{AgentID: r.AgentID, Index: r.Index}); a != nil && a.Status != AgentComplete {
				a.Output = r.Output
				a.Status = AgentComplete
			}
		}
		t.details.AgentsDone = true
		t.push()

	case graph.EventConsensusStart:
		t.details.Status = StatusConsensusRunning
		t.details.ReviewerModel = t.reviewer
		if ev.Reviewer != "" {
			t.details.ReviewerModel = ev.Reviewer
		}
		t.push()

	case graph.EventConsensusResult:
		if ev.Verdict != nil {
			t.details.ReviewerVerdict = t.verdict(ev.Verdict)
		}
		t.details.Status = StatusComplete
		t.push()

	case graph.EventNodeComplete:
		if ev.NodeID == stepSynthesis {
			t.synthesized = true
			t.obs.OnText(ev.Output)
		}

	case graph.EventNodeError:
		if ev.NodeID == stepSynthesis {
			t.recorder.IncNodeFailure(true)
			return fmt.Errorf("synthesis failed: %w", ev.Err)
		}
		t.recorder.IncNodeFailure(false)
		if ev.NodeID == stepConsensus {
			// The judge failed; synthesis still runs without a verdict.
			t.details.Status = StatusComplete
			t.push()
			t.obs.OnNodeError(stepConsensus, ev.Err)
			return nil
		}
		id := ev.AgentID
		if a := t.agent(ev); a != nil {
			id = a.AgentID
		}
		t.obs.OnNodeError(id, ev.Err)

	case graph.EventGraphError:
		t.recorder.IncNodeFailure(true)
		return ev.Err

	case graph.EventNodeStart, graph.EventGraphComplete:
	}
	return nil
}

// verdict renders the judge's decision with role labels instead of agent ids.
func (t *tracker) verdict(v *graph.Verdict) string {
	label := func(id string) string {
		if h, ok := t.byID[id]; ok {
			return h.role.Label()
		}
		return id
	}
	var parts []string
	if r := strings.TrimSpace(v.Reasoning); r != "" {
		parts = append(parts, r)
	}
	if len(v.Scores) > 0 {
		ids := make([]string, 0, len(v.Scores))
		for id := range v.Scores {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return t.position(ids[i]) < t.position(ids[j])
		})
		lines := make([]string, len(ids))
		for i, id := range ids {
			lines[i] = fmt.Sprintf("- %s: %g", label(id), v.Scores[id])
		}
		parts = append(parts, "Scores:\n"+strings.Join(lines, "\n"))
	}
	if v.Winner != "" {
		parts = append(parts, "Winner: "+label(v.Winner))
	}
	return strings.Join(parts, "\n\n")
}

func (t *tracker) position(id string) int {
	if h, ok := t.byID[id]; ok {
		return h.index
	}
	return len(t.handles)
}

// finish applies the completion fallback: without a synthesized answer the reviewer's
// verdict is shown instead.
func (t *tracker) finish() error {
	if t.synthesized {
		return nil
	}
	if t.details.Status == StatusComplete && t.details.ReviewerVerdict != "" {
		t.obs.OnText(t.details.ReviewerVerdict)
		return nil
	}
	return ErrNoAnswer
}
