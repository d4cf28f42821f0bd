// Package chat runs single-agent conversations: it resolves the endpoint, builds the
// request and system prompt, optionally wraps the endpoint in the deep-agent runtime, and
// dispatches the normalized stream to an Observer until exactly one terminal callback.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agentcore/pkg/agent"
	"agentcore/pkg/approval"
	"agentcore/pkg/config"
	"agentcore/pkg/credentials"
	"agentcore/pkg/logx"
	"agentcore/pkg/memory"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tools"
	"agentcore/pkg/vfs"
)

// State is the lifecycle state of a Run.
type State int32

// Run states.
const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateAborted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s >= StateCompleted }

// Options configures an Orchestrator.
type Options struct {
	Config   config.ChatConfig // zero value means the loaded configuration
	Memory   *memory.Store     // optional; enables todos, checkpoints and conversation snapshots
	Recorder metrics.Recorder
	Counter  tokens.Counter
	Now      func() time.Time
	Logger   *logx.Logger
}

// RunRequest is the input of one run.
type RunRequest struct {
	Messages       []Message
	Provider       provider.Config
	AgentMode      bool
	ForceAgentMode bool // implies AgentMode and adds the plan/execute/summarize contract
	ExtraTools     []tools.Tool
	SessionID      string
	Approver       approval.Approver // when set, gated tools wait for it
	FS             *vfs.FS           // optional; shares /memories/ across runs, each run gets its own scratch
	MaxTokens      int
	Options        map[string]any // vendor passthrough
}

func (r *RunRequest) agentMode() bool { return r.AgentMode || r.ForceAgentMode }

// Orchestrator starts runs. It is safe for concurrent use; runs share nothing but the
// registry, credentials and memory store.
type Orchestrator struct {
	registry *provider.Registry
	creds    credentials.Lookup
	opts     Options
	logger   *logx.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *provider.Registry, creds credentials.Lookup, opts Options) *Orchestrator {
	if opts.Config.MaxToolSteps == 0 {
		opts.Config = config.GetConfigOrDefault().Chat
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("chat")
	}
	return &Orchestrator{registry: registry, creds: creds, opts: opts, logger: opts.Logger}
}

// Run is a handle on one started run.
type Run struct {
	ID     string
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the current state.
func (r *Run) State() State { return State(r.state.Load()) }

// Cancel aborts the run. It is a no-op once the run has finished and may be called
// any number of times.
func (r *Run) Cancel() { r.cancel() }

// Wait blocks until the terminal callback has returned.
func (r *Run) Wait() { <-r.done }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start begins a run and returns immediately. Every outcome, including invalid input,
// is reported through obs.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest, obs Observer) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	runCtx = logx.WithRunID(runCtx, run.ID)
	go o.execute(runCtx, run, &req, obs)
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req *RunRequest, obs Observer) {
	defer close(run.done)
	defer run.cancel()

	started := time.Now()
	mode := "chat"
	if req.agentMode() {
		mode = "agent"
	}
	run.state.Store(int32(StateStreaming))
	o.logger.Info("Run %s started (%s, %s/%s)", run.ID, mode, req.Provider.Kind, req.Provider.ModelID)

	stop, model, err := o.stream(ctx, req, obs)

	var outcome string
	switch {
	case ctx.Err() != nil:
		run.state.Store(int32(StateAborted))
		outcome = provider.StopReasonAbort
		o.logger.Info("Run %s aborted", run.ID)
		obs.OnComplete(provider.StopReasonAbort)
	case err != nil:
		run.state.Store(int32(StateErrored))
		outcome = "error"
		translated := TranslateError(err, model)
		o.logger.Error("Run %s failed: %v", run.ID, translated)
		obs.OnError(translated)
	default:
		run.state.Store(int32(StateCompleted))
		outcome = stop
		o.logger.Info("Run %s completed (%s) in %s", run.ID, stop, time.Since(started).Round(time.Millisecond))
		obs.OnComplete(stop)
	}
	o.opts.Recorder.ObserveRun(mode, outcome, time.Since(started))
}

// stream performs the run and returns its stop reason. The agent runtime, if any, is
// closed before it returns.
func (o *Orchestrator) stream(ctx context.Context, req *RunRequest, obs Observer) (string, string, error) {
	if err := ValidateHistory(req.Messages); err != nil {
		return "", req.Provider.ModelID, err
	}
	cfg := req.Provider
	ep, err := o.registry.ResolveWith(&cfg, o.creds)
	if err != nil {
		return "", cfg.ModelID, err //nolint:wrapcheck // configuration errors surface as is
	}
	model := ep.Model()

	agentMode := req.agentMode()
	native := cfg.WebSearchEnabled && cfg.Kind.NativeWebSearch()
	extra := req.ExtraTools
	if agentMode && cfg.WebSearchEnabled && !native {
		extra = append([]tools.Tool{tools.NewWebFetch()}, extra...)
	}

	promptOpts := PromptOptions{
		AgentMode:      agentMode,
		ForceAgentMode: req.ForceAgentMode,
		WebSearch:      native || (agentMode && cfg.WebSearchEnabled),
	}
	if agentMode {
		for _, t := range req.ExtraTools {
			promptOpts.ExtraTools = append(promptOpts.ExtraTools, t.Definition().Name)
		}
	} else if len(req.ExtraTools) > 0 {
		logx.Debug(ctx, "chat", "ignoring %d extra tools outside agent mode", len(req.ExtraTools))
	}

	preq := provider.Request{
		System:      SystemPrompt(o.opts.Now(), cfg.SystemPrompt, promptOpts),
		Messages:    ToProvider(req.Messages),
		Temperature: cfg.Temperature,
		Reasoning:   provider.DeriveReasoning(cfg.Kind, cfg.ReasoningEnabled, cfg.ReasoningEffort),
		MaxTokens:   req.MaxTokens,
		WebSearch:   native,
		Options:     req.Options,
	}

	endpoint := ep
	if agentMode {
		rt, err := o.runtime(ctx, ep, req, extra)
		if err != nil {
			return "", model, err
		}
		defer func() { _ = rt.Close() }()
		endpoint = rt
	}

	ch, err := endpoint.Stream(ctx, preq)
	if err != nil {
		return "", model, err //nolint:wrapcheck // translated by the caller
	}
	res, err := dispatch(ctx, ch, obs)
	if err != nil {
		return "", model, err
	}
	if !agentMode {
		o.saveConversation(ctx, req, res)
	}
	return res.stop, model, nil
}

func (o *Orchestrator) runtime(ctx context.Context, ep provider.Endpoint, req *RunRequest, extra []tools.Tool) (*agent.Runtime, error) {
	var gate *approval.Gate
	if req.Approver != nil {
		g, err := approval.NewGate(ctx, approval.Config{Gated: o.opts.Config.ApprovalTools}, req.Approver)
		if err != nil {
			return nil, err //nolint:wrapcheck // already descriptive
		}
		gate = g
	}
	fs := vfs.New()
	if req.FS != nil {
		fs = req.FS.Scratch()
	}
	cfg := o.opts.Config
	return agent.New(ep, agent.Options{
		FS:                  fs,
		Memory:              o.opts.Memory,
		SessionID:           req.SessionID,
		Tokens:              o.opts.Counter,
		Tools:               extra,
		Gate:                gate,
		MaxSteps:            cfg.MaxToolSteps,
		MaxDepth:            cfg.SubAgentMaxDepth,
		SubAgentTimeout:     cfg.SubAgentTimeout(),
		ContextTokens:       cfg.ContextTokens,
		CheckpointRetention: cfg.CheckpointRetention,
		Logger:              o.logger.With("agent"),
	}), nil
}

type dispatched struct {
	stop      string
	text      string
	reasoning string
}

// dispatch forwards the stream to obs until it closes, fails or ctx is cancelled.
func dispatch(ctx context.Context, ch <-chan provider.Event, obs Observer) (dispatched, error) {
	var (
		res       dispatched
		text      strings.Builder
		reasoning strings.Builder
	)
	defer func() {
		go func() {
			for range ch { //nolint:revive // drain so the producer can exit
			}
		}()
	}()

	for ev := range ch {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch ev.Type {
		case provider.EventText:
			text.WriteString(ev.Text)
			obs.OnText(ev.Text)
		case provider.EventReasoning:
			reasoning.WriteString(ev.Text)
			obs.OnReasoning(ev.Text)
		case provider.EventToolCall:
			if ev.ToolCall != nil {
				obs.OnToolCall(toolCall(ev.ToolCall))
			}
		case provider.EventToolResult:
			if ev.ToolResult != nil {
				obs.OnToolResult(toolResult(ev.ToolResult))
			}
		case provider.EventFinish:
			res.stop = ev.StopReason
		case provider.EventError:
			if ev.Err == nil {
				return res, errors.New("stream failed")
			}
			return res, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if res.stop == "" {
		res.stop = provider.StopReasonUnknown
	}
	res.text = text.String()
	res.reasoning = reasoning.String()
	return res, nil
}

func toolCall(c *provider.ToolCall) ToolCall {
	args := c.RawArgs
	if args == "" {
		if c.Args == nil {
			args = "{}"
		} else {
			args = agent.Serialize(c.Args)
		}
	}
	return ToolCall{ID: c.ID, Name: c.Name, Arguments: args}
}

func toolResult(r *provider.ToolResult) ToolResult {
	out := r.Content
	if out == "" {
		out = agent.Serialize(r.Output)
	}
	return ToolResult{ID: r.CallID, Name: r.Name, Output: out, IsError: r.IsError}
}

// saveConversation stores the history plus the reply for plain chat runs. Agent runs
// are saved by the runtime.
func (o *Orchestrator) saveConversation(ctx context.Context, req *RunRequest, res dispatched) {
	if o.opts.Memory == nil || req.SessionID == "" {
		return
	}
	msgs := make([]memory.Message, 0, len(req.Messages)+1)
	for i := range req.Messages {
		m := &req.Messages[i]
		if m.IsStreaming && m.Content == "" {
			continue
		}
		msgs = append(msgs, toStored(m))
	}
	msgs = append(msgs, memory.Message{
		ID:        uuid.NewString(),
		Role:      string(RoleAssistant),
		Content:   res.text,
		Reasoning: res.reasoning,
	})
	if err := o.opts.Memory.SaveConversation(ctx, req.SessionID, msgs); err != nil {
		o.logger.Warn("failed to save conversation for session %s: %v", req.SessionID, err)
	}
}
