// Package agent is the deep-agent runtime: a tool loop over one provider endpoint with
// planning, filesystem tools, bounded sub-agent delegation, an optional approval gate,
// a context-window guard and per-step checkpoints.
package agent

import (
	"context"
	"sync"
	"time"

	"agentcore/pkg/approval"
	"agentcore/pkg/logx"
	"agentcore/pkg/memory"
	"agentcore/pkg/provider"
	"agentcore/pkg/tokens"
	"agentcore/pkg/tools"
	"agentcore/pkg/vfs"
)

// Defaults applied by New.
const (
	DefaultMaxSteps            = 25
	DefaultMaxDepth            = 2
	DefaultSubAgentTimeout     = 5 * time.Minute
	DefaultCheckpointRetention = 10
)

// StopReasonMaxSteps ends a run that was still calling tools when its step budget ran out.
const StopReasonMaxSteps = "max_steps"

// Options configures a Runtime.
type Options struct {
	FS        *vfs.FS       // required
	Memory    *memory.Store // optional durable store for todos, checkpoints and the conversation
	SessionID string

	Tokens tokens.Counter
	Tools  []tools.Tool // merged into the built-in set by name
	Gate   *approval.Gate

	MaxSteps            int
	MaxDepth            int // sub-agent nesting limit; 0 disables the task tool
	SubAgentTimeout     time.Duration
	ContextTokens       int // 0 disables the guard
	CheckpointRetention int

	Logger *logx.Logger
}

// Runtime drives the tool loop. It implements provider.Endpoint, so a caller consumes it
// exactly like a raw endpoint. A Runtime serves one stream at a time.
type Runtime struct {
	endpoint provider.Endpoint
	opts     Options
	depth    int
	registry *tools.Registry
	todos    *tools.TodoList
	logger   *logx.Logger

	loadOnce  sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	template provider.Request // parameters inherited by sub-agents
}

// New creates a root runtime over endpoint.
func New(endpoint provider.Endpoint, opts Options) *Runtime {
	if opts.FS == nil {
		opts.FS = vfs.New()
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens.Default()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.SubAgentTimeout <= 0 {
		opts.SubAgentTimeout = DefaultSubAgentTimeout
	}
	if opts.CheckpointRetention <= 0 {
		opts.CheckpointRetention = DefaultCheckpointRetention
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("agent")
	}
	return newRuntime(endpoint, opts, 0)
}

func newRuntime(endpoint provider.Endpoint, opts Options, depth int) *Runtime {
	r := &Runtime{
		endpoint: endpoint,
		opts:     opts,
		depth:    depth,
		logger:   opts.Logger,
		todos:    tools.NewTodoList(opts.Memory, opts.SessionID),
	}
	r.registry = tools.NewRegistry(tools.FilesystemTools(opts.FS)...)
	r.registry.Merge(r.todos)
	if depth < opts.MaxDepth {
		r.registry.Merge(&taskTool{parent: r})
	}
	r.registry.Merge(opts.Tools...)
	return r
}

// Model implements provider.Endpoint.
func (r *Runtime) Model() string { return r.endpoint.Model() }

// Kind implements provider.Endpoint.
func (r *Runtime) Kind() provider.Kind { return r.endpoint.Kind() }

// Depth is 0 for the root runtime and grows by one per sub-agent level.
func (r *Runtime) Depth() int { return r.depth }

// ToolNames returns the names of the tools offered to the model.
func (r *Runtime) ToolNames() []string { return r.registry.Names() }

// Todos returns the current plan.
func (r *Runtime) Todos() []memory.Todo { return r.todos.Todos() }

// FS returns the runtime's filesystem.
func (r *Runtime) FS() *vfs.FS { return r.opts.FS }

// Close releases the run's scratch space. Sub-agents share their parent's filesystem and
// leave it alone. Close is idempotent.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.depth == 0 {
			r.opts.FS.ClearTransient()
		}
	})
	return nil
}

// Stream implements provider.Endpoint. The first model turn is established before it
// returns; failures of later turns arrive as an error event.
//
//nolint:gocritic // Request is passed by value to match the interface
func (r *Runtime) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	r.loadOnce.Do(func() {
		if err := r.todos.Load(ctx); err != nil {
			r.logger.Warn("failed to load todos for session %s: %v", r.opts.SessionID, err)
		}
	})

	req.Tools = r.registry.Definitions()
	req.Messages = append([]provider.Message(nil), req.Messages...)
	r.mu.Lock()
	r.template = req
	r.mu.Unlock()

	first, err := r.endpoint.Stream(ctx, r.guard(req))
	if err != nil {
		return nil, err //nolint:wrapcheck // establishment errors pass through unchanged
	}

	out := make(chan provider.Event)
	go func() {
		defer close(out)
		r.loop(ctx, req, first, out)
	}()
	return out, nil
}

func (r *Runtime) inherited() provider.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return provider.Request{
		Temperature: r.template.Temperature,
		Reasoning:   r.template.Reasoning,
		MaxTokens:   r.template.MaxTokens,
		WebSearch:   r.template.WebSearch,
		Options:     r.template.Options,
	}
}
