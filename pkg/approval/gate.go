package approval

import (
	"context"
	"errors"
	"fmt"

	"agentcore/pkg/logx"
)

// ErrRejected is returned for calls that were blocked or not approved.
var ErrRejected = errors.New("tool call rejected")

// Request describes one pending tool call.
type Request struct {
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
}

// Approver resolves a pending call to approved (true) or rejected (false).
type Approver func(ctx context.Context, req Request) (bool, error)

// Config configures a Gate.
type Config struct {
	Policy  string   // rego module; empty means DefaultPolicy
	Gated   []string // tool names needing approval
	Blocked []string // tool names that never run
}

// Gate intercepts tool calls before execution.
type Gate struct {
	engine   *Engine
	gated    []string
	blocked  []string
	approver Approver
	logger   *logx.Logger
}

// NewGate compiles the policy. With a nil approver every call needing approval is rejected.
func NewGate(ctx context.Context, cfg Config, approver Approver) (*Gate, error) {
	policy := cfg.Policy
	if policy == "" {
		policy = DefaultPolicy
	}
	engine, err := NewEngine(ctx, policy)
	if err != nil {
		return nil, err
	}
	return &Gate{
		engine:   engine,
		gated:    nonNil(cfg.Gated),
		blocked:  nonNil(cfg.Blocked),
		approver: approver,
		logger:   logx.NewLogger("approval"),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Decide evaluates the policy for req without waiting for approval.
func (g *Gate) Decide(ctx context.Context, req Request) (Decision, error) {
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	return g.engine.Evaluate(ctx, map[string]any{
		"tool_name":     req.ToolName,
		"args":          args,
		"gated_tools":   g.gated,
		"blocked_tools": g.blocked,
	})
}

// Check returns nil when req may run. For calls needing approval it suspends until the
// approver answers or ctx is done; a cancelled wait returns the context error.
func (g *Gate) Check(ctx context.Context, req Request) error {
	decision, err := g.Decide(ctx, req)
	if err != nil {
		return err
	}
	switch decision {
	case Allow:
		return nil
	case Block:
		g.logger.Warn("blocked tool call %s (%s)", req.ToolName, req.CallID)
		return fmt.Errorf("%w: %s is blocked by policy", ErrRejected, req.ToolName)
	case RequireApproval:
	}

	if g.approver == nil {
		return fmt.Errorf("%w: %s requires approval and no approver is configured", ErrRejected, req.ToolName)
	}
	g.logger.Info("awaiting approval for %s (%s)", req.ToolName, req.CallID)

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)
	go func() {
		ok, err := g.approver(ctx, req)
		done <- answer{ok, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // cancellation is reported as is
	case a := <-done:
		if a.err != nil {
			return fmt.Errorf("approval for %s failed: %w", req.ToolName, a.err)
		}
		if !a.ok {
			return fmt.Errorf("%w: %s was not approved", ErrRejected, req.ToolName)
		}
		return nil
	}
}
