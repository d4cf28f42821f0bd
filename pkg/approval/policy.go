// Package approval decides whether a tool call may run, must wait for a human decision,
// or is refused outright. Decisions come from a rego policy.
package approval

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decision is the outcome of evaluating the policy for one tool call.
type Decision string

// Decisions.
const (
	Allow           Decision = "allow"
	RequireApproval Decision = "require_approval"
	Block           Decision = "block"
)

// DefaultPolicy blocks names in input.blocked_tools and gates names in input.gated_tools.
const DefaultPolicy = `
package agentcore.approval

default decision := "allow"

decision := "block" if {
	input.tool_name in input.blocked_tools
} else := "require_approval" if {
	input.tool_name in input.gated_tools
}
`

const policyQuery = "data.agentcore.approval.decision"

// Engine is a prepared rego policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policy, which must define data.agentcore.approval.decision.
func NewEngine(ctx context.Context, policy string) (*Engine, error) {
	r := rego.New(
		rego.Query(policyQuery),
		rego.Module("approval.rego", policy),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate runs the policy. An undefined decision is Allow; any value other than the
// three known decisions is an error.
func (e *Engine) Evaluate(ctx context.Context, input map[string]any) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Allow, nil
	}
	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("policy decision has type %T, want string", results[0].Expressions[0].Value)
	}
	switch d := Decision(s); d {
	case Allow, RequireApproval, Block:
		return d, nil
	default:
		return "", fmt.Errorf("unknown policy decision %q", s)
	}
}
