package provider

import "strings"

// ReasoningStyle is the shape of a vendor's reasoning control.
type ReasoningStyle int

// Reasoning styles.
const (
	ReasoningNone    ReasoningStyle = iota // no control; directive is dropped
	ReasoningBoolean                       // on/off thinking flag
	ReasoningEffort                        // low/medium/high
	ReasoningBudget                        // thinking token budget
)

// Effort levels.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// Thinking budgets per effort level.
const (
	BudgetLow    = 2048
	BudgetMedium = 8192
	BudgetHigh   = 16384
)

// Reasoning is the vendor-neutral reasoning directive carried on a Request.
// The zero value means no reasoning directive.
type Reasoning struct {
	Enabled      bool
	Effort       string
	BudgetTokens int
	Style        ReasoningStyle
}

// DeriveReasoning builds the directive for kind from the request flags. Kinds without
// a reasoning control get the zero Reasoning.
func DeriveReasoning(kind Kind, enabled bool, effort string) Reasoning {
	style := kind.ReasoningStyle()
	if !enabled || style == ReasoningNone {
		return Reasoning{}
	}
	effort = normalizeEffort(effort)
	r := Reasoning{Enabled: true, Style: style}
	switch style {
	case ReasoningEffort:
		r.Effort = effort
	case ReasoningBudget:
		r.Effort = effort
		r.BudgetTokens = budgetFor(effort)
	case ReasoningBoolean, ReasoningNone:
	}
	return r
}

func normalizeEffort(effort string) string {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case EffortLow, "minimal":
		return EffortLow
	case EffortHigh, "max", "maximum":
		return EffortHigh
	default:
		return EffortMedium
	}
}

func budgetFor(effort string) int {
	switch effort {
	case EffortLow:
		return BudgetLow
	case EffortHigh:
		return BudgetHigh
	default:
		return BudgetMedium
	}
}
