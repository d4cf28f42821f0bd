package consensus

import (
	"agentcore/pkg/provider"
)

// ModelRef selects a model, optionally on another provider and credential.
type ModelRef struct {
	Kind          provider.Kind `json:"kind" yaml:"kind"`
	ModelID       string        `json:"model" yaml:"model"`
	CredentialRef string        `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
	BaseURL       string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// String renders the ref as kind/model.
func (m *ModelRef) String() string {
	if m == nil {
		return ""
	}
	return string(m.Kind) + "/" + m.ModelID
}

// config overlays the ref on base. An empty Kind keeps the base provider.
func (m *ModelRef) config(base *provider.Config) provider.Config {
	cfg := *base
	if m.Kind != "" && m.Kind != base.Kind {
		cfg.Kind = m.Kind
		cfg.CredentialRef = ""
		cfg.BaseURL = ""
	}
	cfg.ModelID = m.ModelID
	if m.CredentialRef != "" {
		cfg.CredentialRef = m.CredentialRef
	}
	if m.BaseURL != "" {
		cfg.BaseURL = m.BaseURL
	}
	cfg.SystemPrompt = ""
	cfg.WebSearchEnabled = false
	return cfg
}

// AgentRole is one analyst on the panel.
type AgentRole struct {
	ID           string    `json:"id" yaml:"id"`
	Role         string    `json:"role" yaml:"role"` // display label
	Instructions string    `json:"instructions" yaml:"instructions"`
	Model        *ModelRef `json:"model,omitempty" yaml:"model,omitempty"`
}

// Label is the role label, or the id when no label is set.
func (a *AgentRole) Label() string {
	if a.Role != "" {
		return a.Role
	}
	return a.ID
}

// Config describes the panel. Any number of agents from one up is accepted.
type Config struct {
	Agents         []AgentRole `json:"agents" yaml:"agents"`
	ReviewerModel  *ModelRef   `json:"reviewer_model,omitempty" yaml:"reviewer_model,omitempty"`
	UseSharedModel bool        `json:"use_shared_model" yaml:"use_shared_model"`
}

// AgentStatus is an analyst's progress.
type AgentStatus string

// Analyst statuses. An analyst never moves back from complete.
const (
	AgentPending  AgentStatus = "pending"
	AgentRunning  AgentStatus = "running"
	AgentComplete AgentStatus = "complete"
)

// Status is the overall progress of a consensus run.
type Status string

// Run statuses.
const (
	StatusAgentsRunning    Status = "agents_running"
	StatusConsensusRunning Status = "consensus_running"
	StatusComplete         Status = "complete"
)

// AgentResult is one analyst's row in Details.
type AgentResult struct {
	AgentID  string      `json:"agent_id"`
	Role     string      `json:"role"`
	Output   string      `json:"output"`
	Status   AgentStatus `json:"status"`
	ModelRef string      `json:"model_ref"`
}

// Details is the live state of a run as shown to the user.
type Details struct {
	AgentResults    []AgentResult `json:"agent_results"`
	Status          Status        `json:"status"`
	AgentsDone      bool          `json:"agents_done"` // the fork has finished, successfully or not
	ReviewerModel   string        `json:"reviewer_model,omitempty"`
	ReviewerVerdict string        `json:"reviewer_verdict,omitempty"`
}

// Clone returns a copy that shares nothing with d.
func (d *Details) Clone() Details {
	c := *d
	c.AgentResults = append([]AgentResult(nil), d.AgentResults...)
	return c
}
