package consensus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/provider"
)

func TestLoadPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: review
description: Code review panel
use_shared_model: false
agents:
  - role: Security Reviewer
    instructions: Look for vulnerabilities.
    model:
      kind: anthropic
      model: claude-sonnet-4-5
  - id: perf
    role: Performance
reviewer_model:
  kind: openai
  model: gpt-4o
  credential_ref: OPENAI_WORK_KEY
`), 0o600))

	p, err := LoadPreset(path)
	require.NoError(t, err)
	assert.Equal(t, "review", p.Name)
	assert.False(t, p.UseSharedModel)
	require.Len(t, p.Agents, 2)
	assert.Equal(t, "security-reviewer", p.Agents[0].ID)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", p.Agents[0].Model.String())
	assert.Equal(t, "perf", p.Agents[1].ID)
	assert.Nil(t, p.Agents[1].Model)
	assert.Equal(t, "OPENAI_WORK_KEY", p.ReviewerModel.CredentialRef)

	_, err = LoadPreset(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read preset")
}

func TestParsePresetErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"invalid yaml", "agents: [", "invalid YAML"},
		{"no agents", "name: empty\n", "at least one agent"},
		{"no id or role", "agents:\n  - instructions: x\n", "needs an id or a role"},
		{"duplicate ids", "agents:\n  - role: Critic\n  - id: critic\n", `duplicate agent id "critic"`},
		{"override without model", "agents:\n  - id: a\n    model:\n      kind: openai\n", "model override needs a model id"},
		{"reviewer without model", "agents:\n  - id: a\nreviewer_model:\n  kind: openai\n", "reviewer_model needs a model id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePreset([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Critic":              "critic",
		"  Devil's Advocate ": "devil-s-advocate",
		"UX / Design!!":       "ux-design",
		"***":                 "",
		"Agent 2":             "agent-2",
	}
	for in, want := range tests {
		assert.Equal(t, want, slug(in), in)
	}
}

func TestModelRefConfig(t *testing.T) {
	temp := 0.2
	base := provider.Config{
		Kind:             provider.KindOpenAI,
		ModelID:          "gpt-4o",
		CredentialRef:    "OPENAI_WORK_KEY",
		BaseURL:          "https://proxy.example.com/v1",
		SystemPrompt:     "be brief",
		WebSearchEnabled: true,
		Temperature:      &temp,
	}

	sameKind := (&ModelRef{ModelID: "gpt-4o-mini"}).config(&base)
	assert.Equal(t, provider.KindOpenAI, sameKind.Kind)
	assert.Equal(t, "gpt-4o-mini", sameKind.ModelID)
	assert.Equal(t, "OPENAI_WORK_KEY", sameKind.CredentialRef)
	assert.Equal(t, "https://proxy.example.com/v1", sameKind.BaseURL)
	assert.Empty(t, sameKind.SystemPrompt)
	assert.False(t, sameKind.WebSearchEnabled)
	require.NotNil(t, sameKind.Temperature)
	assert.InDelta(t, 0.2, *sameKind.Temperature, 1e-9)

	otherKind := (&ModelRef{Kind: provider.KindAnthropic, ModelID: "claude-sonnet-4-5"}).config(&base)
	assert.Equal(t, provider.KindAnthropic, otherKind.Kind)
	assert.Empty(t, otherKind.CredentialRef)
	assert.Empty(t, otherKind.BaseURL)

	assert.Empty(t, (*ModelRef)(nil).String())
}
