package consensus

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is a named panel stored as YAML.
type Preset struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Config      `yaml:",inline"`
}

// LoadPreset reads a preset file.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %s: %w", path, err)
	}
	p, err := ParsePreset(data)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", path, err)
	}
	return p, nil
}

// ParsePreset decodes and validates a preset. Agents without an id get one derived from
// their role label.
func ParsePreset(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(p.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(p.Agents))
	for i := range p.Agents {
		a := &p.Agents[i]
		if a.ID == "" {
			a.ID = slug(a.Role)
		}
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d needs an id or a role", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Model != nil && a.Model.ModelID == "" {
			return nil, fmt.Errorf("agent %q: model override needs a model id", a.ID)
		}
	}
	if p.ReviewerModel != nil && p.ReviewerModel.ModelID == "" {
		return nil, fmt.Errorf("reviewer_model needs a model id")
	}
	return &p, nil
}

func slug(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

// DefaultConfig is a three-analyst panel sharing the caller's model.
func DefaultConfig() Config {
	return Config{
		UseSharedModel: true,
		Agents: []AgentRole{
			{ID: "analyst", Role: "Analyst", Instructions: "Answer rigorously. Lay out the facts and the reasoning step by step."},
			{ID: "critic", Role: "Critic", Instructions: "Look for what could be wrong, missing or risky, then give your own best answer."},
			{ID: "pragmatist", Role: "Pragmatist", Instructions: "Focus on what is practical and actionable. Prefer concrete recommendations."},
		},
	}
}
