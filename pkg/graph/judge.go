package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"agentcore/pkg/provider"
)

const defaultJudgePrompt = `You are the reviewer of a panel of analysts who answered the same request independently.
Compare their answers for correctness, completeness and clarity.
Reply with a single JSON object and nothing else:
{"reasoning": "<why the best answer is best, and what the others miss>", "scores": {"<agent id>": <0-10>, ...}, "winner": "<agent id>"}`

// judge asks the reviewer to score the candidates. With no candidates there is nothing
// to review and an empty verdict is returned without calling the model.
func (g *Graph) judge(ctx context.Context, cfg JudgeConfig, prompt string, candidates []NodeResult) (*Verdict, error) {
	if len(candidates) == 0 {
		return &Verdict{Reasoning: "No analyst produced an answer, so there was nothing to compare."}, nil
	}
	system := cfg.Instructions
	if system == "" {
		system = defaultJudgePrompt
	}
	var sb strings.Builder
	sb.WriteString("Request:\n")
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	sb.WriteString(renderCandidates(candidates))

	ch, err := cfg.Endpoint.Stream(ctx, provider.Request{
		System:   system,
		Messages: []provider.Message{{Role: provider.RoleUser, Content: sb.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}
	res, err := provider.Collect(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}
	return ParseVerdict(res.Text, candidates), nil
}

// ParseVerdict reads the judge's reply. A JSON object (bare, fenced or embedded in prose)
// supplies reasoning, scores and winner; anything else becomes free-text reasoning.
// Candidate references by position ("1", "Candidate 2") are mapped to agent ids.
func ParseVerdict(text string, candidates []NodeResult) *Verdict {
	v := &Verdict{Raw: text}
	obj, ok := extractJSON(text)
	if !ok {
		v.Reasoning = strings.TrimSpace(text)
		return v
	}

	parsed := gjson.Parse(obj)
	v.Reasoning = strings.TrimSpace(firstString(parsed, "reasoning", "rationale", "explanation", "summary"))
	if v.Reasoning == "" {
		v.Reasoning = strings.TrimSpace(stripJSON(text, obj))
	}

	scores := parsed.Get("scores")
	switch {
	case scores.IsObject():
		scores.ForEach(func(key, value gjson.Result) bool {
			if id := resolveCandidate(key.String(), candidates); id != "" {
				v.setScore(id, value.Float())
			}
			return true
		})
	case scores.IsArray():
		scores.ForEach(func(_, item gjson.Result) bool {
			ref := firstString(item, "agent", "agent_id", "id", "candidate")
			if id := resolveCandidate(ref, candidates); id != "" {
				v.setScore(id, item.Get("score").Float())
			}
			return true
		})
	}

	v.Winner = resolveCandidate(firstString(parsed, "winner", "best", "selected"), candidates)
	return v
}

func (v *Verdict) setScore(id string, score float64) {
	if v.Scores == nil {
		v.Scores = make(map[string]float64)
	}
	v.Scores[id] = score
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if f := r.Get(k); f.Exists() && f.String() != "" {
			return f.String()
		}
	}
	return ""
}

// extractJSON finds the outermost JSON object in text.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	obj := text[start : end+1]
	if !gjson.Valid(obj) {
		return "", false
	}
	return obj, true
}

func stripJSON(text, obj string) string {
	rest := strings.Replace(text, obj, "", 1)
	rest = strings.ReplaceAll(rest, "```json", "")
	return strings.ReplaceAll(rest, "```", "")
}

// resolveCandidate maps an agent id, node id or 1-based position to an agent id.
func resolveCandidate(ref string, candidates []NodeResult) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	for i := range candidates {
		if ref == candidates[i].AgentID || ref == candidates[i].NodeID {
			return candidates[i].AgentID
		}
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"candidate", "answer", "#"} {
		lower = strings.TrimSpace(strings.TrimPrefix(lower, prefix))
	}
	if n, err := strconv.Atoi(lower); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1].AgentID
	}
	return ""
}

func renderCandidates(results []NodeResult) string {
	var sb strings.Builder
	sb.WriteString("Candidate answers:")
	n := 0
	for i := range results {
		r := &results[i]
		if !r.OK() {
			continue
		}
		n++
		fmt.Fprintf(&sb, "\n\n### Candidate %d (agent id: %s)\n%s", n, r.AgentID, r.Output)
	}
	if n == 0 {
		sb.WriteString("\n\n(none)")
	}
	return sb.String()
}

func renderVerdict(v *Verdict) string {
	var sb strings.Builder
	sb.WriteString("Reviewer verdict:\n")
	sb.WriteString(v.Reasoning)
	if len(v.Scores) > 0 {
		ids := make([]string, 0, len(v.Scores))
		for id := range v.Scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		sb.WriteString("\nScores:")
		for _, id := range ids {
			fmt.Fprintf(&sb, " %s=%g", id, v.Scores[id])
		}
	}
	if v.Winner != "" {
		sb.WriteString("\nWinner: ")
		sb.WriteString(v.Winner)
	}
	return sb.String()
}
