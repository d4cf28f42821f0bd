package provider

import (
	"sort"
	"strings"

	"agentcore/pkg/config"
	"agentcore/pkg/llmerrors"
)

// Kind identifies a vendor API or a generic REST-compatible family.
type Kind string

// Supported provider kinds.
const (
	KindAnthropic        Kind = "anthropic"
	KindOpenAI           Kind = "openai"
	KindGoogle           Kind = "google"
	KindOllama           Kind = "ollama"
	KindOpenRouter       Kind = "openrouter"
	KindGroq             Kind = "groq"
	KindDeepSeek         Kind = "deepseek"
	KindMistral          Kind = "mistral"
	KindXAI              Kind = "xai"
	KindTogether         Kind = "together"
	KindLMStudio         Kind = "lmstudio"
	KindOpenAICompatible Kind = "openai-compatible"
)

// Family is the endpoint factory a kind resolves through.
type Family int

// Endpoint factory families.
const (
	FamilyUnknown Family = iota
	FamilyAnthropic
	FamilyREST // OpenAI chat-completions wire format
	FamilyGoogle
	FamilyOllama
)

func (f Family) String() string {
	switch f {
	case FamilyAnthropic:
		return "anthropic"
	case FamilyREST:
		return "rest"
	case FamilyGoogle:
		return "google"
	case FamilyOllama:
		return "ollama"
	case FamilyUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Kinds returns every supported kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(config.ProviderDefaults))
	for k := range config.ProviderDefaults {
		out = append(out, Kind(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind validates s as a provider kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k.Family() == FamilyUnknown {
		return "", llmerrors.Configuration("unknown provider kind %q", s)
	}
	return k, nil
}

// Family maps the kind to its endpoint factory family.
func (k Kind) Family() Family {
	switch k {
	case KindAnthropic:
		return FamilyAnthropic
	case KindGoogle:
		return FamilyGoogle
	case KindOllama:
		return FamilyOllama
	case KindOpenAI, KindOpenRouter, KindGroq, KindDeepSeek, KindMistral, KindXAI,
		KindTogether, KindLMStudio, KindOpenAICompatible:
		return FamilyREST
	default:
		return FamilyUnknown
	}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool { return k.Family() != FamilyUnknown }

// Hosted reports whether the kind is a hosted API that needs a credential.
func (k Kind) Hosted() bool {
	return config.ProviderDefaults[string(k)].Hosted
}

// ReasoningStyle reports how the vendor exposes reasoning controls.
func (k Kind) ReasoningStyle() ReasoningStyle {
	switch k {
	case KindAnthropic, KindGoogle:
		return ReasoningBudget
	case KindOpenAI, KindOpenRouter, KindXAI, KindGroq:
		return ReasoningEffort
	case KindOllama:
		return ReasoningBoolean
	case KindDeepSeek, KindMistral, KindTogether, KindLMStudio, KindOpenAICompatible:
		return ReasoningNone
	default:
		return ReasoningNone
	}
}

// NativeWebSearch reports whether the vendor runs web search server-side when
// Request.WebSearch is set.
func (k Kind) NativeWebSearch() bool {
	switch k {
	case KindAnthropic, KindGoogle, KindOpenRouter:
		return true
	default:
		return false
	}
}
