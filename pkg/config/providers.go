package config

// ProviderDefault holds the built-in settings for one provider kind.
type ProviderDefault struct {
	BaseURL       string // empty means the vendor SDK default or, for REST-compatible kinds, none
	CredentialRef string // environment variable consulted when no secret is stored
	Hosted        bool   // hosted kinds require a credential
}

// ProviderDefaults maps provider kind names to their built-in settings.
// openai-compatible deliberately has no base URL; the caller must supply one.
//
//nolint:gochecknoglobals // static table
var ProviderDefaults = map[string]ProviderDefault{
	"anthropic":         {BaseURL: "", CredentialRef: "ANTHROPIC_API_KEY", Hosted: true},
	"openai":            {BaseURL: "https://api.openai.com/v1", CredentialRef: "OPENAI_API_KEY", Hosted: true},
	"google":            {BaseURL: "", CredentialRef: "GEMINI_API_KEY", Hosted: true},
	"ollama":            {BaseURL: "http://localhost:11434"},
	"openrouter":        {BaseURL: "https://openrouter.ai/api/v1", CredentialRef: "OPENROUTER_API_KEY", Hosted: true},
	"groq":              {BaseURL: "https://api.groq.com/openai/v1", CredentialRef: "GROQ_API_KEY", Hosted: true},
	"deepseek":          {BaseURL: "https://api.deepseek.com/v1", CredentialRef: "DEEPSEEK_API_KEY", Hosted: true},
	"mistral":           {BaseURL: "https://api.mistral.ai/v1", CredentialRef: "MISTRAL_API_KEY", Hosted: true},
	"xai":               {BaseURL: "https://api.x.ai/v1", CredentialRef: "XAI_API_KEY", Hosted: true},
	"together":          {BaseURL: "https://api.together.xyz/v1", CredentialRef: "TOGETHER_API_KEY", Hosted: true},
	"lmstudio":          {BaseURL: "http://localhost:1234/v1"},
	"openai-compatible": {CredentialRef: "OPENAI_COMPATIBLE_API_KEY"},
}

// ResolveBaseURL returns the base URL for kind: explicit value, then config override,
// then built-in default. The empty string means none is known.
func ResolveBaseURL(kind, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg, err := GetConfig(); err == nil {
		if s, ok := cfg.Providers[kind]; ok && s.BaseURL != "" {
			return s.BaseURL
		}
	}
	return ProviderDefaults[kind].BaseURL
}

// CredentialRefFor returns the credential reference for kind: explicit value, then config
// override, then the built-in environment variable name.
func CredentialRefFor(kind, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cfg, err := GetConfig(); err == nil {
		if s, ok := cfg.Providers[kind]; ok && s.CredentialRef != "" {
			return s.CredentialRef
		}
	}
	return ProviderDefaults[kind].CredentialRef
}

// DefaultModel returns the configured default model for kind, if any.
func DefaultModel(kind string) string {
	if cfg, err := GetConfig(); err == nil {
		return cfg.Providers[kind].DefaultModel
	}
	return ""
}
