package provider

import (
	"fmt"
	"sync"

	"agentcore/pkg/config"
	"agentcore/pkg/credentials"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
)

// Settings is everything a factory needs to build one raw endpoint.
type Settings struct {
	Kind       Kind
	Model      string
	Credential string
	BaseURL    string
}

// Factory builds a raw endpoint. It must not perform network I/O.
type Factory func(s Settings) (Endpoint, error)

// Loader produces a family's factory. It runs at most once per Registry.
type Loader func() (Factory, error)

// MiddlewareFactory builds the middleware for one resolved endpoint.
type MiddlewareFactory func(s Settings) Middleware

type family struct {
	load    Loader
	once    sync.Once
	factory Factory
	err     error
}

func (f *family) get() (Factory, error) {
	f.once.Do(func() {
		f.factory, f.err = f.load()
	})
	return f.factory, f.err
}

// Registry resolves provider configs into endpoints. Families are loaded on first use and
// cached; the registry is safe for concurrent use and is meant to be shared process-wide.
type Registry struct {
	families   map[Family]*family
	middleware []MiddlewareFactory
	logger     *logx.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFamily registers the loader for fam.
func WithFamily(fam Family, load Loader) Option {
	return func(r *Registry) {
		r.families[fam] = &family{load: load}
	}
}

// WithMiddleware appends middleware applied to every resolved endpoint, outermost first.
func WithMiddleware(mws ...MiddlewareFactory) Option {
	return func(r *Registry) {
		r.middleware = append(r.middleware, mws...)
	}
}

// NewRegistry creates a Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		families: make(map[Family]*family),
		logger:   logx.NewLogger("provider"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks cfg and credential without building anything and returns the settings
// the endpoint would be built with. All failures are ConfigurationErrors.
func (r *Registry) Validate(cfg *Config, credential string) (Settings, error) {
	if !cfg.Kind.Valid() {
		return Settings{}, llmerrors.Configuration("unknown provider kind %q", cfg.Kind)
	}
	model := cfg.ModelID
	if model == "" {
		model = config.DefaultModel(string(cfg.Kind))
	}
	if model == "" {
		return Settings{}, llmerrors.Configuration("no model selected for provider %s", cfg.Kind)
	}
	if cfg.Kind.Hosted() && credential == "" {
		return Settings{}, llmerrors.Configuration("missing credential for provider %s", cfg.Kind)
	}
	baseURL := config.ResolveBaseURL(string(cfg.Kind), cfg.BaseURL)
	if cfg.Kind.Family() == FamilyREST && baseURL == "" {
		return Settings{}, llmerrors.Configuration("provider %s requires a base URL", cfg.Kind)
	}
	return Settings{Kind: cfg.Kind, Model: model, Credential: credential, BaseURL: baseURL}, nil
}

// Resolve maps cfg to an endpoint wrapped in the registry's middleware. Every
// configuration problem is reported before any network call.
func (r *Registry) Resolve(cfg *Config, credential string) (Endpoint, error) {
	s, err := r.Validate(cfg, credential)
	if err != nil {
		return nil, err
	}
	fam, ok := r.families[cfg.Kind.Family()]
	if !ok {
		return nil, llmerrors.Configuration("no adapter registered for provider %s", cfg.Kind)
	}
	factory, err := fam.get()
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeConfiguration, err,
			fmt.Sprintf("failed to load %s adapter: %v", cfg.Kind.Family(), err))
	}
	ep, err := factory(s)
	if err != nil {
		return nil, err //nolint:wrapcheck // factories return classified errors
	}

	mws := make([]Middleware, 0, len(r.middleware))
	for _, mf := range r.middleware {
		mws = append(mws, mf(s))
	}
	r.logger.Debug("resolved %s endpoint model=%s base=%s", cfg.Kind, s.Model, s.BaseURL)
	return Chain(ep, mws...), nil
}

// ResolveWith looks up the credential for cfg in creds and resolves it.
func (r *Registry) ResolveWith(cfg *Config, creds credentials.Lookup) (Endpoint, error) {
	return r.Resolve(cfg, Credential(cfg, creds))
}

// Credential returns the secret for cfg from creds, or "" when none is stored.
func Credential(cfg *Config, creds credentials.Lookup) string {
	if creds == nil {
		return ""
	}
	ref := config.CredentialRefFor(string(cfg.Kind), cfg.CredentialRef)
	if ref == "" {
		return ""
	}
	secret, _ := creds.Get(ref)
	return secret
}
