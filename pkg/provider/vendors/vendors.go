// Package vendors builds the provider registry with every built-in adapter family and
// the resilience middleware chain.
package vendors

import (
	"time"

	"agentcore/pkg/config"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/internal/anthropic"
	"agentcore/pkg/provider/internal/google"
	"agentcore/pkg/provider/internal/ollama"
	"agentcore/pkg/provider/internal/openai"
	"agentcore/pkg/provider/middleware/circuit"
	metricsmw "agentcore/pkg/provider/middleware/metrics"
	"agentcore/pkg/provider/middleware/retry"
	"agentcore/pkg/provider/middleware/timeout"
	"agentcore/pkg/tokens"
)

// Options wires the registry's observability.
type Options struct {
	Recorder metrics.Recorder // nil means no metrics
	Counter  tokens.Counter   // nil means tokens.Default()
	Logger   *logx.Logger     // nil means a "provider" logger
}

// NewRegistry creates a registry with all adapter families and the middleware chain
// Metrics -> CircuitBreaker -> Retry -> Timeout -> raw endpoint, configured from res.
// Extra options are applied after the defaults.
func NewRegistry(res config.ResilienceConfig, opts Options, extra ...provider.Option) *provider.Registry {
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("provider")
	}

	breakers := circuit.NewSet(CircuitConfig(res), opts.Recorder)
	policy := retry.NewPolicy(RetryConfig(res), nil)
	requestTimeout := res.RequestTimeout()

	base := []provider.Option{
		provider.WithFamily(provider.FamilyAnthropic, anthropic.Load),
		provider.WithFamily(provider.FamilyREST, openai.Load),
		provider.WithFamily(provider.FamilyGoogle, google.Load),
		provider.WithFamily(provider.FamilyOllama, ollama.Load),
		provider.WithMiddleware(
			func(provider.Settings) provider.Middleware {
				return metricsmw.Middleware(opts.Recorder, opts.Counter, opts.Logger)
			},
			breakers.Factory(),
			func(provider.Settings) provider.Middleware { return retry.Middleware(policy) },
			func(provider.Settings) provider.Middleware { return timeout.Middleware(requestTimeout) },
		),
	}
	return provider.NewRegistry(append(base, extra...)...)
}

// Default builds a registry from the global configuration, recording to recorder.
func Default(recorder metrics.Recorder) *provider.Registry {
	cfg := config.GetConfigOrDefault()
	return NewRegistry(cfg.Resilience, Options{Recorder: recorder})
}

// RetryConfig converts the persisted retry settings.
func RetryConfig(res config.ResilienceConfig) retry.Config {
	r := res.Retry
	return retry.Config{
		MaxAttempts:   r.MaxAttempts,
		InitialDelay:  time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(r.MaxDelayMs) * time.Millisecond,
		BackoffFactor: r.BackoffFactor,
		Jitter:        r.Jitter,
	}
}

// CircuitConfig converts the persisted breaker settings.
func CircuitConfig(res config.ResilienceConfig) circuit.Config {
	c := res.Circuit
	return circuit.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          time.Duration(c.TimeoutSec) * time.Second,
	}
}
