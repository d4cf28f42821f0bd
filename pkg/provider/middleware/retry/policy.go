// Package retry retries failed stream establishment with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider/middleware/circuit"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // Including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay"`  // Delay before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Cap between retries
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier per attempt
	Jitter        bool          `json:"jitter"`         // +/-10% randomization
}

// DefaultConfig provides reasonable defaults.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  250 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. It is a blocklist: anything not known to be
// permanent is retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// The caller gave up; a per-request deadline on the other hand is worth another try.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	switch llmerrors.TypeOf(llmerrors.Classify(err)) {
	case llmerrors.ErrorTypeAuth, llmerrors.ErrorTypeBadPrompt, llmerrors.ErrorTypeConfiguration,
		llmerrors.ErrorTypeUnsupportedInput, llmerrors.ErrorTypeServiceUnavailable:
		return false
	case llmerrors.ErrorTypeRateLimit, llmerrors.ErrorTypeTransient, llmerrors.ErrorTypeEmptyResponse,
		llmerrors.ErrorTypeUnknown:
		return true
	case llmerrors.ErrorTypePartialNode, llmerrors.ErrorTypeCriticalNode:
		return false
	default:
		return false
	}
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a policy; a nil classifier means ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay computes the wait before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1)) //nolint:gosec // jitter only
		delay += jitter
	}
	return delay
}

// ShouldRetry reports whether err is retryable under this policy.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
