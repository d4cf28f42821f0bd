package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/middleware/circuit"
	"agentcore/pkg/provider/providertest"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("op: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"circuit open", &circuit.Error{State: circuit.Open}, false},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key"), false},
		{"bad prompt", llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "prompt too long"), false},
		{"configuration", llmerrors.Configuration("no base url"), false},
		{"exhausted", llmerrors.NewServiceUnavailableError(errors.New("x"), 3), false},
		{"rate limit", llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down"), true},
		{"unclassified 401", errors.New("HTTP 401 Unauthorized"), false},
		{"unclassified 404", errors.New("404 Not Found"), false},
		{"unclassified 503", errors.New("status 503"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"unknown", errors.New("something completely unexpected"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)
	assert.Zero(t, p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4), "capped at MaxDelay")

	p.Config.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.CalculateDelay(2)
		assert.InDelta(t, float64(100*time.Millisecond), float64(d), float64(10*time.Millisecond))
	}
}

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRetriesTransient(t *testing.T) {
	ep := providertest.New("m",
		providertest.Turn{Err: errors.New("HTTP 502 bad gateway")},
		providertest.Text("recovered"),
	)
	wrapped := Middleware(fastPolicy(3))(ep)

	ch, err := wrapped.Stream(context.Background(), provider.Request{})
	require.NoError(t, err)
	res, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 2, ep.Calls())
}

func TestMiddlewareStopsOnPermanent(t *testing.T) {
	ep := providertest.New("m", providertest.Turn{Err: errors.New("HTTP 401 Unauthorized")})
	_, err := Middleware(fastPolicy(3))(ep).Stream(context.Background(), provider.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, ep.Calls())
	assert.False(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
}

func TestMiddlewareExhausted(t *testing.T) {
	ep := providertest.New("m", providertest.Turn{Err: errors.New("connection refused")})
	_, err := Middleware(fastPolicy(3))(ep).Stream(context.Background(), provider.Request{})
	require.Error(t, err)
	assert.Equal(t, 3, ep.Calls())
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMiddlewareHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := providertest.New("m", providertest.Turn{Err: errors.New("timeout"), Before: cancel})
	slow := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)

	_, err := Middleware(slow)(ep).Stream(ctx, provider.Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, ep.Calls())
}
