package retry

import (
	"context"
	"fmt"
	"time"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/provider"
)

// Middleware retries stream establishment according to policy. Once events have started
// flowing nothing is retried, since partial output has already reached the caller.
func Middleware(policy *Policy) provider.Middleware {
	logger := logx.NewLogger("retry")
	return func(next provider.Endpoint) provider.Endpoint {
		return provider.WrapEndpoint(next, func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
			var lastErr error
			for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
				if attempt > 1 {
					delay := policy.CalculateDelay(attempt)
					logger.Debug("%s/%s attempt %d after %v: %v", next.Kind(), next.Model(), attempt, delay, lastErr)
					if delay > 0 {
						timer := time.NewTimer(delay)
						select {
						case <-ctx.Done():
							timer.Stop()
							return nil, fmt.Errorf("stream retry cancelled: %w", ctx.Err())
						case <-timer.C:
						}
					}
				}

				ch, err := next.Stream(ctx, req)
				if err == nil {
					return ch, nil
				}
				lastErr = err
				if !policy.ShouldRetry(err) || attempt >= policy.Config.MaxAttempts {
					break
				}
			}

			if policy.Config.MaxAttempts > 1 && policy.ShouldRetry(lastErr) && ctx.Err() == nil {
				return nil, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			}
			return nil, lastErr
		})
	}
}
