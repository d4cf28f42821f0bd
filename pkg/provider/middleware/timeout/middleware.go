// Package timeout bounds each provider stream with a deadline.
package timeout

import (
	"context"
	"time"

	"agentcore/pkg/provider"
)

// Middleware gives every request its own deadline covering establishment and the whole
// stream. The deadline is released once the stream has been fully consumed.
func Middleware(duration time.Duration) provider.Middleware {
	return func(next provider.Endpoint) provider.Endpoint {
		if duration <= 0 {
			return next
		}
		return provider.WrapEndpoint(next, func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			ch, err := next.Stream(timeoutCtx, req)
			if err != nil {
				cancel()
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}
			return provider.Tap(ctx, ch, nil, cancel), nil
		})
	}
}
