package circuit

import (
	"context"
	"errors"

	"agentcore/pkg/provider"
)

// Middleware rejects requests while the wrapped endpoint's circuit is open. A request
// fails if the stream cannot be established or ends with an error event; cancellation
// by the caller counts neither way.
func (s *Set) Middleware() provider.Middleware {
	return func(next provider.Endpoint) provider.Endpoint {
		id := key(next.Kind(), next.Model())
		return provider.WrapEndpoint(next, func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
			state, ok := s.admit(id)
			if !ok {
				s.recorder.IncCircuitOpen(string(next.Kind()), next.Model())
				return nil, &Error{Endpoint: id, State: state}
			}

			ch, err := next.Stream(ctx, req)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.report(id, false)
				}
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			var failed error
			return provider.Tap(ctx, ch, func(ev provider.Event) {
				if ev.Type == provider.EventError {
					failed = ev.Err
				}
			}, func() {
				switch {
				case failed != nil && !errors.Is(failed, context.Canceled):
					s.report(id, false)
				case failed == nil && ctx.Err() == nil:
					s.report(id, true)
				}
			}), nil
		})
	}
}
