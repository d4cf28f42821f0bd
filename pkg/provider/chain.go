package provider

import "context"

// Middleware wraps an Endpoint with additional behavior.
type Middleware func(next Endpoint) Endpoint

// endpointFunc adapts a stream function to Endpoint.
type endpointFunc struct {
	stream func(context.Context, Request) (<-chan Event, error)
	model  string
	kind   Kind
}

func (f endpointFunc) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	return f.stream(ctx, req)
}

func (f endpointFunc) Model() string { return f.model }
func (f endpointFunc) Kind() Kind    { return f.kind }

// WrapEndpoint builds an Endpoint that streams through fn and reports next's identity.
func WrapEndpoint(next Endpoint, fn func(context.Context, Request) (<-chan Event, error)) Endpoint {
	return endpointFunc{stream: fn, model: next.Model(), kind: next.Kind()}
}

// Chain composes middlewares around base. Earlier middlewares are outermost:
//
//	Chain(ep, mw1, mw2, mw3) // mw1 -> mw2 -> mw3 -> ep
func Chain(base Endpoint, middlewares ...Middleware) Endpoint {
	ep := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			ep = middlewares[i](ep)
		}
	}
	return ep
}
