// Package metrics records provider stream metrics.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/middleware/circuit"
	"agentcore/pkg/tokens"
)

// Middleware records one metrics.Request per stream once the stream is exhausted.
// Output tokens are estimated from the streamed text with counter.
func Middleware(recorder metrics.Recorder, counter tokens.Counter, logger *logx.Logger) provider.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	return func(next provider.Endpoint) provider.Endpoint {
		return provider.WrapEndpoint(next, func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
			start := time.Now()
			ch, err := next.Stream(ctx, req)
			if err != nil {
				observe(recorder, logger, next, metrics.Request{
					Kind:      string(next.Kind()),
					Model:     next.Model(),
					ErrorType: errorType(err),
					Duration:  time.Since(start),
				})
				return nil, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			}

			var (
				events int
				text   strings.Builder
				stop   string
				failed error
			)
			return provider.Tap(ctx, ch, func(ev provider.Event) {
				events++
				switch ev.Type {
				case provider.EventText, provider.EventReasoning:
					text.WriteString(ev.Text)
				case provider.EventFinish:
					stop = ev.StopReason
				case provider.EventError:
					failed = ev.Err
				case provider.EventToolCall, provider.EventToolResult:
				}
			}, func() {
				r := metrics.Request{
					Kind:       string(next.Kind()),
					Model:      next.Model(),
					Duration:   time.Since(start),
					Events:     events,
					OutTokens:  counter.Count(text.String()),
					Success:    failed == nil && ctx.Err() == nil,
					StopReason: stop,
				}
				switch {
				case failed != nil:
					r.ErrorType = errorType(failed)
				case ctx.Err() != nil:
					r.ErrorType = "canceled"
					r.StopReason = provider.StopReasonAbort
				}
				observe(recorder, logger, next, r)
			}), nil
		})
	}
}

func observe(recorder metrics.Recorder, logger *logx.Logger, ep provider.Endpoint, r metrics.Request) {
	recorder.ObserveRequest(r)
	if logger == nil {
		return
	}
	status := "success"
	if !r.Success {
		status = "error:" + r.ErrorType
	}
	logger.Info("🎯 Stream: kind=%s model=%s events=%d tokens=%d stop=%s status=%s duration=%dms",
		ep.Kind(), ep.Model(), r.Events, r.OutTokens, r.StopReason, status, r.Duration.Milliseconds())
}

// errorType labels an error for metrics.
func errorType(err error) string {
	var circuitErr *circuit.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return llmerrors.TypeOf(llmerrors.Classify(err)).String()
	}
}
