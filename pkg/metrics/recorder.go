// Package metrics records provider request and run outcome metrics.
package metrics

import (
	"time"
)

// Request describes one finished provider stream for metrics purposes.
type Request struct {
	Kind       string
	Model      string
	ErrorType  string // empty on success
	Duration   time.Duration
	Events     int
	OutTokens  int
	Success    bool
	StopReason string
}

// Recorder defines the interface for recording provider and run metrics.
type Recorder interface {
	// ObserveRequest records a completed provider stream.
	ObserveRequest(r Request)

	// IncCircuitOpen counts requests rejected by an open circuit breaker.
	IncCircuitOpen(kind, model string)

	// ObserveRun records the terminal outcome of an orchestrator run.
	// mode is "chat", "agent" or "consensus"; outcome is a stop reason or "error".
	ObserveRun(mode, outcome string, duration time.Duration)

	// IncNodeFailure counts consensus node failures by criticality.
	IncNodeFailure(critical bool)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_ Request) {}
func (n *NoopRecorder) IncCircuitOpen(_, _ string) {}
func (n *NoopRecorder) ObserveRun(_, _ string, _ time.Duration) {}
func (n *NoopRecorder) IncNodeFailure(_ bool) {}
