// Package circuit stops sending requests to a provider model that keeps failing.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
)

// State of one model's circuit.
type State int

const (
	Closed   State = iota // requests flow
	Open                  // requests are rejected until the cool-down passes
	HalfOpen              // requests flow; the next outcomes decide
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config sets when a circuit opens and how it recovers.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures that open a closed circuit
	SuccessThreshold int           `json:"success_threshold"` // successes in half-open that close it again
	Timeout          time.Duration `json:"timeout"`           // cool-down before an open circuit lets requests through
}

// DefaultConfig is used when resilience settings leave the breaker unconfigured.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Error is returned instead of calling the endpoint while its circuit is open.
type Error struct {
	Endpoint string // kind/model
	State    State
}

func (e *Error) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("circuit breaker is %s", e.State)
	}
	return fmt.Sprintf("circuit breaker for %s is %s", e.Endpoint, e.State)
}

type circuit struct {
	state    State
	failures int
	trials   int
	openedAt time.Time
}

// Set keeps one circuit per kind and model, so every endpoint resolved for the same
// model shares its failure history.
type Set struct {
	config   Config
	recorder metrics.Recorder
	now      func() time.Time
	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewSet creates a set with every circuit closed.
func NewSet(config Config, recorder metrics.Recorder) *Set {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Set{config: config, recorder: recorder, now: time.Now, circuits: make(map[string]*circuit)}
}

func key(kind provider.Kind, model string) string { return string(kind) + "/" + model }

// State reports the circuit of kind and model.
func (s *Set) State(kind provider.Kind, model string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.circuits[key(kind, model)]; ok {
		return c.state
	}
	return Closed
}

// Reset closes the circuit of kind and model.
func (s *Set) Reset(kind provider.Kind, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, key(kind, model))
}

// admit decides whether a request to id may go out. An open circuit whose cool-down
// has passed moves to half-open and admits it.
func (s *Set) admit(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[id]
	if !ok {
		return Closed, true
	}
	if c.state == Open {
		if s.now().Sub(c.openedAt) < s.config.Timeout {
			return Open, false
		}
		c.state = HalfOpen
		c.trials = 0
	}
	return c.state, true
}

// report records the outcome of an admitted request.
func (s *Set) report(id string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[id]
	if !ok {
		if success {
			return
		}
		c = &circuit{}
		s.circuits[id] = c
	}

	if success {
		switch c.state {
		case Closed:
			c.failures = 0
		case HalfOpen:
			c.trials++
			if c.trials >= s.config.SuccessThreshold {
				delete(s.circuits, id)
			}
		case Open:
		}
		return
	}

	c.failures++
	switch c.state {
	case Closed:
		if c.failures >= s.config.FailureThreshold {
			c.state = Open
			c.openedAt = s.now()
		}
	case HalfOpen:
		// A failed trial reopens at once.
		c.state = Open
		c.openedAt = s.now()
	case Open:
	}
}

// Factory adapts the set to provider.WithMiddleware.
func (s *Set) Factory() provider.MiddlewareFactory {
	return func(provider.Settings) provider.Middleware {
		return s.Middleware()
	}
}
