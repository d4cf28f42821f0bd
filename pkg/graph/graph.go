// Package graph executes small agent graphs: fork steps that run several nodes
// concurrently over the same input, consensus steps that have a judge score a fork's
// results, and plain nodes wired together by edges. Progress is reported as a stream of
// lifecycle events.
package graph

import (
	"fmt"
	"time"

	"agentcore/pkg/logx"
	"agentcore/pkg/provider"
	"agentcore/pkg/tokens"
	"agentcore/pkg/vfs"
)

// Defaults applied by New.
const (
	DefaultTimeout        = 5 * time.Minute
	DefaultMaxConcurrency = 3
)

// Config configures a graph.
type Config struct {
	Timeout        time.Duration // wall-clock bound for the whole run
	MaxConcurrency int           // fork members in flight at once
	FS             *vfs.FS       // scratch space shared by every node
	Tokens         tokens.Counter
	Logger         *logx.Logger
}

// NodeConfig configures one node.
type NodeConfig struct {
	ID           string // fork members default to "<fork id>_<index>"
	AgentID      string // carried on every event of the node; defaults to ID
	Endpoint     provider.Endpoint
	Instructions string // system prompt
	MaxSteps     int    // tool-loop steps over the shared filesystem; 0 means a single turn without tools
	Temperature  *float64
	Reasoning    provider.Reasoning
}

// JudgeConfig configures a consensus step.
type JudgeConfig struct {
	Endpoint     provider.Endpoint
	Instructions string // replaces the default reviewer prompt
}

type stepKind int

const (
	stepFork stepKind = iota
	stepConsensus
	stepNode
)

type step struct {
	id    string
	kind  stepKind
	nodes []NodeConfig // fork members, or the single node
	judge JudgeConfig
}

// Builder assembles a Graph. Errors are collected and reported by Build.
type Builder struct {
	cfg   Config
	steps []*step
	byID  map[string]*step
	edges [][2]string
	err   error
}

// New starts a graph definition.
func New(cfg Config) *Builder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.FS == nil {
		cfg.FS = vfs.New()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = tokens.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger("graph")
	}
	return &Builder{cfg: cfg, byID: make(map[string]*step)}
}

func (b *Builder) add(s *step) *Builder {
	if b.err != nil {
		return b
	}
	if s.id == "" {
		b.err = fmt.Errorf("graph: step id must not be empty")
		return b
	}
	if _, dup := b.byID[s.id]; dup {
		b.err = fmt.Errorf("graph: duplicate step id %q", s.id)
		return b
	}
	b.steps = append(b.steps, s)
	b.byID[s.id] = s
	return b
}

// Fork adds a step running nodes concurrently. Member ids default to "<id>_<index>".
func (b *Builder) Fork(id string, nodes []NodeConfig) *Builder {
	members := make([]NodeConfig, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			n.ID = fmt.Sprintf("%s_%d", id, i)
		}
		if n.AgentID == "" {
			n.AgentID = n.ID
		}
		if n.Endpoint == nil && b.err == nil {
			b.err = fmt.Errorf("graph: fork %q member %d has no endpoint", id, i)
		}
		members[i] = n
	}
	return b.add(&step{id: id, kind: stepFork, nodes: members})
}

// Consensus adds a judge over a fork. The judged fork is the one wired to it by an edge,
// or else the closest fork declared before it.
func (b *Builder) Consensus(id string, judge JudgeConfig) *Builder {
	if judge.Endpoint == nil && b.err == nil {
		b.err = fmt.Errorf("graph: consensus %q has no endpoint", id)
	}
	return b.add(&step{id: id, kind: stepConsensus, judge: judge})
}

// Node adds a single node.
func (b *Builder) Node(id string, cfg NodeConfig) *Builder {
	cfg.ID = id
	if cfg.AgentID == "" {
		cfg.AgentID = id
	}
	if cfg.Endpoint == nil && b.err == nil {
		b.err = fmt.Errorf("graph: node %q has no endpoint", id)
	}
	return b.add(&step{id: id, kind: stepNode, nodes: []NodeConfig{cfg}})
}

// Edge feeds the output of from into to.
func (b *Builder) Edge(from, to string) *Builder {
	b.edges = append(b.edges, [2]string{from, to})
	return b
}

// Build validates the definition and orders the steps.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("graph: no steps")
	}

	preds := make(map[string][]string, len(b.steps))
	indeg := make(map[string]int, len(b.steps))
	succ := make(map[string][]string, len(b.steps))
	for _, e := range b.edges {
		from, to := e[0], e[1]
		if _, ok := b.byID[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown step %q", from)
		}
		if _, ok := b.byID[to]; !ok {
			return nil, fmt.Errorf("graph: edge to unknown step %q", to)
		}
		if from == to {
			return nil, fmt.Errorf("graph: step %q has an edge to itself", from)
		}
		preds[to] = append(preds[to], from)
		succ[from] = append(succ[from], to)
		indeg[to]++
	}

	// Kahn's algorithm; ties keep declaration order.
	order := make([]*step, 0, len(b.steps))
	done := make(map[string]bool, len(b.steps))
	for len(order) < len(b.steps) {
		progressed := false
		for _, s := range b.steps {
			if done[s.id] || indeg[s.id] > 0 {
				continue
			}
			done[s.id] = true
			order = append(order, s)
			for _, next := range succ[s.id] {
				indeg[next]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("graph: edges form a cycle")
		}
	}

	judged := make(map[string]string)
	for i, s := range order {
		if s.kind != stepConsensus {
			continue
		}
		fork := ""
		for _, p := range preds[s.id] {
			if b.byID[p].kind == stepFork {
				fork = p
				break
			}
		}
		if fork == "" {
			for j := i - 1; j >= 0; j-- {
				if order[j].kind == stepFork {
					fork = order[j].id
					break
				}
			}
		}
		if fork == "" {
			return nil, fmt.Errorf("graph: consensus %q has no fork to judge", s.id)
		}
		judged[s.id] = fork
	}

	return &Graph{cfg: b.cfg, order: order, preds: preds, judged: judged}, nil
}

// Graph is a validated, runnable definition. It may be streamed more than once.
type Graph struct {
	cfg    Config
	order  []*step
	preds  map[string][]string
	judged map[string]string // consensus id -> fork id
}

// FS returns the scratch filesystem shared by the nodes.
func (g *Graph) FS() *vfs.FS { return g.cfg.FS }
