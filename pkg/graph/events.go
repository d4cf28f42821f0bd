package graph

// EventType names a lifecycle event.
type EventType string

// Lifecycle events, in the order a run can produce them.
const (
	EventForkStart       EventType = "fork_start"
	EventForkPartial     EventType = "fork_partial"
	EventForkComplete    EventType = "fork_complete"
	EventConsensusStart  EventType = "consensus_start"
	EventConsensusResult EventType = "consensus_result"
	EventNodeStart       EventType = "node_start"
	EventNodeComplete    EventType = "node_complete"
	EventNodeError       EventType = "node_error"
	EventGraphError      EventType = "graph_error"
	EventGraphComplete   EventType = "graph_complete"
)

// NoIndex marks events that do not come from a fork member.
const NoIndex = -1

// NodeResult is the outcome of one fork member.
type NodeResult struct {
	NodeID  string
	AgentID string
	Index   int
	Output  string
	Err     error
}

// OK reports whether the node produced output.
func (r *NodeResult) OK() bool { return r.Err == nil }

// Verdict is the judge's decision over a fork's results.
type Verdict struct {
	Reasoning string
	Scores    map[string]float64 // by agent id
	Winner    string             // agent id, empty if none was declared
	Raw       string             // the judge's unparsed reply
}

// Event is one item of a graph run.
type Event struct {
	Type     EventType
	StepID   string // fork, consensus or node id the event belongs to
	NodeID   string // member node id for fork_partial and fork member node_error/node_start
	AgentID  string
	Index    int // position within the fork, or NoIndex
	Output   string
	Results  []NodeResult // fork_complete
	Verdict  *Verdict     // consensus_result
	Reviewer string       // consensus_start: the judge as kind/model
	Err      error        // node_error, graph_error
}
