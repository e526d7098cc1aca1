package domain

// NodeType identifies the behaviour of a node
type NodeType string

const (
	NodeStart        NodeType = "start"
	NodeAIPrompt     NodeType = "ai_prompt"
	NodeCommand      NodeType = "command"
	NodeHTTPRequest  NodeType = "http_request"
	NodeCondition    NodeType = "condition"
	NodeLoop         NodeType = "loop"
	NodeDelay        NodeType = "delay"
	NodeNotification NodeType = "notification"
	NodeSubChain     NodeType = "sub_chain"
	NodeEnd          NodeType = "end"
)

// NodeTypes lists every known node type in canonical order
var NodeTypes = []NodeType{
	NodeStart,
	NodeAIPrompt,
	NodeCommand,
	NodeHTTPRequest,
	NodeCondition,
	NodeLoop,
	NodeDelay,
	NodeNotification,
	NodeSubChain,
	NodeEnd,
}

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Port names a socket on a node through which a connection attaches
type Port string

const (
	PortOut      Port = "out"
	PortIn       Port = "in"
	PortTrue     Port = "true"
	PortFalse    Port = "false"
	PortLoopBody Port = "loop_body"
	PortLoopDone Port = "loop_done"
)

// OutputPorts returns the ports a node of type t may leave through.
// End nodes have none.
func (t NodeType) OutputPorts() []Port {
	switch t {
	case NodeEnd:
		return nil
	case NodeCondition:
		return []Port{PortTrue, PortFalse}
	case NodeLoop:
		return []Port{PortLoopBody, PortLoopDone}
	default:
		return []Port{PortOut}
	}
}

// AllowsOutputPort reports whether p is a valid fromPort for nodes of type t
func (t NodeType) AllowsOutputPort(p Port) bool {
	for _, allowed := range t.OutputPorts() {
		if p == allowed {
			return true
		}
	}
	return false
}

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal returns true once the run can no longer change
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// LoopMode selects how a loop node decides when to stop
type LoopMode string

const (
	LoopCount LoopMode = "count"
	LoopUntil LoopMode = "until"
)

// ConditionType is the comparison a condition node applies
type ConditionType string

const (
	CondContains    ConditionType = "contains"
	CondNotContains ConditionType = "not_contains"
	CondEquals      ConditionType = "equals"
	CondNotEquals   ConditionType = "not_equals"
	CondRegex       ConditionType = "regex"
	CondGreaterThan ConditionType = "greater_than"
	CondLessThan    ConditionType = "less_than"
	CondIsEmpty     ConditionType = "is_empty"
	CondIsNotEmpty  ConditionType = "is_not_empty"
)
