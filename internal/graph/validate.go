package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// Level is the severity of a diagnostic
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Diagnostic describes one structural problem in a chain
type Diagnostic struct {
	Level   Level  `json:"level"`
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", d.Level, d.NodeID, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Level, d.Message)
}

// ValidationError is returned for a malformed graph. Execution never begins.
type ValidationError struct {
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Level == LevelError {
			msgs = append(msgs, d.String())
		}
	}
	return "invalid chain: " + strings.Join(msgs, "; ")
}

// Validate checks the structural invariants of a chain. Warnings never make
// a chain invalid; use Diagnose to see them.
func Validate(c *domain.Chain) error {
	var errs []Diagnostic
	for _, d := range Diagnose(c) {
		if d.Level == LevelError {
			errs = append(errs, d)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Diagnostics: errs}
	}
	return nil
}

// Diagnose returns every error and warning found in the chain
func Diagnose(c *domain.Chain) []Diagnostic {
	d := []Diagnostic{}
	if c == nil {
		return []Diagnostic{{Level: LevelError, Message: "chain is nil"}}
	}

	nodes := make(map[string]*domain.Node, len(c.Nodes))
	var starts, ends []string
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.ID == "" {
			d = append(d, Diagnostic{Level: LevelError, Message: fmt.Sprintf("node %d has no id", i)})
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			d = append(d, Diagnostic{Level: LevelError, NodeID: n.ID, Message: "duplicate node id"})
			continue
		}
		nodes[n.ID] = n
		if !n.Type.Valid() {
			d = append(d, Diagnostic{Level: LevelError, NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
		}
		switch n.Type {
		case domain.NodeStart:
			starts = append(starts, n.ID)
		case domain.NodeEnd:
			ends = append(ends, n.ID)
		}
	}

	incoming := map[string]int{}
	used := map[string]bool{}
	for _, conn := range c.Connections {
		from, okFrom := nodes[conn.FromNodeID]
		if !okFrom {
			d = append(d, Diagnostic{Level: LevelError, Message: fmt.Sprintf("connection %s: source node %q does not exist", conn.ID, conn.FromNodeID)})
		}
		if _, ok := nodes[conn.ToNodeID]; !ok {
			d = append(d, Diagnostic{Level: LevelError, Message: fmt.Sprintf("connection %s: target node %q does not exist", conn.ID, conn.ToNodeID)})
		}
		if !okFrom {
			continue
		}
		port := conn.SourcePort()
		if from.Type.Valid() && !from.Type.AllowsOutputPort(port) {
			d = append(d, Diagnostic{Level: LevelError, NodeID: from.ID, Message: fmt.Sprintf("port %q is not valid for %s nodes", port, from.Type)})
		}
		key := from.ID + "\x00" + string(port)
		if used[key] {
			d = append(d, Diagnostic{Level: LevelError, NodeID: from.ID, Message: fmt.Sprintf("more than one connection leaves port %q", port)})
		}
		used[key] = true
		incoming[conn.ToNodeID]++
	}

	switch len(starts) {
	case 0:
		d = append(d, Diagnostic{Level: LevelError, Message: "chain has no start node"})
	case 1:
		if incoming[starts[0]] > 0 {
			d = append(d, Diagnostic{Level: LevelError, NodeID: starts[0], Message: "start node cannot have incoming connections"})
		}
	default:
		sort.Strings(starts)
		d = append(d, Diagnostic{Level: LevelError, Message: fmt.Sprintf("chain has %d start nodes (%s), want exactly one", len(starts), strings.Join(starts, ", "))})
	}
	if len(ends) == 0 {
		d = append(d, Diagnostic{Level: LevelError, Message: "chain has no end node"})
	}

	if len(starts) == 1 {
		reach := Reachable(c, starts[0])
		ids := make([]string, 0, len(nodes))
		for id := range nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !reach[id] {
				d = append(d, Diagnostic{Level: LevelWarning, NodeID: id, Message: "node is unreachable from start and will never run"})
			}
		}
		reachesEnd := false
		for _, id := range ends {
			if reach[id] {
				reachesEnd = true
			}
		}
		if len(ends) > 0 && !reachesEnd {
			d = append(d, Diagnostic{Level: LevelWarning, Message: "no end node is reachable from start"})
		}
	}

	for _, n := range c.Nodes {
		if n.Type != domain.NodeLoop {
			continue
		}
		if !hasPort(c, n.ID, domain.PortLoopBody) {
			d = append(d, Diagnostic{Level: LevelWarning, NodeID: n.ID, Message: "loop has no loop_body connection"})
		}
	}
	for _, id := range unboundedCycles(c, nodes) {
		d = append(d, Diagnostic{Level: LevelWarning, NodeID: id, Message: "node is on a cycle without a loop node; the run stops only at the step limit"})
	}

	return d
}

// unboundedCycles returns the nodes that can reach themselves without
// passing through a loop node, sorted by id
func unboundedCycles(c *domain.Chain, nodes map[string]*domain.Node) []string {
	adj := map[string][]string{}
	for _, conn := range c.Connections {
		from, okFrom := nodes[conn.FromNodeID]
		to, okTo := nodes[conn.ToNodeID]
		if !okFrom || !okTo || from.Type == domain.NodeLoop || to.Type == domain.NodeLoop {
			continue
		}
		adj[from.ID] = append(adj[from.ID], to.ID)
	}

	var out []string
	for id := range adj {
		seen := map[string]bool{}
		stack := append([]string(nil), adj[id]...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n == id {
				out = append(out, id)
				break
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			stack = append(stack, adj[n]...)
		}
	}
	sort.Strings(out)
	return out
}

// Reachable returns the set of node ids reachable from the given node
func Reachable(c *domain.Chain, from string) map[string]bool {
	adj := map[string][]string{}
	for _, conn := range c.Connections {
		adj[conn.FromNodeID] = append(adj[conn.FromNodeID], conn.ToNodeID)
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func hasPort(c *domain.Chain, nodeID string, port domain.Port) bool {
	for _, conn := range c.Connections {
		if conn.FromNodeID == nodeID && conn.SourcePort() == port {
			return true
		}
	}
	return false
}
