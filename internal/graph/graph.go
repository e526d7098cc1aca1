// Package graph indexes a chain snapshot for traversal and validates its structure.
package graph

import (
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// Graph is a read-only index over a chain snapshot
type Graph struct {
	chain *domain.Chain
	nodes map[string]*domain.Node
	next  map[string]map[domain.Port]string
	start string
}

// New indexes the chain. The chain must not be modified afterwards;
// callers pass a snapshot taken with Chain.Clone.
func New(c *domain.Chain) *Graph {
	g := &Graph{
		chain: c,
		nodes: make(map[string]*domain.Node, len(c.Nodes)),
		next:  make(map[string]map[domain.Port]string),
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		g.nodes[n.ID] = n
		if n.Type == domain.NodeStart && g.start == "" {
			g.start = n.ID
		}
	}
	for _, conn := range c.Connections {
		ports, ok := g.next[conn.FromNodeID]
		if !ok {
			ports = make(map[domain.Port]string)
			g.next[conn.FromNodeID] = ports
		}
		// first connection wins; Validate rejects duplicates
		if _, exists := ports[conn.SourcePort()]; !exists {
			ports[conn.SourcePort()] = conn.ToNodeID
		}
	}
	return g
}

// Chain returns the underlying snapshot
func (g *Graph) Chain() *domain.Chain {
	return g.chain
}

// Start returns the id of the start node, or "" if there is none
func (g *Graph) Start() string {
	return g.start
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (*domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NextNode returns the target of the connection leaving id through port.
// The boolean is false at a dead end.
func (g *Graph) NextNode(id string, port domain.Port) (string, bool) {
	to, ok := g.next[id][port]
	return to, ok
}

// Body is the subgraph executed once per loop iteration
type Body struct {
	LoopID string
	Entry  string
	Nodes  map[string]bool
	// Reentries holds the body nodes with a connection back into the loop node
	Reentries map[string]bool
}

// Empty reports whether the loop has nothing to execute
func (b Body) Empty() bool {
	return b.Entry == ""
}

// Contains reports whether id belongs to the body
func (b Body) Contains(id string) bool {
	return b.Nodes[id]
}

// LoopBody returns the nodes reachable from the loop_body port of loopID,
// stopping at connections that lead back into the loop node and at nodes
// with no further outgoing connection.
func (g *Graph) LoopBody(loopID string) Body {
	body := Body{LoopID: loopID, Nodes: map[string]bool{}, Reentries: map[string]bool{}}
	entry, ok := g.NextNode(loopID, domain.PortLoopBody)
	if !ok || entry == loopID {
		return body
	}
	body.Entry = entry
	body.Nodes[entry] = true
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range g.next[id] {
			if to == loopID {
				body.Reentries[id] = true
				continue
			}
			if !body.Nodes[to] {
				body.Nodes[to] = true
				queue = append(queue, to)
			}
		}
	}
	return body
}
