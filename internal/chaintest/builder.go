// Package chaintest builds chains for tests.
package chaintest

import (
	"fmt"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// Builder assembles a chain node by node
type Builder struct {
	chain *domain.Chain
}

// New starts a chain with the given id; the name defaults to the id
func New(id string) *Builder {
	return &Builder{chain: &domain.Chain{ID: id, Name: id}}
}

// Node adds a node. cfg may be nil.
func (b *Builder) Node(id string, typ domain.NodeType, cfg map[string]any) *Builder {
	b.chain.Nodes = append(b.chain.Nodes, domain.Node{ID: id, Type: typ, Name: id, Config: cfg})
	return b
}

// Connect links from's port to to's input
func (b *Builder) Connect(from string, port domain.Port, to string) *Builder {
	b.chain.Connections = append(b.chain.Connections, domain.Connection{
		ID:         fmt.Sprintf("c%d", len(b.chain.Connections)+1),
		FromNodeID: from,
		FromPort:   port,
		ToNodeID:   to,
		ToPort:     domain.PortIn,
	})
	return b
}

// Line connects each id to the next through its out port
func (b *Builder) Line(ids ...string) *Builder {
	for i := 0; i+1 < len(ids); i++ {
		b.Connect(ids[i], domain.PortOut, ids[i+1])
	}
	return b
}

// Build returns the chain
func (b *Builder) Build() *domain.Chain {
	return b.chain
}

// Linear returns start -> nodes... -> end with the given middle nodes
func Linear(id string, middle ...domain.Node) *domain.Chain {
	b := New(id).Node("start", domain.NodeStart, nil)
	ids := []string{"start"}
	for _, n := range middle {
		b.chain.Nodes = append(b.chain.Nodes, n)
		ids = append(ids, n.ID)
	}
	b.Node("end", domain.NodeEnd, nil)
	ids = append(ids, "end")
	return b.Line(ids...).Build()
}
